package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	colFingerprint = "Fingerprint"
	colFirstFrame  = "First Frame"
	colConfidence  = "Confidence"
	colConfirmed   = "Confirmed"
)

// renderCards 以表格形式输出扫描结果，最后一行汇总仍处于确认状态的卡片数
func renderCards(results []scanResult) string {
	style := table.StyleRounded
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	tw := table.NewWriter()
	tw.SetStyle(style)
	tw.AppendHeader(table.Row{colFingerprint, colFirstFrame, colConfidence, colConfirmed})

	still := 0
	for _, r := range results {
		if r.Confirmed {
			still++
		}
		tw.AppendRow(table.Row{r.Fingerprint, r.FirstFrame, r.Confidence, r.Confirmed})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d cards", len(results)), "", "", fmt.Sprintf("%d still", still)})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: colFingerprint, AlignHeader: text.AlignLeft},
		{Name: colFirstFrame, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{
			Name:        colConfidence,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
			Transformer: func(val interface{}) string {
				if c, ok := val.(float64); ok {
					return fmt.Sprintf("%.2f", c)
				}
				return fmt.Sprint(val)
			},
		},
		{
			Name:        colConfirmed,
			AlignHeader: text.AlignLeft,
			Transformer: func(val interface{}) string {
				if b, ok := val.(bool); ok {
					if b {
						return "yes"
					}
					return "no"
				}
				return fmt.Sprint(val)
			},
		},
	})
	return tw.Render()
}
