package main

import (
	"CardDetServer/tracker"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCards(t *testing.T) {
	out := renderCards([]scanResult{
		{Fingerprint: "1A2B", FirstFrame: 2, Confidence: 4, Confirmed: true},
		{Fingerprint: "CAFE", FirstFrame: 40, Confidence: 1.75},
	})
	assert.Contains(t, out, "Fingerprint")
	assert.Contains(t, out, "1A2B")
	assert.Contains(t, out, "4.00")
	assert.Contains(t, out, "1.75")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "no")
	assert.Contains(t, out, "2 cards")
	assert.Contains(t, out, "1 still")
	// rounded borders, header, two rows, footer and its separator
	assert.Len(t, strings.Split(out, "\n"), 8)
}

func TestSummarize(t *testing.T) {
	tr := tracker.NewDefault()
	d := func(fp string) []tracker.Detection { return []tracker.Detection{{Fingerprint: fp}} }
	for i := 0; i < 3; i++ {
		tr.Update(d("1A2B"))
	}
	for i := 0; i < 3; i++ {
		tr.Update(d("FFFF"))
	}

	results := summarize(map[string]int{"FFFF": 5, "1A2B": 2, "GONE": 3}, tr)
	require.Len(t, results, 3)
	assert.Equal(t, "1A2B", results[0].Fingerprint)
	assert.Equal(t, 1.0, results[0].Confidence)
	assert.False(t, results[0].Confirmed)
	assert.Equal(t, "GONE", results[1].Fingerprint)
	assert.Equal(t, 0.0, results[1].Confidence)
	assert.Equal(t, "FFFF", results[2].Fingerprint)
	assert.Equal(t, 3.0, results[2].Confidence)
	assert.True(t, results[2].Confirmed)
}
