package monitor

import (
	"CardDetServer/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const (
	ResultProcessed = "processed"
	ResultSkipped   = "skipped"
)

var (
	PID      process.Process
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carddet_frames_total",
		Help: "Total number of frames received, by result",
	}, []string{"result"})
	CandidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carddet_candidates_total",
		Help: "Total number of fingerprinted candidate regions",
	})
	CardsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "carddet_cards_confirmed_total",
		Help: "Total number of newly confirmed cards",
	})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carddet_active_sessions",
		Help: "Number of live sessions",
	})
	FrameSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "carddet_frame_seconds",
		Help:    "Per-frame processing time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, FramesTotal, CandidatesTotal, CardsConfirmed, ActiveSessions, FrameSeconds)
}

// ObserveFrame 记录一帧的处理结果
func ObserveFrame(skipped bool, candidates, confirmed int, elapsed time.Duration) {
	if skipped {
		FramesTotal.WithLabelValues(ResultSkipped).Inc()
		return
	}
	FramesTotal.WithLabelValues(ResultProcessed).Inc()
	CandidatesTotal.Add(float64(candidates))
	CardsConfirmed.Add(float64(confirmed))
	FrameSeconds.Observe(elapsed.Seconds())
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func prom(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
	return srv
}

func CheckProcessInfo() {
	memInfo, err := PID.MemoryInfo()
	if err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := PID.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

func GotPID() {
	PID.Pid = int32(os.Getpid())
}

// StartMon 启动 /metrics 服务并每 500ms 采样一次进程信息，ctx 取消后退出
func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	srv := prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("prometheus server Shutdown error", zap.Error(err))
	}
}
