package main

import (
	adhoc "CardDetServer/Adhoc"
	"CardDetServer/api"
	"CardDetServer/config"
	"CardDetServer/logger"
	"CardDetServer/monitor"
	"CardDetServer/session"
	"CardDetServer/store"
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func printBanner(cfg config.Config) {
	fmt.Println(strings.Repeat("#", 64))
	cpuNum := runtime.NumCPU()
	fmt.Printf("CPU Cores: %d\n", cpuNum)
	fmt.Println(" HTTP    Port:", cfg.HTTPPort)
	fmt.Println(" Metrics Port:", cfg.MetricsPort)
	fmt.Println("Max Sessions:", cfg.MaxSessions)
	fmt.Println("Idle Timeout:", cfg.IdleTimeout())
	if cfg.StorePath != "" {
		fmt.Println("Card Store:", cfg.StorePath)
	}
	fmt.Println(strings.Repeat("#", 64))
	if cfg.MaxSessions > cpuNum {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Please noted that maxSessions exceeds CPU cores, which may lead to performance degradation.")
		fmt.Println(strings.Repeat("!", 64))
	}
	fmt.Println("")
}

func runServe(ctx context.Context, cfg config.Config) error {
	if err := logger.Init(cfg.LogMode, cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Sync()
	printBanner(cfg)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := session.NewManager(session.Options{
		MaxSessions: cfg.MaxSessions,
		IdleTimeout: cfg.IdleTimeout(),
		Detector:    cfg.Detector,
		Tracker:     cfg.Tracker,
	}, st)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if cfg.UseRegServer {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			return fmt.Errorf("get outbound IP: %w", err)
		}
		fmt.Println("Outbound IP:", ip)
		adhoc.RegServerCfg = adhoc.RegServerConfig{}
		adhoc.RegServerCfg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		wg.Add(1)
		go adhoc.SendAliveMessage(ip, cfg.HTTPPort, adhoc.InstanceClass(cfg.InstanceClass), m.Len, ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
	}

	if cfg.MetricsPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.StartMon(cfg.MetricsPort, ctx)
		}()
	}

	if cfg.LogMode == logger.ModeProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.NewRouter(m, st),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Log().Info("server started", zap.Int("port", cfg.HTTPPort))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			cancel()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Log().Info("shutting down")
	// websocket connections are hijacked, closing the sessions ends them
	m.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("http server shutdown error", zap.Error(err))
	}
	cancel()
	wg.Wait()
	fmt.Println("Safely exited")
	return nil
}
