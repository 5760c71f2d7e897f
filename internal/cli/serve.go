package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harvestly/warden/internal/config"
	"github.com/harvestly/warden/internal/server"
	"github.com/harvestly/warden/pkg/alerting"
	"github.com/harvestly/warden/pkg/governor"
	"github.com/harvestly/warden/pkg/health"
	"github.com/harvestly/warden/pkg/metrics"
	"github.com/harvestly/warden/pkg/model"
	"github.com/harvestly/warden/pkg/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warden daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)

	store, err := initStore(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	dispatcher, err := initDispatcher(cfg, logger)
	if err != nil {
		return fmt.Errorf("init channels: %w", err)
	}

	flushInterval, _ := time.ParseDuration(cfg.Metrics.FlushInterval)
	metricsStore := metrics.NewStore(metrics.Config{
		FlushInterval: flushInterval,
		BatchSize:     cfg.Metrics.BatchSize,
		RetentionDays: cfg.Metrics.RetentionDays,
	}, store, logger)

	alertMgr := alerting.NewManager(alerting.Config{
		Cooldown:      time.Duration(cfg.Alerts.CooldownSeconds) * time.Second,
		RetentionDays: cfg.Alerts.RetentionDays,
	}, dispatcher, store, logger)

	monitorInterval, _ := time.ParseDuration(cfg.Governor.MonitorInterval)
	gov := governor.New(governor.Config{
		AutoThrottle:    cfg.Governor.AutoThrottle,
		MonitorInterval: monitorInterval,
	}, alertMgr, metricsStore, logger)

	limits, err := cfg.ResourceLimits()
	if err != nil {
		return fmt.Errorf("load limits: %w", err)
	}
	for _, limit := range limits {
		if err := gov.SetLimit(limit); err != nil {
			return fmt.Errorf("register limit: %w", err)
		}
	}

	runner := health.NewRunner(metricsStore, logger)
	registerBuiltinProbes(cfg, runner, metricsStore, dispatcher)

	// Health transitions feed the alert path so operators hear about
	// flapping components through the same channels.
	runner.OnTransition(func(name string, from, to model.HealthStatus, h model.ComponentHealth) {
		if to == model.StatusUnhealthy {
			alertMgr.Raise(
				fmt.Sprintf("Component %s unhealthy", name),
				fmt.Sprintf("%s transitioned %s -> %s after %d consecutive failures: %s",
					name, from, to, h.ConsecutiveFailures, h.Message),
				model.LevelError, "health", map[string]string{"component": name},
			)
		}
		if from == model.StatusUnhealthy && to == model.StatusHealthy {
			alertMgr.Raise(
				fmt.Sprintf("Component %s recovered", name),
				fmt.Sprintf("%s transitioned %s -> %s", name, from, to),
				model.LevelInfo, "health", map[string]string{"component": name},
			)
		}
	})

	apiServer := server.NewServer(gov, runner, alertMgr, metricsStore, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){
		metricsStore.Run,
		alertMgr.Run,
		gov.Run,
		runner.Run,
	} {
		wg.Add(1)
		go func(loop func(context.Context)) {
			defer wg.Done()
			loop(ctx)
		}(loop)
	}

	// Daily metrics retention pass.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := metricsStore.Cleanup(ctx, cfg.Metrics.RetentionDays); err != nil {
					logger.Error("metrics cleanup failed", "error", err)
				}
			}
		}
	}()

	readTimeout, _ := time.ParseDuration(cfg.Server.ReadTimeout)
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout, _ := time.ParseDuration(cfg.Server.WriteTimeout)
	if writeTimeout == 0 {
		writeTimeout = 60 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("warden started", "listen", cfg.Server.Listen, "limits", len(limits))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		stop()
		wg.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// registerBuiltinProbes wires the daemon's own dependencies into the
// health report: the storage backend and every notification channel's
// delivery streak.
func registerBuiltinProbes(cfg *config.Config, runner *health.Runner, store *metrics.Store, dispatcher *notify.Dispatcher) {
	interval, _ := time.ParseDuration(cfg.Health.DefaultInterval)
	timeout, _ := time.ParseDuration(cfg.Health.DefaultTimeout)

	_ = runner.RegisterProbe(health.Spec{
		Name: "storage",
		Type: "backend",
		Probe: func(ctx context.Context) health.ProbeResult {
			_, err := store.Query(ctx, model.MetricFilter{Limit: 1})
			if err != nil {
				return health.ProbeResult{OK: false, Message: err.Error()}
			}
			return health.ProbeResult{OK: true}
		},
		Interval: interval,
		Timeout:  timeout,
		Retries:  cfg.Health.DefaultRetries,
		Critical: true,
		Enabled:  true,
	})

	for _, name := range dispatcher.Channels() {
		channelName := name
		_ = runner.RegisterProbe(health.Spec{
			Name: "channel:" + channelName,
			Type: "notification",
			Probe: func(_ context.Context) health.ProbeResult {
				streak := dispatcher.FailureStreak(channelName)
				if streak >= 3 {
					return health.ProbeResult{
						OK:      false,
						Message: fmt.Sprintf("%d consecutive delivery failures", streak),
					}
				}
				return health.ProbeResult{OK: true}
			},
			Interval: interval,
			Timeout:  timeout,
			Enabled:  true,
		})
	}
}
