package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/activities"
	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/httpapi"
	_ "github.com/fathomlabs/fathom/internal/metrics" // Import for side effects
	"github.com/fathomlabs/fathom/internal/temporal"
	"github.com/fathomlabs/fathom/internal/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Metrics and health endpoints come up first so probes respond while
	// the Temporal connection is still being established.
	if cfg.Observability.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			addr := ":" + strconv.Itoa(cfg.MetricsPort())
			logger.Info("Metrics server listening", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// Search cache is optional: without Redis every retried search is
	// re-executed against the agent service.
	var cache *activities.SearchCache
	if addr := getEnvOrDefault("REDIS_ADDR", ""); addr != "" {
		cache, err = activities.NewSearchCache(addr, os.Getenv("REDIS_PASSWORD"), 0, logger)
		if err != nil {
			logger.Warn("Search cache unavailable, continuing without it", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
			logger.Info("Search cache connected", zap.String("addr", addr))
		}
	}

	agents := activities.NewAgents(activities.AgentsConfig{
		BaseURL:       cfg.AgentService.BaseURL,
		Timeout:       cfg.AgentTimeout(),
		RatePerSecond: cfg.AgentService.RatePerSecond,
		RateBurst:     cfg.AgentService.RateBurst,
	}, cache, logger)

	// Report persistence is optional the same way: enabled only when a
	// Postgres host is configured.
	var persistence *activities.Persistence
	if host := getEnvOrDefault("POSTGRES_HOST", ""); host != "" {
		persistence, err = activities.NewPersistence(activities.PersistenceConfig{
			Host:     host,
			Port:     getEnvOrDefaultInt("POSTGRES_PORT", 5432),
			User:     getEnvOrDefault("POSTGRES_USER", "fathom"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", "fathom"),
			Database: getEnvOrDefault("POSTGRES_DB", "fathom"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}, logger)
		if err != nil {
			logger.Warn("Report store unavailable, continuing without it", zap.Error(err))
			persistence = nil
		} else {
			defer persistence.Close()
			logger.Info("Report store connected", zap.String("host", host))
		}
	}

	host := getEnvOrDefault("TEMPORAL_HOST", "temporal:7233")
	// TCP pre-check
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
		time.Sleep(1 * time.Second)
	}

	// Dial SDK with retry
	var tClient client.Client
	for attempt := 1; ; attempt++ {
		tClient, err = client.Dial(client.Options{HostPort: host, Logger: temporal.NewZapAdapter(logger)})
		if err == nil {
			break
		}
		delay := time.Duration(attempt)
		if delay > 15 {
			delay = 15
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt), zap.String("host", host),
			zap.Duration("sleep", delay*time.Second), zap.Error(err))
		time.Sleep(delay * time.Second)
	}
	defer tClient.Close()

	if cfg.API.Enabled {
		srv := httpapi.StartResearchServer(cfg.APIPort(), tClient, cfg.Research, logger)
		defer srv.Shutdown(context.Background())
	}

	wk := worker.New(tClient, workflows.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT_SIZE", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF_SIZE", 10),
	})

	wk.RegisterWorkflow(workflows.DeepResearchWorkflow)

	wk.RegisterActivityWithOptions(agents.ProposeSubTopics, activity.RegisterOptions{Name: "ProposeSubTopics"})
	wk.RegisterActivityWithOptions(agents.BuildSearchPlan, activity.RegisterOptions{Name: "BuildSearchPlan"})
	wk.RegisterActivityWithOptions(agents.RunSearch, activity.RegisterOptions{Name: "RunSearch"})
	wk.RegisterActivityWithOptions(agents.FundamentalsAnalysis, activity.RegisterOptions{Name: "FundamentalsAnalysis"})
	wk.RegisterActivityWithOptions(agents.RiskAnalysis, activity.RegisterOptions{Name: "RiskAnalysis"})
	wk.RegisterActivityWithOptions(agents.WriteReport, activity.RegisterOptions{Name: "WriteReport"})
	wk.RegisterActivityWithOptions(agents.VerifyReport, activity.RegisterOptions{Name: "VerifyReport"})

	if persistence != nil {
		wk.RegisterActivityWithOptions(persistence.PersistReport, activity.RegisterOptions{Name: "PersistReport"})
		wk.RegisterActivityWithOptions(persistence.PersistIteration, activity.RegisterOptions{Name: "PersistIteration"})
	} else {
		// No-op stubs so runs without Postgres do not queue failing tasks.
		// Completion metrics are still recorded here so they track every
		// finished run, not just persisted ones.
		wk.RegisterActivityWithOptions(
			func(ctx context.Context, in activities.PersistReportInput) error {
				activities.RecordRunCompletion(in)
				return nil
			},
			activity.RegisterOptions{Name: "PersistReport"},
		)
		wk.RegisterActivityWithOptions(
			func(ctx context.Context, in activities.PersistIterationInput) error { return nil },
			activity.RegisterOptions{Name: "PersistIteration"},
		)
	}

	logger.Info("Temporal worker started", zap.String("queue", workflows.TaskQueue))
	if err := wk.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("Temporal worker exited with error", zap.Error(err))
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
