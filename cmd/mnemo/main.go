// Command mnemo is a maintenance CLI for a mnemo memory database: run the
// consolidation/decay pass, rebuild vector indexes, and print stats.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/pkg/metrics"
	"github.com/mnemo-ai/mnemo/pkg/mnemo"
	"github.com/mnemo-ai/mnemo/pkg/store"
)

var (
	dbPath        string
	openAIKey     string
	userID        string
	metricsListen string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mnemo",
		Short: "Maintenance tooling for a mnemo memory database",
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "mnemo.db", "path to the SQLite database")
	rootCmd.PersistentFlags().StringVar(&openAIKey, "openai-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key (defaults to OPENAI_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "limit the command to one user")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "address serving Prometheus metrics at /metrics (disabled when empty)")

	rootCmd.AddCommand(maintainCmd(), watchCmd(), rebuildIndexCmd(), statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEngine() (*mnemo.Engine, error) {
	cfg := mnemo.DefaultConfig()
	cfg.DBPath = dbPath
	cfg.OpenAIKey = openAIKey

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	opts := []mnemo.Option{mnemo.WithLogger(logger)}

	if metricsListen != "" {
		collector := metrics.NewCollector()
		opts = append(opts, mnemo.WithMetrics(collector))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsListen, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "addr", metricsListen, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", metricsListen)
	}

	return mnemo.New(cfg, opts...)
}

func targetUsers(ctx context.Context, engine *mnemo.Engine) ([]string, error) {
	if userID != "" {
		return []string{userID}, nil
	}
	return engine.Users(ctx)
}

func maintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run one maintenance pass: expiry sweep, embedding retry, consolidation, decay",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			users, err := targetUsers(ctx, engine)
			if err != nil {
				return err
			}

			for _, u := range users {
				result, err := engine.RunMaintenance(ctx, u)
				if err != nil {
					return fmt.Errorf("maintenance for user %s: %w", u, err)
				}
				fmt.Printf("%s: consolidated=%d decayed=%d expired=%d embeddings_recovered=%d\n",
					u, result.Consolidated, result.Decayed, result.ExpiredDeleted, result.EmbeddingsRecovered)
			}
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	var interval time.Duration
	var concurrency int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run maintenance for all users on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := mnemo.NewScheduler(engine, interval, concurrency)
			if err := scheduler.RunOnce(ctx); err != nil {
				return err
			}
			scheduler.Start(ctx)
			<-ctx.Done()
			scheduler.Stop()
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "time between maintenance passes")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "users maintained in parallel")
	return cmd
}

func rebuildIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the in-memory vector index from stored embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			users, err := targetUsers(ctx, engine)
			if err != nil {
				return err
			}

			for _, u := range users {
				if err := engine.RebuildIndex(ctx, u); err != nil {
					return fmt.Errorf("rebuild for user %s: %w", u, err)
				}
				fmt.Printf("%s: index rebuilt\n", u)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print memory counts and consolidation history per user",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			users, err := targetUsers(ctx, engine)
			if err != nil {
				return err
			}

			for _, u := range users {
				count, err := engine.CountMemories(ctx, u)
				if err != nil {
					return err
				}
				superseded, err := engine.SupersededMemories(ctx, u)
				if err != nil {
					return err
				}
				log, err := engine.ConsolidationLog(ctx, u)
				if err != nil {
					return err
				}
				pending, err := engine.Query(ctx, u, store.QueryFilter{})
				if err != nil {
					return err
				}
				pendingCount := 0
				for _, m := range pending {
					if m.EmbeddingStatus == store.EmbeddingPending {
						pendingCount++
					}
				}
				fmt.Printf("%s: memories=%d superseded=%d consolidations=%d pending_embeddings=%d\n",
					u, count, len(superseded), len(log), pendingCount)
			}
			return nil
		},
	}
}
