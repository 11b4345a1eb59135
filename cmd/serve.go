package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for qualification requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		// Background freshness checker.
		collector := monitoring.NewCollector(e.store, cfg.Policy.FreshnessWindow())
		checker := monitoring.NewChecker(collector, cfg.Monitoring)
		go checker.Run(ctx)

		mux := buildMux(ctx, e, collector)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func buildMux(ctx context.Context, e *env, collector *monitoring.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /freshness", func(w http.ResponseWriter, r *http.Request) {
		if collector == nil {
			http.Error(w, `{"error":"monitoring unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		snap, err := collector.Collect(r.Context())
		if err != nil {
			http.Error(w, `{"error":"collect failed"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	mux.HandleFunc("POST /webhook/qualify", func(w http.ResponseWriter, r *http.Request) {
		var product model.Product
		if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if len(product.Components) == 0 {
			http.Error(w, `{"error":"components are required"}`, http.StatusBadRequest)
			return
		}

		// Qualification runs asynchronously; callers poll the run record.
		go func() {
			if e == nil {
				return
			}
			result, err := e.engine.Qualify(ctx, product)
			if err != nil {
				zap.L().Error("webhook qualification failed",
					zap.String("product", product.Name),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("webhook qualification complete",
				zap.String("product", product.Name),
				zap.String("run_id", result.RunID),
				zap.String("qualified", string(result.Verdict.Qualified)),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "accepted",
			"product": product.Name,
		})
	})

	return mux
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
