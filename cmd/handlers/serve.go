package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"storyline/internal/logger"
)

// NewServeCmd creates the serve command: a small HTTP surface that lets
// the ingestion collaborator trigger analysis runs.
func NewServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis trigger endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			var running atomic.Bool

			mux := http.NewServeMux()
			mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
				status := "idle"
				if running.Load() {
					status = "running"
				}
				writeJSON(w, http.StatusOK, map[string]string{"service": "storyline", "status": status})
			})
			mux.HandleFunc("POST /trigger-analysis", func(w http.ResponseWriter, r *http.Request) {
				if !running.CompareAndSwap(false, true) {
					writeJSON(w, http.StatusConflict, map[string]string{"error": "analysis already running"})
					return
				}

				go func() {
					defer running.Store(false)
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
					defer cancel()

					stats, err := rt.Pipeline.Run(ctx)
					if err != nil {
						logger.Error("Triggered analysis run failed", err)
						return
					}
					logger.Info("Triggered analysis run finished",
						"run_id", stats.RunID, "stories", stats.StoriesCreated)
				}()

				writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
			})

			addr := fmt.Sprintf(":%d", port)
			logger.Info("Serving analysis endpoint", "addr", addr)

			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return server.ListenAndServe()
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	return cmd
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", err)
	}
}
