package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/job"
	"github.com/sells-group/enrich-engine/internal/schedule"
	"github.com/sells-group/enrich-engine/internal/store"
)

var (
	servePort     int
	serveTemporal bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment API server",
	Long:  "Accepts enrichment requests over HTTP. With --temporal, accepted jobs are handed to the workflow scheduler; otherwise they run in-process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var dispatch func(jobID string, skipCache bool)
		if serveTemporal {
			tc, err := schedule.Dial(cfg.Temporal)
			if err != nil {
				return err
			}
			defer tc.Close()
			dispatch = func(jobID string, skipCache bool) {
				in := schedule.EnrichJobInput{JobID: jobID, SkipCache: skipCache}
				if err := schedule.StartJob(ctx, tc, cfg.Temporal.TaskQueue, in); err != nil {
					zap.L().Error("start job workflow failed", zap.String("job_id", jobID), zap.Error(err))
				}
			}
		} else {
			dispatch = func(jobID string, skipCache bool) {
				go func() {
					if err := env.Coordinator.Run(ctx, jobID, job.RunOptions{SkipCache: skipCache}); err != nil {
						zap.L().Error("job run failed", zap.String("job_id", jobID), zap.Error(err))
					}
				}()
			}
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
			MaxAge:         300,
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			hours := 24
			if h := req.URL.Query().Get("hours"); h != "" {
				if parsed, err := strconv.Atoi(h); err == nil && parsed > 0 {
					hours = parsed
				}
			}
			snap, err := env.Collector.Collect(req.Context(), hours)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", func(w http.ResponseWriter, req *http.Request) {
				var enrichReq job.Request
				if err := json.NewDecoder(req.Body).Decode(&enrichReq); err != nil {
					writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
					return
				}
				if enrichReq.BudgetCents == 0 {
					enrichReq.BudgetCents = cfg.Budget.DefaultCents
				}
				resp, err := env.Coordinator.Accept(req.Context(), enrichReq)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				dispatch(resp.JobID, enrichReq.SkipCache)
				writeJSON(w, http.StatusAccepted, resp)
			})

			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				jobs, err := env.Store.ListJobs(req.Context(), store.JobFilter{Limit: 100})
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, jobs)
			})

			r.Get("/{jobID}", func(w http.ResponseWriter, req *http.Request) {
				progress, err := env.Coordinator.Progress(req.Context(), chi.URLParam(req, "jobID"))
				if err != nil {
					writeError(w, statusFor(err), err)
					return
				}
				writeJSON(w, http.StatusOK, progress)
			})

			r.Delete("/{jobID}", func(w http.ResponseWriter, req *http.Request) {
				if err := env.Coordinator.Cancel(req.Context(), chi.URLParam(req, "jobID")); err != nil {
					writeError(w, statusFor(err), err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
			})

			r.Get("/{jobID}/rows", func(w http.ResponseWriter, req *http.Request) {
				j, err := env.Store.GetJob(req.Context(), chi.URLParam(req, "jobID"))
				if err != nil {
					writeError(w, statusFor(err), err)
					return
				}
				rows, err := env.Store.ListRows(req.Context(), j.TableID, nil)
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, rows)
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("temporal", serveTemporal))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	if eris.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveTemporal, "temporal", false, "dispatch jobs through the temporal scheduler")
	rootCmd.AddCommand(serveCmd)
}
