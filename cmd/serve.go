package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves session creation, progress polling, and stage triggers. Enrichment and sync run asynchronously, bounded by pipeline.max_concurrent_sessions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Bounds concurrent stage runs across sessions. Per-session ordering
		// is preserved because one session only ever runs in one goroutine.
		workers := &errgroup.Group{}
		workers.SetLimit(max(cfg.Pipeline.MaxConcurrentSessions, 1))

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/import", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				FileName  string     `json:"file_name"`
				Header    []string   `json:"header"`
				Records   [][]string `json:"records"`
				ConfigIDs []string   `json:"config_ids"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			session, err := env.Ingestor.CreateSession(req.Context(), body.FileName, body.Header, body.Records, body.ConfigIDs)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, session)
		})

		r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
			sessions, err := env.Store.ListSessions(req.Context(), store.SessionFilter{
				AccountID: cfg.Account.ID,
				Status:    model.SessionStatus(req.URL.Query().Get("status")),
				Limit:     100,
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, sessions)
		})

		r.Get("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
			session, err := env.Pipeline.Progress(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writePipelineError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, session)
		})

		r.Post("/sessions/{id}/enrich", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")

			// Validate state synchronously so the caller gets 404/409
			// instead of a silently dropped job.
			session, err := env.Pipeline.Progress(req.Context(), id)
			if err != nil {
				writePipelineError(w, err)
				return
			}
			if session.Status != model.SessionStatusUploaded && session.Status != model.SessionStatusFailed {
				writeError(w, http.StatusConflict,
					fmt.Sprintf("cannot enrich session in status %s", session.Status))
				return
			}

			workers.Go(func() error {
				if _, err := env.Pipeline.StartEnrichment(ctx, id); err != nil {
					zap.L().Error("async enrichment failed", zap.String("session_id", id), zap.Error(err))
				}
				return nil
			})
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "session_id": id})
		})

		r.Post("/sessions/{id}/sync", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")

			session, err := env.Pipeline.Progress(req.Context(), id)
			if err != nil {
				writePipelineError(w, err)
				return
			}
			if session.Status != model.SessionStatusEnriched {
				writeError(w, http.StatusConflict,
					fmt.Sprintf("cannot sync session in status %s", session.Status))
				return
			}

			workers.Go(func() error {
				if _, err := env.Pipeline.StartSync(ctx, id); err != nil {
					zap.L().Error("async sync failed", zap.String("session_id", id), zap.Error(err))
				}
				return nil
			})
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "session_id": id})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		// Let in-flight stage runs finish before releasing the stores.
		_ = workers.Wait()
		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
