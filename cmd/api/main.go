// Package main provides the vtreesearch Submission/Query API server.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"time"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/engine"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	apiLog := log.WithComponent(logger.ComponentSubmission).WithSource(logger.LogSourceInternal)

	eng, err := engine.New(cfg, log)
	if err != nil {
		apiLog.Error("Failed to wire engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			apiLog.Error("Failed to close engine", "error", err)
		}
	}()

	apiLog.Info("API server starting", "api_port", cfg.APIPort, "embedding_dim", cfg.Postgres.EmbeddingDim)

	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6060"
	}
	go func() {
		apiLog.Info("Starting pprof server", "port", pprofPort)
		pprofServer := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiLog.Error("pprof server failed", "error", err)
		}
	}()

	mux := newMux(eng, apiLog)

	addr := ":" + cfg.APIPort
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	apiLog.Info("API server listening", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		apiLog.Error("API server failed", "error", err)
		os.Exit(1)
	}
}

type submitRequest struct {
	Question       string                 `json:"question"`
	QueryEmbedding []float32              `json:"query_embedding"`
	TopK           int                    `json:"top_k"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

func newMux(eng *engine.Engine, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /v1/search", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, log, http.StatusBadRequest, vterrors.Wrapf(vterrors.ErrConfiguration, "decode request body", err))
			return
		}
		accepted, err := eng.SubmitSearch(r.Context(), req.Question, req.QueryEmbedding, req.TopK, req.Metadata)
		if err != nil {
			writeError(w, log, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, accepted)
	})

	mux.HandleFunc("GET /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		status, err := eng.GetJob(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, log, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /v1/jobs/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		result, err := eng.FetchResult(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, log, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("POST /v1/jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		canceled, err := eng.CancelJob(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, log, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, canceled)
	})

	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vterrors.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, vterrors.ErrQueueOverloaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, vterrors.ErrJobNotFound), errors.Is(err, vterrors.ErrJobExpired):
		return http.StatusNotFound
	case errors.Is(err, vterrors.ErrJobFailed):
		return http.StatusConflict
	case errors.Is(err, vterrors.ErrDependencyUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log logger.Logger, status int, err error) {
	log.Warn("request failed", "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
