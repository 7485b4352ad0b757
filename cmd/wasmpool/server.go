package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/coordinator"
)

// snapshotter is the part of a pool the status endpoint reads.
type snapshotter interface {
	Workers() []coordinator.Status
	Threads() int
}

type workerView struct {
	coordinator.Status
	Error string `json:"error,omitempty"`
}

type statusServer struct {
	srv    *http.Server
	logger *zap.Logger
}

func newRouter(reg prometheus.Gatherer, pool snapshotter) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/workers", func(w http.ResponseWriter, _ *http.Request) {
		statuses := pool.Workers()
		views := make([]workerView, len(statuses))
		for i, s := range statuses {
			views[i] = workerView{Status: s}
			if s.Err != nil {
				views[i].Error = s.Err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Threads int          `json:"threads"`
			Workers []workerView `json:"workers"`
		}{pool.Threads(), views})
	}).Methods(http.MethodGet)
	return r
}

func newStatusServer(addr string, reg prometheus.Gatherer, pool snapshotter, logger *zap.Logger) *statusServer {
	return &statusServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      newRouter(reg, pool),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func (s *statusServer) Start() {
	go func() {
		s.logger.Info("status server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", zap.Error(err))
		}
	}()
}

func (s *statusServer) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("status server shutdown", zap.Error(err))
	}
}
