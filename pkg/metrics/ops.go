package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// OpsHandler serves /metrics from g and /healthz backed by ready.
func OpsHandler(g prometheus.Gatherer, ready func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := ready(req.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// ServeOps runs the ops listener on addr until ctx is cancelled. Listener
// failures are logged, never fatal: workers keep running without it.
func ServeOps(ctx context.Context, addr string, h http.Handler, logg *logger.Logger) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops listener failed", err)
		}
	}()
}
