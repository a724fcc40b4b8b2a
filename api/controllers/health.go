package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is any dependency readiness can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storefront-Env", env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency and fails on the first one down.
func HealthReady(env string, deps map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storefront-Env", env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").
					WithDetails(map[string]string{"dependency": name}))
				return
			}
			checks[name] = "ok"
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
