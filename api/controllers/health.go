package controllers

import (
	"net/http"

	"github.com/lumenandco/atelier-backend/api/responses"
	"github.com/lumenandco/atelier-backend/pkg/config"
	"github.com/lumenandco/atelier-backend/pkg/db"
	pkgerrors "github.com/lumenandco/atelier-backend/pkg/errors"
	"github.com/lumenandco/atelier-backend/pkg/logger"
	"github.com/lumenandco/atelier-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Atelier-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the datastores; a failed dependency returns 503 so the
// instance drops out of rotation before requests reach it.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Atelier-Env", cfg.App.Env)

		if dbP != nil {
			if err := dbP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database not reachable"))
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis not reachable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
