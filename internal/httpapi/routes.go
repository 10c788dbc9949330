package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/battlegrid/coordinator/internal/session"
	"github.com/battlegrid/coordinator/internal/storage"
	"github.com/battlegrid/coordinator/internal/ws"
)

func SetupRoutes(reg *session.Registry, users storage.UserRepo, saves storage.SaveRepo, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/combats", CreateCombat(reg, saves, logger))
	r.Get("/combats/{id}/ws", ws.Handler(reg, users, logger))
	r.Get("/healthz", Healthz)
	return r
}
