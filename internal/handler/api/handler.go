package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/telewake/relay-service/infra/server/httpsrv"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/domain/registry"
	"github.com/telewake/relay-service/internal/handler/lp"
	"github.com/telewake/relay-service/internal/handler/marshaller"
	"github.com/telewake/relay-service/internal/service"
)

// APIHandler is the REST surface: packet push, device inventory and
// the operational endpoints. The long-poll drain is mounted here too
// so the whole /api tree shares one auth gate.
type APIHandler struct {
	logger  *slog.Logger
	auth    service.Auther
	devices service.Devicer
	relay   service.Relayer
	stats   service.Statser
	reg     registry.Registrar
	poller  *lp.LPHandler
}

func NewAPIHandler(
	logger *slog.Logger,
	auth service.Auther,
	devices service.Devicer,
	relay service.Relayer,
	stats service.Statser,
	reg registry.Registrar,
	poller *lp.LPHandler,
) *APIHandler {
	return &APIHandler{
		logger:  logger,
		auth:    auth,
		devices: devices,
		relay:   relay,
		stats:   stats,
		reg:     reg,
		poller:  poller,
	}
}

// Register mounts the REST tree. Stats and health stay open; every
// other route resolves the account token first.
func (h *APIHandler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(httpsrv.NewAuthMiddleware(h.auth))

			r.Post("/push", h.Push)
			r.Post("/pull", h.poller.Poll)

			r.Post("/register_device", h.RegisterDevice)
			r.Post("/delete_device", h.DeleteDevice)
			r.Get("/devices", h.Devices)

			r.Post("/device/create", h.DeviceCreate)
			r.Get("/device", h.DeviceGet)
			r.Put("/device/update", h.DeviceUpdate)
			r.Delete("/device/delete", h.DeviceDelete)
		})
	})
}

// user unwraps the middleware-injected account. A miss means the route
// was mounted outside the auth group, which is a wiring bug; the peer
// still just sees a 401.
func (h *APIHandler) user(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	user, ok := httpsrv.AuthUser(r.Context())
	if !ok {
		marshaller.WriteDetail(w, http.StatusUnauthorized, "API token required")
	}
	return user, ok
}
