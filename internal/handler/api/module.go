package api

import (
	"github.com/telewake/relay-service/infra/server/httpsrv"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery-api",
	fx.Provide(
		NewAPIHandler,
	),
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(server *httpsrv.Server, handler *APIHandler) {
	handler.Register(server.Router())
}
