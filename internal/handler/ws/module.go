package ws

import (
	"github.com/telewake/relay-service/infra/server/httpsrv"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery-ws",
	fx.Provide(
		NewWSHandler,
	),
	fx.Invoke(RegisterStreams),
)

func RegisterStreams(server *httpsrv.Server, handler *WSHandler) {
	handler.Register(server.Router())
}
