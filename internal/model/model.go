package model

type AppKind string

type GatewayKind string

const (
	AppName = "vmconsole"

	AppKindClient  AppKind = "client"
	AppKindBackend AppKind = "backend"

	// GatewayKindNats dispatches mutations over the NATS request/reply bus.
	GatewayKindNats GatewayKind = "nats"
	// GatewayKindHTTP dispatches mutations to a REST management endpoint.
	GatewayKindHTTP GatewayKind = "http"
	// GatewayKindLocal applies mutations to an in-process inventory.
	GatewayKindLocal GatewayKind = "local"

	LogLevelInfo  = 0
	LogLevelDebug = 1
	LogLevelTrace = 2
)

// AppKinds returns the supported vmconsole app kinds
func AppKinds() []AppKind { return []AppKind{AppKindClient, AppKindBackend} }

// GatewayKinds returns the supported mutation gateway kinds
func GatewayKinds() []GatewayKind {
	return []GatewayKind{GatewayKindNats, GatewayKindHTTP, GatewayKindLocal}
}
