package strata

// GatewayOpt is an option for configuring a gateway
type GatewayOpt func(g *Gateway)

// WithLogger overrides the gateway's default logger
func WithLogger(logger Logger) GatewayOpt {
	return func(g *Gateway) {
		g.logger = logger
	}
}
