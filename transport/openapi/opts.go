package openapi

import "github.com/stratabase/strata"

// Opt is an option for configuring the server
type Opt func(*OpenAPIServer)

// WithLogger overrides the server's default logger
func WithLogger(logger strata.Logger) Opt {
	return func(o *OpenAPIServer) {
		o.logger = logger
	}
}
