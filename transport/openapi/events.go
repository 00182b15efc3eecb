package openapi

import (
	"context"
	"net/http"
	"time"

	"github.com/stratabase/strata"
	"github.com/stratabase/strata/errors"
)

// eventsHandler streams lifecycle events over a websocket until the client
// disconnects.
func (o *OpenAPIServer) eventsHandler(g *strata.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := o.upgrader.Upgrade(w, r, nil)
		if err != nil {
			respondError(w, time.Now(), errors.Wrap(err, errors.BadInput, "failed to upgrade events connection"))
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		if err := g.Watch(ctx, func(event strata.Event) (bool, error) {
			if err := conn.WriteJSON(event); err != nil {
				return false, nil
			}
			return true, nil
		}); err != nil {
			o.logger.Error(ctx, "events stream closed", err, map[string]any{})
		}
	}
}
