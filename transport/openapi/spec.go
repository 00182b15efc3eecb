package openapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/stratabase/strata/errors"
	"github.com/stratabase/strata/util"
)

// specHandler serves the rendered OpenAPI document as yaml or json depending
// on the requested path.
func (o *OpenAPIServer) specHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".json") {
			bits, err := util.YAMLToJSON(o.spec)
			if err != nil {
				respondError(w, time.Now(), errors.Wrap(err, errors.Internal, "failed to convert openapi spec to json"))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(bits)
			return
		}
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(o.spec)
	}
}
