package openapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepmap/oapi-codegen/pkg/codegen"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/huandu/xstrings"
	"github.com/stratabase/strata/errors"
)

// GenerateSDK generates a go client SDK for the gateway API
func (o *OpenAPIServer) GenerateSDK(packageName string, w io.Writer) error {
	doc, err := openapi3.NewLoader().LoadFromData(o.spec)
	if err != nil {
		return errors.Wrap(err, errors.Internal, "failed to load openapi spec")
	}
	code, err := codegen.Generate(doc, codegen.Configuration{
		PackageName: packageName,
		Generate: codegen.GenerateOptions{
			Client:       true,
			Models:       true,
			EmbeddedSpec: true,
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.Internal, "failed to generate sdk")
	}
	_, err = w.Write([]byte(code))
	return errors.Wrap(err, errors.Internal, "failed to write sdk")
}

func (o *OpenAPIServer) getSDKHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		pkgName := r.URL.Query().Get("pkg")
		if pkgName == "" {
			pkgName = xstrings.ToSnakeCase(fmt.Sprintf("%s_client", strings.TrimSpace(o.params.Title)))
		}
		if err := o.GenerateSDK(pkgName, w); err != nil {
			respondError(w, time.Now(), err)
		}
	}
}
