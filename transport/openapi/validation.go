package openapi

import (
	"embed"
	"io"
	"net/http"

	"github.com/stratabase/strata/errors"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Body schemas reject malformed payloads before they reach the operation
// structs. Field level rules still live on the structs themselves.
var (
	createCollectionSchema = mustSchema("schemas/create_collection.json")
	updateCollectionSchema = mustSchema("schemas/update_collection.json")
	changeAliasesSchema    = mustSchema("schemas/change_aliases.json")
	updateClusterSchema    = mustSchema("schemas/update_cluster.json")
	recoverSnapshotSchema  = mustSchema("schemas/recover_snapshot.json")
)

func mustSchema(path string) *gojsonschema.Schema {
	bits, err := schemaFS.ReadFile(path)
	if err != nil {
		panic(err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(string(bits)))
	if err != nil {
		panic(err)
	}
	return schema
}

// decodeBody reads the request body, validates it against the given schema,
// and unmarshals it into v.
func decodeBody(r *http.Request, schema *gojsonschema.Schema, v any) error {
	bits, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.Wrap(err, errors.BadInput, "failed to read request body")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(bits))
	if err != nil {
		return errors.Wrap(err, errors.BadInput, "request body is not valid json")
	}
	if !result.Valid() {
		return errors.New(errors.BadInput, "invalid request body: %s", result.Errors()[0].String())
	}
	if err := json.Unmarshal(bits, v); err != nil {
		return errors.Wrap(err, errors.BadInput, "failed to decode request body")
	}
	return nil
}
