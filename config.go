package strata

import (
	"encoding/json"
	"os"

	"github.com/stratabase/strata/errors"
	"github.com/stratabase/strata/util"
)

// Config configures a strata node
type Config struct {
	// Port is the port the http transport listens on
	Port int `json:"port" validate:"required,gt=0"`
	// StoragePath is the path to collection metadata storage. Leave empty to operate in memory only.
	StoragePath string `json:"storage_path"`
	// SnapshotsPath is the directory snapshot archives live under. Defaults to <storage_path>/snapshots.
	SnapshotsPath string `json:"snapshots_path"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `json:"log_level"`
	// AllowedOrigins are CORS origins allowed to call the transport
	AllowedOrigins []string `json:"allowed_origins"`
	// RequestValidation enables openapi request validation on the transport
	RequestValidation bool `json:"request_validation"`
	// RateLimit is the allowed requests per second per node (0 disables limiting)
	RateLimit float64 `json:"rate_limit"`
	// MaxUploadSize caps the size of uploaded snapshot archives in bytes
	MaxUploadSize int64 `json:"max_upload_size"`
}

// SetDefaults fills unset fields with sane defaults
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = 6333
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SnapshotsPath == "" && c.StoragePath != "" {
		c.SnapshotsPath = c.StoragePath + "/snapshots"
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 32 << 20
	}
}

// LoadConfig reads a yaml or json config file from the given path
func LoadConfig(path string) (*Config, error) {
	bits, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "reading config %s", path)
	}
	jsonData, err := util.YAMLToJSON(bits)
	if err != nil {
		return nil, errors.Wrap(err, errors.BadInput, "parsing config %s", path)
	}
	var config Config
	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, errors.Wrap(err, errors.BadInput, "parsing config %s", path)
	}
	config.SetDefaults()
	if err := util.ValidateStruct(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
