// Package config holds the service-wide configuration: compression
// gate sizing, external-tool binary paths and timeouts, the estimate
// cache, and the JPEG encoder mode — TOML-decoded, following the
// teacher's nested-struct-with-duration-wrapper idiom.
package config

import (
	"os"
	"runtime"
	"time"

	"emperror.dev/errors"
	validator "github.com/go-playground/validator/v10"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML strings like "60s" decode
// naturally, matching the teacher's own `duration` wrapper type.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// ToolConfig names one external encoder's binary path and timeout.
type ToolConfig struct {
	Path    string   `toml:"path" validate:"required"`
	Timeout Duration `toml:"timeout"`
}

// GateConfig sizes the compression gate (§4.D).
type GateConfig struct {
	Permits  int `toml:"permits" validate:"gte=0"`
	QueueCap int `toml:"queue_cap" validate:"gte=0"`
}

// CacheConfig sizes the two-tier estimate cache (§4.J).
type CacheConfig struct {
	Enabled       bool     `toml:"enabled"`
	Dir           string   `toml:"dir"`
	TTL           Duration `toml:"ttl"`
	HotEntries    int      `toml:"hot_entries" validate:"gte=1"`
	LookupTimeout Duration `toml:"lookup_timeout"`
}

// ToolsConfig names the binary path and timeout for every external
// encoder the subprocess runner may invoke.
type ToolsConfig struct {
	Pngquant ToolConfig `toml:"pngquant"`
	Oxipng   ToolConfig `toml:"oxipng"`
	Jpegtran ToolConfig `toml:"jpegtran"`
	Cjpeg    ToolConfig `toml:"cjpeg"`
	Gifsicle ToolConfig `toml:"gifsicle"`
	Cwebp    ToolConfig `toml:"cwebp"`
	Cjxl     ToolConfig `toml:"cjxl"`
	Djxl     ToolConfig `toml:"djxl"`
	Avifenc  ToolConfig `toml:"avifenc"`
	HeifEnc  ToolConfig `toml:"heif_enc"`
	Magick   ToolConfig `toml:"magick"`
}

// ServiceConfig is the top-level TOML document.
type ServiceConfig struct {
	Gate         GateConfig  `toml:"gate"`
	Cache        CacheConfig `toml:"cache"`
	MaxInputSize int64       `toml:"max_input_size_bytes" validate:"gte=0"`
	JPEGEncoder  string      `toml:"jpeg_encoder" validate:"oneof=library cjpeg"`
	LogLevel     string      `toml:"log_level"`
	Tools        ToolsConfig `toml:"tools"`
}

// Default returns a fully populated default configuration, following
// the teacher's GetDefaultConfig() convention.
func Default() ServiceConfig {
	n := runtime.NumCPU()
	timeout := Duration{60 * time.Second}
	return ServiceConfig{
		Gate: GateConfig{
			Permits:  n,
			QueueCap: 2 * n,
		},
		Cache: CacheConfig{
			Enabled:       false,
			HotEntries:    512,
			TTL:           Duration{time.Hour},
			LookupTimeout: Duration{50 * time.Millisecond},
		},
		MaxInputSize: 32 * 1024 * 1024,
		JPEGEncoder:  "library",
		LogLevel:     "error",
		Tools: ToolsConfig{
			Pngquant: ToolConfig{Path: "pngquant", Timeout: timeout},
			Oxipng:   ToolConfig{Path: "oxipng", Timeout: timeout},
			Jpegtran: ToolConfig{Path: "jpegtran", Timeout: timeout},
			Cjpeg:    ToolConfig{Path: "cjpeg", Timeout: timeout},
			Gifsicle: ToolConfig{Path: "gifsicle", Timeout: timeout},
			Cwebp:    ToolConfig{Path: "cwebp", Timeout: timeout},
			Cjxl:     ToolConfig{Path: "cjxl", Timeout: timeout},
			Djxl:     ToolConfig{Path: "djxl", Timeout: timeout},
			Avifenc:  ToolConfig{Path: "avifenc", Timeout: timeout},
			HeifEnc:  ToolConfig{Path: "heif-enc", Timeout: timeout},
			Magick:   ToolConfig{Path: "magick", Timeout: timeout},
		},
	}
}

var validate = validator.New()

// Load reads and validates a TOML config file, starting from Default()
// so an incomplete file still yields sane values, matching the
// teacher's own LoadConfig(fp) helper.
func Load(path string) (ServiceConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, errors.Wrapf(err, "cannot stat config file %s", path)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "cannot decode config file %s", path)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, "invalid service config")
	}
	return cfg, nil
}
