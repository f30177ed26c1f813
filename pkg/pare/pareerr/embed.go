package pareerr

import "embed"

//go:embed errors.toml
var catalogFS embed.FS
