// Package defaults provides embedded default assets (talk prompt template and config).
package defaults

import _ "embed"

//go:embed default_prompt.md
var DefaultPrompt string

//go:embed default_config.toml
var DefaultConfigTOML string
