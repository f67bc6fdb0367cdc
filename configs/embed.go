// Package configs holds the configuration templates written by
// `repoindex init`. They are embedded at build time so every distribution
// carries them.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .repoindex.yaml in the project root.
// Every value it sets equals the built-in default.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
