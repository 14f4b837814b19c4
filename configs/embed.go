// Package configs embeds the configuration and dataset templates written by
// `kbsearch config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults
//  2. User config (~/.config/kbsearch/config.yaml)
//  3. Deployment config (.kbsearch.yaml)
//  4. .env and KBSEARCH_* environment variables
package configs

import _ "embed"

// ProjectConfigTemplate is the commented .kbsearch.yaml for a deployment.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is the machine-level config at
// ~/.config/kbsearch/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// SampleDataset is a small knowledge base to seed a new deployment with.
//
//go:embed knowledge.example.yaml
var SampleDataset []byte
