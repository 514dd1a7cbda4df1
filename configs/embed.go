// Package configs provides embedded configuration templates for alicerag.
//
// How Configuration Templates Work:
//
// Templates are embedded at build time using Go's //go:embed directive.
// This ensures they are available in ALL distributions:
//   - Source builds (go install)
//   - Binary releases
//
// The templates are used by:
//   - cmd/alicerag/cmd/init.go - creates .alicerag.yaml
//   - cmd/alicerag/cmd/config.go - creates user config at ~/.config/alicerag/config.yaml
//
// Template files:
//   - local-config.example.yaml: Per-directory settings (paths, chunking, search)
//   - user-config.example.yaml: Machine-specific settings (data dir, embedding service)
//
// Configuration Hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/alicerag/config.yaml)
//  3. Local config (.alicerag.yaml)
//  4. Environment variables (ALICERAG_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
// Changes will be embedded in the next build.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `alicerag config init` at ~/.config/alicerag/config.yaml
// Contains: Machine-specific settings like the data directory and the
// embedding service endpoint.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// LocalConfigTemplate is the template for per-directory configuration.
// Created by: `alicerag init` at .alicerag.yaml in the document tree root
// Contains: Directory-specific settings like paths.exclude and chunking.
//
//go:embed local-config.example.yaml
var LocalConfigTemplate string
