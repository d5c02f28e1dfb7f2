// Package config provides server configuration for wamesh.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation and sessions directory creation
//   - sanitize.go: masking of secrets before the config is logged
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and WAMESH_ environment variables.
package config
