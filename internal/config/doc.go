// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// One file configures both binaries: cmd/panel reads the transport, api,
// and state sections, cmd/hub reads the hub section, and both read
// instance, metrics, and log.
package config
