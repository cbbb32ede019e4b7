// Package config loads the engine's ambient bootstrap configuration: the
// handful of process-level settings needed before the durable configuration
// store can even be opened (database path, HTTP listen address, log level),
// sourced from YAML via Viper with environment-variable overrides and
// fsnotify-driven hot reload.
//
// Everything downstream of startup (camera roster, streaming/recording/
// storage settings) lives in the durable store instead; see
// internal/configstore.
package config
