// Package config loads and validates the shelfsync configuration file.
//
// The file is YAML with four sections:
//
//	engine:   cache tuning — snapshot TTL, fetch timeout
//	source:   remote catalog endpoint, auth, TLS, optional local bootstrap file
//	identity: path to the watched session file
//	server:   HTTP port for the API and WebSocket stream
//
// Missing fields are filled with defaults before validation. Secrets are
// never stored in the file — auth settings name the environment variable
// that holds the value. A handful of settings can additionally be overridden
// directly from the environment (SHELFSYNC_* variables).
package config
