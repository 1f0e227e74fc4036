// Package config loads the JSON configuration file that wires the gateway
// together: server address, LLM provider, chain RPC, risk lists, storage,
// cache and notification backends. Relative paths in the file resolve
// against the config file's own directory.
package config
