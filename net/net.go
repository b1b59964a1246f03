// Package net holds the constants the HTTP server and client agree on
// without importing each other.
package net

const (
	DefaultPort           = 6000
	DefaultListenAddress  = ":6000"
	DefaultConnectAddress = "localhost:6000"

	RPCContentType = "application/json"

	BasePath      = "/container"
	ListPath      = "/containers"
	EventsPath    = "/events"
	MetricsPath   = "/metrics"
)
