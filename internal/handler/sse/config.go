// Package sse writes server-sent event streams.
package sse

import "time"

// Config holds stream settings
type Config struct {
	// KeepAliveInterval is how often an idle stream sends a comment line so
	// proxies do not time it out
	KeepAliveInterval time.Duration
}

// DefaultConfig returns a 15 second keep-alive
func DefaultConfig() Config {
	return Config{KeepAliveInterval: 15 * time.Second}
}
