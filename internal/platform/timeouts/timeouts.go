// Package timeouts defines shared timeout constants used across commands.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers and exporters wait for in-flight work
// during graceful shutdown.
const Shutdown = 5 * time.Second

// WebSocketWrite caps a single websocket frame write to a slow client.
const WebSocketWrite = 10 * time.Second

// Seed caps a single seed command run.
const Seed = 30 * time.Second
