// Package timeouts defines shared timeout constants used across the tracker
// process. Centralizing these values prevents drift between boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Delivery caps the time allowed for a single notification delivery attempt.
const Delivery = 10 * time.Second
