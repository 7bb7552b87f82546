package nats

import "errors"

// ErrNotConnected is returned by HealthCheck when the connection is down.
var ErrNotConnected = errors.New("NATS is not connected")
