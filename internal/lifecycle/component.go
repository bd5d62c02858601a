// Package lifecycle orchestrates startup and shutdown of long-running
// components in dependency order.
package lifecycle

import "context"

// Component is a managed long-running part of the process.
type Component interface {
	// Start initializes the component. It must not block for the
	// component's lifetime; long-running work belongs in a goroutine.
	Start(ctx context.Context) error

	// Stop shuts the component down, respecting the context deadline as
	// the grace period for in-flight work.
	Stop(ctx context.Context) error

	// Name identifies the component in logs and errors.
	Name() string
}
