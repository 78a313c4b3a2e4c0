package shaderwatch

import "errors"

// Package errors for the hot-reload core.
var (
	// ErrUnknownShader is returned when a pipeline dependency is
	// registered against a path that was never loaded.
	ErrUnknownShader = errors.New("shaderwatch: unknown shader path")

	// ErrPoolClosed is returned when work is submitted after the
	// compiler pool has shut down.
	ErrPoolClosed = errors.New("shaderwatch: compiler pool is shut down")

	// ErrStopped is returned by lifecycle methods called on a stopped
	// manager.
	ErrStopped = errors.New("shaderwatch: manager is stopped")

	// ErrAlreadyStarted is returned by Start on a running manager.
	ErrAlreadyStarted = errors.New("shaderwatch: manager already started")
)
