package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/shaderwatch"
)

// PipelineInvalidator consumes reload notifications. Implementations are
// renderer-owned: they rebuild GPU pipeline objects, which is outside
// this subsystem. Invalidate runs on the manager's dispatch goroutine
// and must not block; marshal onto a render thread if needed.
type PipelineInvalidator interface {
	Invalidate(path string, pipelines []string)
}

// InvalidatorFunc adapts a function to the PipelineInvalidator interface.
type InvalidatorFunc func(path string, pipelines []string)

// Invalidate implements PipelineInvalidator.
func (f InvalidatorFunc) Invalidate(path string, pipelines []string) {
	f(path, pipelines)
}

// Host wires a shaderwatch.Manager into an engine: it pre-loads the
// manifest's programs, registers the static dependency table, and fans
// reload events out to registered invalidators.
type Host struct {
	manifest Manifest
	manager  *shaderwatch.Manager
	device   any

	mu           sync.RWMutex
	invalidators []PipelineInvalidator

	removeCallback func()
}

// HostOption configures a Host.
type HostOption func(*hostConfig)

type hostConfig struct {
	managerOpts []shaderwatch.Option
	device      any
}

// WithManagerOptions forwards options to the underlying Manager.
func WithManagerOptions(opts ...shaderwatch.Option) HostOption {
	return func(c *hostConfig) {
		c.managerOpts = append(c.managerOpts, opts...)
	}
}

// WithDevice attaches an opaque GPU device token. The host never
// inspects it; invalidators that need it read it back via Device.
func WithDevice(device any) HostOption {
	return func(c *hostConfig) { c.device = device }
}

// New creates a Host for the given manifest.
func New(manifest Manifest, opts ...HostOption) (*Host, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	var cfg hostConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	managerOpts := cfg.managerOpts
	if manifest.PollInterval > 0 {
		managerOpts = append(managerOpts,
			shaderwatch.WithPollInterval(time.Duration(manifest.PollInterval)))
	}

	return &Host{
		manifest: manifest,
		manager:  shaderwatch.New(managerOpts...),
		device:   cfg.device,
	}, nil
}

// Manager exposes the underlying manager for queries and callbacks.
func (h *Host) Manager() *shaderwatch.Manager {
	return h.manager
}

// Device returns the opaque device token given at construction, or nil.
func (h *Host) Device() any {
	return h.device
}

// AddInvalidator registers a renderer-side consumer of reload events.
func (h *Host) AddInvalidator(inv PipelineInvalidator) {
	h.mu.Lock()
	h.invalidators = append(h.invalidators, inv)
	h.mu.Unlock()
}

// Start pre-loads every manifest program synchronously, registers the
// dependency table, and begins watching. A compile failure in an
// essential program aborts startup.
func (h *Host) Start(ctx context.Context) error {
	opts, err := h.manifest.Options.Compile()
	if err != nil {
		return err
	}

	for _, program := range h.manifest.Programs {
		if program.Compute != "" {
			if _, err := h.manager.LoadCompute(ctx, program.Compute, opts); err != nil {
				return fmt.Errorf("host: loading program %q: %w", program.Name, err)
			}
		} else {
			if _, _, err := h.manager.LoadRenderPair(ctx, program.Vertex, program.Fragment, opts); err != nil {
				return fmt.Errorf("host: loading program %q: %w", program.Name, err)
			}
		}
		for _, path := range program.paths() {
			for _, pipeline := range program.Pipelines {
				if err := h.manager.RegisterPipelineDependency(path, pipeline); err != nil {
					return err
				}
			}
		}
	}

	h.removeCallback = h.manager.AddReloadCallback(h.forward)
	return h.manager.Start()
}

// Stop shuts the underlying manager down. No invalidator runs after
// Stop returns.
func (h *Host) Stop() {
	h.manager.Stop()
	if h.removeCallback != nil {
		h.removeCallback()
	}
}

// Notify feeds an external file-change notification through the
// manifest's watch patterns into the manager.
func (h *Host) Notify(path string) {
	if !h.manifest.Matches(path) {
		return
	}
	h.manager.NotifyChange(path)
}

// forward fans one reload event out to every invalidator.
func (h *Host) forward(ev shaderwatch.ReloadEvent) {
	h.mu.RLock()
	invalidators := make([]PipelineInvalidator, len(h.invalidators))
	copy(invalidators, h.invalidators)
	h.mu.RUnlock()

	for _, inv := range invalidators {
		inv.Invalidate(ev.Path, ev.Pipelines)
	}
}
