// Package wgpurender adapts shader reload events to a wgpu HAL device:
// when a watched shader recompiles, it recreates the corresponding
// hal.ShaderModule from the fresh SPIR-V so the renderer can rebuild its
// pipelines.
//
// GPU work must happen on the thread that owns the device, so the
// adapter is a message queue: Invalidate (called from the manager's
// dispatch goroutine) only enqueues, and the render loop drains the
// queue with Process.
package wgpurender

import (
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderwatch"
)

// ModuleDevice is the slice of hal.Device the adapter needs.
type ModuleDevice interface {
	CreateShaderModule(*hal.ShaderModuleDescriptor) (hal.ShaderModule, error)
	DestroyShaderModule(hal.ShaderModule)
}

// Lookup resolves a shader path to its current bytecode. Wire it to
// Manager.GetShader.
type Lookup func(path string) ([]byte, bool)

// ManagerLookup builds a Lookup over a shaderwatch.Manager.
func ManagerLookup(m *shaderwatch.Manager) Lookup {
	return func(path string) ([]byte, bool) {
		s, ok := m.GetShader(path)
		if !ok || s.Current == nil {
			return nil, false
		}
		return s.Current.Bytecode, true
	}
}

// pendingReload is one queued invalidation.
type pendingReload struct {
	path      string
	pipelines []string
}

// Invalidator recreates HAL shader modules for reloaded shaders.
// Invalidate is safe to call from any goroutine; Process and Module must
// stay on the device-owning thread.
type Invalidator struct {
	device ModuleDevice
	lookup Lookup

	// pending buffers invalidations between render frames. When the
	// buffer is full the oldest entry is dropped: a newer reload for
	// the same path supersedes it anyway.
	pending chan pendingReload

	mu      sync.Mutex
	modules map[string]hal.ShaderModule
}

// New creates an invalidator for device. queueDepth bounds the number of
// reloads buffered between Process calls; <= 0 means 64.
func New(device ModuleDevice, lookup Lookup, queueDepth int) *Invalidator {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Invalidator{
		device:  device,
		lookup:  lookup,
		pending: make(chan pendingReload, queueDepth),
		modules: make(map[string]hal.ShaderModule),
	}
}

// Invalidate implements the host's PipelineInvalidator contract. It
// never blocks the reload dispatch goroutine.
func (inv *Invalidator) Invalidate(path string, pipelines []string) {
	reload := pendingReload{path: path, pipelines: pipelines}
	for {
		select {
		case inv.pending <- reload:
			return
		default:
		}
		select {
		case <-inv.pending:
			// Dropped the oldest queued reload to make room.
		default:
		}
	}
}

// Process drains queued invalidations, recreating one shader module per
// affected path. Call it once per frame on the device-owning thread.
// Returns the number of modules rebuilt.
func (inv *Invalidator) Process() (int, error) {
	rebuilt := 0
	for {
		select {
		case reload := <-inv.pending:
			if err := inv.rebuild(reload.path); err != nil {
				return rebuilt, err
			}
			rebuilt++
		default:
			return rebuilt, nil
		}
	}
}

// rebuild replaces the module for path with one compiled from the
// current bytecode.
func (inv *Invalidator) rebuild(path string) error {
	bytecode, ok := inv.lookup(path)
	if !ok {
		return fmt.Errorf("wgpurender: no bytecode for %s", path)
	}

	module, err := inv.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: path,
		Source: hal.ShaderSource{
			SPIRV: PackWords(bytecode),
		},
	})
	if err != nil {
		return fmt.Errorf("wgpurender: creating module for %s: %w", path, err)
	}

	inv.mu.Lock()
	old, had := inv.modules[path]
	inv.modules[path] = module
	inv.mu.Unlock()

	if had && old != nil {
		inv.device.DestroyShaderModule(old)
	}
	return nil
}

// Module returns the current shader module for path.
func (inv *Invalidator) Module(path string) (hal.ShaderModule, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	m, ok := inv.modules[path]
	return m, ok
}

// Destroy releases every module the invalidator created.
func (inv *Invalidator) Destroy() {
	inv.mu.Lock()
	modules := inv.modules
	inv.modules = make(map[string]hal.ShaderModule)
	inv.mu.Unlock()

	for _, m := range modules {
		if m != nil {
			inv.device.DestroyShaderModule(m)
		}
	}
}

// PackWords converts SPIR-V bytes to the uint32 word stream HAL expects.
// SPIR-V is little-endian 32-bit words; trailing bytes that do not fill
// a word are ignored.
func PackWords(bytecode []byte) []uint32 {
	words := make([]uint32, len(bytecode)/4)
	for i := range words {
		words[i] = uint32(bytecode[i*4]) |
			uint32(bytecode[i*4+1])<<8 |
			uint32(bytecode[i*4+2])<<16 |
			uint32(bytecode[i*4+3])<<24
	}
	return words
}
