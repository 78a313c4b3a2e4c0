package shaderwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/shaderwatch/asset"
	"github.com/gogpu/shaderwatch/cache"
	"github.com/gogpu/shaderwatch/compiler"
	"github.com/gogpu/shaderwatch/diskcache"
	"github.com/gogpu/shaderwatch/internal/pool"
)

// DefaultPollInterval is the watch loop interval used when no
// WithPollInterval option is given.
const DefaultPollInterval = 500 * time.Millisecond

// entry is the manager's live view of one shader file. All fields are
// guarded by the manager's mutex; Artifact pointers stored in current
// are immutable after publication.
type entry struct {
	path  string
	asset asset.ID
	stage gputypes.ShaderStage
	opts  compiler.Options

	state   State
	current *compiler.Artifact

	// observed is the generation of the latest change event seen for
	// the path; applied is the generation of the artifact currently in
	// the cache. A finished job whose generation is not newer than
	// applied is stale and discarded.
	observed uint64
	applied  uint64

	// Watch bookkeeping. digest is the fingerprint of the most recently
	// observed content, used to drop duplicate change notifications.
	mtime  time.Time
	size   int64
	digest compiler.Digest
}

// snapshot returns a caller-safe copy. Caller holds the manager lock.
func (e *entry) snapshot() Shader {
	return Shader{
		Path:    e.path,
		Asset:   e.asset,
		Stage:   e.stage,
		State:   e.state,
		Current: e.current,
	}
}

// Manager orchestrates shader loading, background recompilation, and
// pipeline invalidation fan-out. It owns the loaded-shader table and the
// dependency graph; the asset registry and compiler pool are internal.
//
// All exported methods are safe for concurrent use. Query methods
// (GetShader, PipelinesFor, Stats) never block behind a compilation.
type Manager struct {
	backend  compiler.Backend
	registry *asset.Registry
	graph    *DependencyGraph
	pool     *pool.Pool
	mem      *cache.Artifacts
	disk     *diskcache.Cache

	pollInterval time.Duration
	fireOnEmpty  bool

	mu      sync.RWMutex
	entries map[string]*entry

	callbacks callbackRegistry

	// events feeds the dispatch goroutine. Compiler workers are the
	// only senders; Stop closes it after the pool has drained.
	events     chan ReloadEvent
	dispatchWG sync.WaitGroup
	watchStop  context.CancelFunc
	watchWG    sync.WaitGroup

	started atomic.Bool
	stopped atomic.Bool

	compiles atomic.Uint64
	failures atomic.Uint64
}

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	workers      int
	backend      compiler.Backend
	pollInterval time.Duration
	memCapacity  int
	disk         *diskcache.Cache
	fireOnEmpty  bool
}

// WithWorkers sets the compiler worker count. Zero or negative means
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *managerConfig) { c.workers = n }
}

// WithBackend replaces the default naga backend.
func WithBackend(b compiler.Backend) Option {
	return func(c *managerConfig) { c.backend = b }
}

// WithPollInterval sets the file watch interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *managerConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMemoryCapacity sets the per-shard capacity of the in-memory
// artifact cache.
func WithMemoryCapacity(perShard int) Option {
	return func(c *managerConfig) { c.memCapacity = perShard }
}

// WithDiskCache attaches a persistent bytecode cache. The manager
// consults it before compiling and populates it after every successful
// compile. The caller retains ownership and closes it after Stop.
func WithDiskCache(d *diskcache.Cache) Option {
	return func(c *managerConfig) { c.disk = d }
}

// WithFireOnEmptyPipelines controls whether reload events fire for
// shaders with no registered pipeline dependencies. The default is true:
// listeners see every successful hot recompile and ignore what they do
// not care about.
func WithFireOnEmptyPipelines(fire bool) Option {
	return func(c *managerConfig) { c.fireOnEmpty = fire }
}

// New creates a Manager. The compiler pool starts immediately so
// essential shaders can be loaded before Start; watching and event
// dispatch begin at Start.
func New(opts ...Option) *Manager {
	cfg := managerConfig{
		backend:      compiler.NewNaga(),
		pollInterval: DefaultPollInterval,
		fireOnEmpty:  true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Manager{
		backend:      cfg.backend,
		registry:     asset.NewRegistry(),
		graph:        NewDependencyGraph(),
		pool:         pool.New(cfg.workers, Logger()),
		mem:          cache.NewArtifacts(cfg.memCapacity),
		disk:         cfg.disk,
		pollInterval: cfg.pollInterval,
		fireOnEmpty:  cfg.fireOnEmpty,
		entries:      make(map[string]*entry),
		events:       make(chan ReloadEvent, 64),
	}
}

// LoadCompute loads and compiles a standalone compute shader. It blocks
// until the first compilation attempt completes or ctx is done. On
// compile failure with no prior good artifact it returns a
// *compiler.Error carrying the path and diagnostic.
func (m *Manager) LoadCompute(ctx context.Context, path string, opts compiler.Options) (Shader, error) {
	return m.load(ctx, path, gputypes.ShaderStageCompute, opts)
}

// LoadRenderPair loads and compiles a vertex/fragment pair. Both stages
// compile in parallel on the worker pool; the call blocks until both
// attempts complete or ctx is done. If either stage fails and has no
// prior good artifact, the error names the failing path.
func (m *Manager) LoadRenderPair(ctx context.Context, vertexPath, fragmentPath string, opts compiler.Options) (Shader, Shader, error) {
	type result struct {
		shader Shader
		err    error
	}
	vertCh := make(chan result, 1)
	go func() {
		s, err := m.load(ctx, vertexPath, gputypes.ShaderStageVertex, opts)
		vertCh <- result{s, err}
	}()
	frag, fragErr := m.load(ctx, fragmentPath, gputypes.ShaderStageFragment, opts)
	vert := <-vertCh

	if vert.err != nil {
		return vert.shader, frag, vert.err
	}
	if fragErr != nil {
		return vert.shader, frag, fragErr
	}
	return vert.shader, frag, nil
}

// load registers path, submits a compilation job, and waits for the
// result. Loading an already-loaded path returns its current snapshot
// without recompiling.
func (m *Manager) load(ctx context.Context, path string, stage gputypes.ShaderStage, opts compiler.Options) (Shader, error) {
	if m.stopped.Load() {
		return Shader{}, ErrStopped
	}

	id := m.registry.Register(path, asset.KindShader)

	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		e = &entry{path: path, asset: id, stage: stage, opts: opts}
		m.entries[path] = e
	}
	if e.state == StateLoaded && e.current != nil {
		snap := e.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	e.state = StateCompiling
	e.opts = opts
	m.mu.Unlock()

	src, mtime, size, err := readSource(path)
	if err != nil {
		m.mu.Lock()
		e.state = StateFailed
		m.mu.Unlock()
		return Shader{}, fmt.Errorf("shaderwatch: reading %s: %w", path, err)
	}
	digest := compiler.Fingerprint(src, opts)

	m.mu.Lock()
	e.mtime, e.size, e.digest = mtime, size, digest
	e.observed++
	gen := e.observed
	m.mu.Unlock()

	done := make(chan error, 1)
	job := func() {
		artifact, compileErr := m.compile(src, opts)
		m.apply(path, gen, false, artifact)
		if compileErr != nil {
			done <- &compiler.Error{Path: path, Diagnostic: compileErr.Error()}
			return
		}
		done <- nil
	}
	if err := m.pool.Submit(job); err != nil {
		return Shader{}, ErrPoolClosed
	}

	select {
	case <-ctx.Done():
		return Shader{}, ctx.Err()
	case err := <-done:
		m.mu.RLock()
		snap := e.snapshot()
		m.mu.RUnlock()
		if err != nil && snap.Current == nil {
			return snap, err
		}
		return snap, nil
	}
}

// RegisterPipelineDependency records that pipelineID consumes
// shaderPath. The path must have been loaded first.
func (m *Manager) RegisterPipelineDependency(shaderPath, pipelineID string) error {
	m.mu.RLock()
	_, ok := m.entries[shaderPath]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShader, shaderPath)
	}
	m.graph.Register(shaderPath, pipelineID)
	return nil
}

// PipelinesFor returns the pipeline ids depending on shaderPath, sorted.
func (m *Manager) PipelinesFor(shaderPath string) []string {
	return m.graph.PipelinesFor(shaderPath)
}

// AddReloadCallback registers cb and returns a function that removes the
// registration. Every registered callback is invoked exactly once per
// reload event.
func (m *Manager) AddReloadCallback(cb ReloadCallback) func() {
	return m.callbacks.add(cb)
}

// GetShader returns the current snapshot for path. The second result is
// false if the path was never loaded or is still compiling with no prior
// good artifact.
func (m *Manager) GetShader(path string) (Shader, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path]
	if !ok || e.current == nil {
		return Shader{}, false
	}
	return e.snapshot(), true
}

// Start begins watching loaded shader files and dispatching reload
// events. It returns ErrAlreadyStarted on a running manager and
// ErrStopped after Stop.
func (m *Manager) Start() error {
	if m.stopped.Load() {
		return ErrStopped
	}
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.dispatchWG.Add(1)
	go func() {
		defer m.dispatchWG.Done()
		for ev := range m.events {
			m.callbacks.invoke(ev)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	m.watchStop = cancel
	m.watchWG.Add(1)
	go m.watch(ctx)

	Logger().Info("shader watch started",
		"workers", m.pool.Workers(), "poll", m.pollInterval)
	return nil
}

// Stop shuts the manager down: the watcher stops producing events,
// in-flight compilations drain, and the event queue empties. No callback
// fires after Stop returns. Stop is idempotent.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}

	if m.started.Load() {
		m.watchStop()
		m.watchWG.Wait()
	}

	// Workers are the only event senders, so the channel is safe to
	// close once the pool has drained.
	m.pool.Shutdown()
	close(m.events)
	m.dispatchWG.Wait()

	Logger().Info("shader watch stopped")
}

// RecompileAll submits a fresh compilation job for every known shader
// path, regardless of whether its source changed, and returns the number
// of jobs submitted. Successful recompiles fire reload events. The
// manager must be started.
func (m *Manager) RecompileAll() (int, error) {
	if m.stopped.Load() || !m.started.Load() {
		return 0, ErrStopped
	}

	m.mu.RLock()
	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	m.mu.RUnlock()

	submitted := 0
	for _, path := range paths {
		if m.submitReload(path, true) {
			submitted++
		}
	}
	return submitted, nil
}

// NotifyChange reports an external change notification for path. This is
// the entry point for file-watch backends; the built-in poll watcher
// calls it too. Delivery is at-least-once: notifications whose content
// fingerprint matches the last observed one are dropped. Unknown paths
// and notifications after Stop are ignored.
func (m *Manager) NotifyChange(path string) {
	if m.stopped.Load() || !m.started.Load() {
		return
	}
	m.submitReload(path, false)
}

// submitReload reads the source for path and queues a hot recompilation.
// When force is false, content identical to the last observed fingerprint
// is skipped. Reports whether a job was submitted.
func (m *Manager) submitReload(path string, force bool) bool {
	m.mu.RLock()
	e, ok := m.entries[path]
	var opts compiler.Options
	if ok {
		opts = e.opts
	}
	m.mu.RUnlock()
	if !ok {
		Logger().Debug("change notification for unknown path", "path", path)
		return false
	}

	src, mtime, size, err := readSource(path)
	if err != nil {
		Logger().Error("reading changed shader", "path", path, "error", err)
		return false
	}
	digest := compiler.Fingerprint(src, opts)

	m.mu.Lock()
	if !force && digest == e.digest {
		// Duplicate notification for content already observed.
		e.mtime, e.size = mtime, size
		m.mu.Unlock()
		Logger().Debug("unchanged content, skipping recompile", "path", path)
		return false
	}
	e.observed++
	gen := e.observed
	e.mtime, e.size, e.digest = mtime, size, digest
	if e.current == nil {
		e.state = StateCompiling
	}
	m.mu.Unlock()

	job := func() {
		artifact, err := m.compile(src, opts)
		if err != nil {
			Logger().Warn("hot recompile failed, keeping last good artifact",
				"path", path, "error", err)
		}
		m.apply(path, gen, true, artifact)
	}
	if err := m.pool.Submit(job); err != nil {
		Logger().Debug("pool closed, dropping recompile", "path", path)
		return false
	}
	return true
}

// compile produces an artifact for src, consulting the in-memory and
// disk caches before invoking the backend. The returned artifact has
// OK=false when err is non-nil.
func (m *Manager) compile(src []byte, opts compiler.Options) (*compiler.Artifact, error) {
	m.compiles.Add(1)
	digest := compiler.Fingerprint(src, opts)

	if artifact, ok := m.mem.Get(digest); ok && artifact.OK {
		Logger().Debug("artifact cache hit", "digest", digest)
		return artifact, nil
	}
	if m.disk != nil {
		if bytecode, ok := m.disk.Get(digest); ok {
			artifact := &compiler.Artifact{
				Bytecode:   bytecode,
				CompiledAt: time.Now(),
				Options:    opts,
				OK:         true,
			}
			m.mem.Put(digest, artifact)
			Logger().Debug("disk cache hit", "digest", digest)
			return artifact, nil
		}
	}

	bytecode, err := m.backend.Compile(context.Background(), string(src), opts)
	if err != nil {
		m.failures.Add(1)
		return &compiler.Artifact{
			CompiledAt: time.Now(),
			Options:    opts,
			Diagnostic: err.Error(),
		}, err
	}

	artifact := &compiler.Artifact{
		Bytecode:   bytecode,
		CompiledAt: time.Now(),
		Options:    opts,
		OK:         true,
	}
	m.mem.Put(digest, artifact)
	if m.disk != nil {
		if err := m.disk.Put(digest, bytecode, opts); err != nil {
			Logger().Warn("disk cache write failed", "error", err)
		}
	}
	return artifact, nil
}

// apply publishes a finished compilation for path. Results are applied
// in change-event order: a job whose generation is not newer than the
// latest applied one is discarded, whether it came from an initial load
// or a hot reload, so a slow stale compile can never overwrite the
// result of a logically later change. Successful hot recompiles enqueue
// a reload event.
func (m *Manager) apply(path string, gen uint64, hot bool, artifact *compiler.Artifact) {
	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		m.mu.Unlock()
		return
	}
	if gen <= e.applied {
		m.mu.Unlock()
		Logger().Debug("discarding stale compile result", "path", path, "generation", gen)
		return
	}

	if !artifact.OK {
		// Last-known-good: keep the previous artifact and state.
		if e.current == nil {
			e.state = StateFailed
		}
		m.mu.Unlock()
		return
	}

	e.current = artifact
	e.state = StateLoaded
	e.applied = gen
	m.mu.Unlock()

	if !hot {
		return
	}
	pipelines := m.graph.PipelinesFor(path)
	if len(pipelines) == 0 && !m.fireOnEmpty {
		return
	}
	m.events <- ReloadEvent{Path: path, Pipelines: pipelines, At: time.Now()}
	Logger().Info("shader reloaded", "path", path, "pipelines", pipelines)
}

// Stats returns a point-in-time activity snapshot. Safe to call from any
// goroutine while the manager runs.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	loaded := 0
	dirs := make(map[string]struct{})
	for _, e := range m.entries {
		if e.current != nil {
			loaded++
		}
		dirs[filepath.Dir(e.path)] = struct{}{}
	}
	watched := len(m.entries)
	m.mu.RUnlock()

	return Stats{
		LoadedShaders: loaded,
		WatchedPaths:  watched,
		WatchedDirs:   len(dirs),
		Workers:       m.pool.Workers(),
		Compiles:      m.compiles.Load(),
		Failures:      m.failures.Load(),
	}
}

// readSource reads a shader source file along with the stat fields the
// watcher keys on.
func readSource(path string) ([]byte, time.Time, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, 0, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, 0, err
	}
	return src, info.ModTime(), info.Size(), nil
}
