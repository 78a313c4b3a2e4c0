package shaderwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/shaderwatch/compiler"
)

// fakeBackend is a controllable compiler backend. Sources can be gated
// on a channel to simulate slow compilations or forced to fail.
type fakeBackend struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  map[string]bool
	calls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]bool),
	}
}

func (f *fakeBackend) gateSource(source string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[source] = gate
	f.mu.Unlock()
	return gate
}

func (f *fakeBackend) failSource(source string) {
	f.mu.Lock()
	f.fail[source] = true
	f.mu.Unlock()
}

func (f *fakeBackend) Compile(_ context.Context, source string, _ compiler.Options) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	gate := f.gates[source]
	shouldFail := f.fail[source]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if shouldFail {
		return nil, errors.New("synthetic diagnostic: entry point missing")
	}
	return []byte("spv:" + source), nil
}

func writeShader(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// newTestManager returns a manager with a fake backend and the poll
// watcher effectively disabled; tests drive changes via NotifyChange.
func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	opts = append([]Option{
		WithBackend(backend),
		WithWorkers(2),
		WithPollInterval(time.Hour),
	}, opts...)
	m := New(opts...)
	t.Cleanup(m.Stop)
	return m, backend
}

func collectEvents(m *Manager) <-chan ReloadEvent {
	events := make(chan ReloadEvent, 16)
	m.AddReloadCallback(func(ev ReloadEvent) { events <- ev })
	return events
}

func waitEvent(t *testing.T, events <-chan ReloadEvent) ReloadEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload event")
		return ReloadEvent{}
	}
}

func expectNoEvent(t *testing.T, events <-chan ReloadEvent, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected reload event %+v", ev)
	case <-time.After(wait):
	}
}

func TestLoadCompute(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "cull.comp.wgsl", "compute v1")

	s, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("LoadCompute failed: %v", err)
	}
	if s.State != StateLoaded {
		t.Errorf("state = %s, want loaded", s.State)
	}
	if !s.Asset.IsValid() {
		t.Error("loaded shader has invalid asset id")
	}
	if string(s.Current.Bytecode) != "spv:compute v1" {
		t.Errorf("unexpected bytecode %q", s.Current.Bytecode)
	}
}

func TestLoadComputeMissingFile(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.LoadCompute(context.Background(), filepath.Join(t.TempDir(), "absent.wgsl"), compiler.DefaultOptions())
	if err == nil {
		t.Fatal("expected error for missing source file")
	}
}

func TestLoadComputeCompileError(t *testing.T) {
	m, backend := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "bad.comp.wgsl", "broken source")
	backend.failSource("broken source")

	_, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions())
	var cerr *compiler.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *compiler.Error, got %v", err)
	}
	if cerr.Path != path {
		t.Errorf("error path = %q, want %q", cerr.Path, path)
	}
	if cerr.Diagnostic == "" {
		t.Error("error carries no diagnostic")
	}
	if _, ok := m.GetShader(path); ok {
		t.Error("GetShader returned a shader that never compiled")
	}
}

func TestLoadIdempotent(t *testing.T) {
	m, backend := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	calls := backend.calls.Load()
	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if backend.calls.Load() != calls {
		t.Error("second load of a loaded path recompiled")
	}
	if got := m.Stats().WatchedPaths; got != 1 {
		t.Errorf("WatchedPaths = %d, want 1", got)
	}
}

func TestLoadRenderPair(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	vert := writeShader(t, dir, "simple.vert.wgsl", "vertex v1")
	frag := writeShader(t, dir, "simple.frag.wgsl", "fragment v1")

	v, f, err := m.LoadRenderPair(context.Background(), vert, frag, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("LoadRenderPair failed: %v", err)
	}
	if v.State != StateLoaded || f.State != StateLoaded {
		t.Errorf("states = %s/%s, want loaded/loaded", v.State, f.State)
	}
	if m.Stats().LoadedShaders != 2 {
		t.Errorf("LoadedShaders = %d, want 2", m.Stats().LoadedShaders)
	}
}

func TestLoadRenderPairFragmentFails(t *testing.T) {
	m, backend := newTestManager(t)
	dir := t.TempDir()
	vert := writeShader(t, dir, "simple.vert.wgsl", "vertex v1")
	frag := writeShader(t, dir, "simple.frag.wgsl", "fragment broken")
	backend.failSource("fragment broken")

	_, _, err := m.LoadRenderPair(context.Background(), vert, frag, compiler.DefaultOptions())
	var cerr *compiler.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *compiler.Error, got %v", err)
	}
	if cerr.Path != frag {
		t.Errorf("error path = %q, want failing fragment %q", cerr.Path, frag)
	}
	// The vertex stage compiled fine and must be available.
	if _, ok := m.GetShader(vert); !ok {
		t.Error("vertex shader missing after fragment failure")
	}
}

func TestRegisterPipelineDependencyUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.RegisterPipelineDependency("never/loaded.wgsl", "pipe")
	if !errors.Is(err, ErrUnknownShader) {
		t.Errorf("err = %v, want ErrUnknownShader", err)
	}
}

func TestHotReloadFiresCallback(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	vert := writeShader(t, dir, "simple.vert.wgsl", "vertex v1")
	frag := writeShader(t, dir, "simple.frag.wgsl", "fragment v1")

	opts := compiler.Options{
		Target:          compiler.TargetVulkan,
		Optimization:    compiler.OptimizationPerformance,
		APISemantics:    true,
		LanguageVersion: 450,
	}
	if _, _, err := m.LoadRenderPair(context.Background(), vert, frag, opts); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := m.RegisterPipelineDependency(vert, "simple_pipeline"); err != nil {
		t.Fatalf("register vert dep: %v", err)
	}
	if err := m.RegisterPipelineDependency(frag, "simple_pipeline"); err != nil {
		t.Fatalf("register frag dep: %v", err)
	}
	if got := m.Stats().LoadedShaders; got != 2 {
		t.Fatalf("LoadedShaders = %d, want 2", got)
	}

	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeShader(t, dir, "simple.vert.wgsl", "vertex v2")
	m.NotifyChange(vert)

	ev := waitEvent(t, events)
	if ev.Path != vert {
		t.Errorf("event path = %q, want %q", ev.Path, vert)
	}
	if want := []string{"simple_pipeline"}; !reflect.DeepEqual(ev.Pipelines, want) {
		t.Errorf("event pipelines = %v, want %v", ev.Pipelines, want)
	}
	expectNoEvent(t, events, 100*time.Millisecond)

	s, ok := m.GetShader(vert)
	if !ok {
		t.Fatal("GetShader missing after reload")
	}
	if string(s.Current.Bytecode) != "spv:vertex v2" {
		t.Errorf("cache holds %q, want the reloaded bytecode", s.Current.Bytecode)
	}
}

func TestHotReloadFailureKeepsLastGood(t *testing.T) {
	m, backend := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	backend.failSource("compute v2 broken")
	writeShader(t, dir, "a.comp.wgsl", "compute v2 broken")
	m.NotifyChange(path)

	expectNoEvent(t, events, 200*time.Millisecond)

	s, ok := m.GetShader(path)
	if !ok {
		t.Fatal("GetShader missing after failed reload")
	}
	if s.State != StateLoaded {
		t.Errorf("state = %s, want loaded (last good retained)", s.State)
	}
	if string(s.Current.Bytecode) != "spv:compute v1" {
		t.Errorf("cache holds %q, want last good bytecode", s.Current.Bytecode)
	}
	if got := m.Stats().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestOutOfOrderCompletionKeepsLatestEvent(t *testing.T) {
	m, backend := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// First change: its compilation stalls on a gate.
	gate := backend.gateSource("compute v2")
	writeShader(t, dir, "a.comp.wgsl", "compute v2")
	m.NotifyChange(path)

	// Second change: compiles immediately and finishes first.
	writeShader(t, dir, "a.comp.wgsl", "compute v3")
	m.NotifyChange(path)

	ev := waitEvent(t, events)
	if ev.Path != path {
		t.Fatalf("event path = %q, want %q", ev.Path, path)
	}
	s, _ := m.GetShader(path)
	if string(s.Current.Bytecode) != "spv:compute v3" {
		t.Fatalf("cache holds %q before stale job finished", s.Current.Bytecode)
	}

	// Release the stale first job; its result must be discarded.
	close(gate)
	expectNoEvent(t, events, 200*time.Millisecond)

	s, _ = m.GetShader(path)
	if string(s.Current.Bytecode) != "spv:compute v3" {
		t.Errorf("stale job overwrote cache: %q", s.Current.Bytecode)
	}
}

func TestSlowInitialLoadDoesNotOverwriteHotReload(t *testing.T) {
	m, backend := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	// The initial compilation stalls on a gate; the source changes and
	// hot-reloads while it is still in flight.
	gate := backend.gateSource("compute v1")
	loadDone := make(chan error, 1)
	go func() {
		_, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions())
		loadDone <- err
	}()

	// Wait until the initial compile has reached the backend, so its
	// generation predates the change below.
	deadline := time.Now().Add(5 * time.Second)
	for backend.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial compile never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeShader(t, dir, "a.comp.wgsl", "compute v2")
	m.NotifyChange(path)

	ev := waitEvent(t, events)
	if ev.Path != path {
		t.Fatalf("event path = %q, want %q", ev.Path, path)
	}
	s, _ := m.GetShader(path)
	if string(s.Current.Bytecode) != "spv:compute v2" {
		t.Fatalf("cache holds %q before initial load finished", s.Current.Bytecode)
	}

	// Release the stale initial load; its result must be discarded.
	close(gate)
	select {
	case err := <-loadDone:
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("load did not return")
	}

	s, _ = m.GetShader(path)
	if string(s.Current.Bytecode) != "spv:compute v2" {
		t.Errorf("stale initial load overwrote newer hot-reload artifact: %q", s.Current.Bytecode)
	}
}

func TestDuplicateNotificationSkipsRecompile(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Touch the file without changing content, then notify twice.
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	compiles := m.Stats().Compiles
	m.NotifyChange(path)
	m.NotifyChange(path)

	expectNoEvent(t, events, 200*time.Millisecond)
	if got := m.Stats().Compiles; got != compiles {
		t.Errorf("compile jobs ran for unchanged content: %d -> %d", compiles, got)
	}
}

func TestEmptyPipelineSetFiresByDefault(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeShader(t, dir, "a.comp.wgsl", "compute v2")
	m.NotifyChange(path)

	ev := waitEvent(t, events)
	if len(ev.Pipelines) != 0 {
		t.Errorf("pipelines = %v, want empty", ev.Pipelines)
	}
}

func TestEmptyPipelineSetSuppressed(t *testing.T) {
	m, _ := newTestManager(t, WithFireOnEmptyPipelines(false))
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeShader(t, dir, "a.comp.wgsl", "compute v2")
	m.NotifyChange(path)

	expectNoEvent(t, events, 200*time.Millisecond)
	// The recompile itself must still have happened.
	s, _ := m.GetShader(path)
	if string(s.Current.Bytecode) != "spv:compute v2" {
		t.Errorf("cache holds %q, want recompiled bytecode", s.Current.Bytecode)
	}
}

func TestStopSilencesLateNotifications(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	var fired atomic.Int32
	m.AddReloadCallback(func(ReloadEvent) { fired.Add(1) })
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.Stop()

	writeShader(t, dir, "a.comp.wgsl", "compute v2")
	m.NotifyChange(path)
	time.Sleep(100 * time.Millisecond)

	if got := fired.Load(); got != 0 {
		t.Errorf("%d callbacks fired after Stop", got)
	}
}

func TestRecompileAllSubmitsOneJobPerShader(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	paths := []string{
		writeShader(t, dir, "a.comp.wgsl", "compute a"),
		writeShader(t, dir, "b.comp.wgsl", "compute b"),
		writeShader(t, dir, "c.comp.wgsl", "compute c"),
	}
	for _, p := range paths {
		if _, err := m.LoadCompute(context.Background(), p, compiler.DefaultOptions()); err != nil {
			t.Fatalf("load %s failed: %v", p, err)
		}
	}
	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	before := m.Stats().Compiles
	n, err := m.RecompileAll()
	if err != nil {
		t.Fatalf("RecompileAll failed: %v", err)
	}
	if n != len(paths) {
		t.Errorf("RecompileAll submitted %d jobs, want %d", n, len(paths))
	}
	for range paths {
		waitEvent(t, events)
	}
	if got := m.Stats().Compiles - before; got != uint64(len(paths)) {
		t.Errorf("%d compile jobs ran, want %d", got, len(paths))
	}
}

func TestRecompileAllRequiresStart(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.RecompileAll(); !errors.Is(err, ErrStopped) {
		t.Errorf("RecompileAll before Start = %v, want ErrStopped", err)
	}
}

func TestPollWatcherDetectsChange(t *testing.T) {
	m, _ := newTestManager(t, WithPollInterval(10*time.Millisecond))
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	events := collectEvents(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Move mtime explicitly; coarse filesystem timestamps can otherwise
	// hide a fast rewrite.
	writeShader(t, dir, "a.comp.wgsl", "compute v2 with more bytes")
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Path != path {
		t.Errorf("event path = %q, want %q", ev.Path, path)
	}
}

func TestStartTwice(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.Stop()
	m.Stop()
	if _, err := m.LoadCompute(context.Background(), "any", compiler.DefaultOptions()); !errors.Is(err, ErrStopped) {
		t.Errorf("load after Stop = %v, want ErrStopped", err)
	}
}

func TestCallbackRemoval(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	path := writeShader(t, dir, "a.comp.wgsl", "compute v1")

	if _, err := m.LoadCompute(context.Background(), path, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	var removedFired atomic.Int32
	remove := m.AddReloadCallback(func(ReloadEvent) { removedFired.Add(1) })
	events := collectEvents(m)
	if got := m.callbacks.len(); got != 2 {
		t.Fatalf("registered callbacks = %d, want 2", got)
	}
	remove()
	if got := m.callbacks.len(); got != 1 {
		t.Fatalf("callbacks after removal = %d, want 1", got)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeShader(t, dir, "a.comp.wgsl", "compute v2")
	m.NotifyChange(path)
	waitEvent(t, events)

	if got := removedFired.Load(); got != 0 {
		t.Errorf("removed callback fired %d times", got)
	}
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, WithWorkers(3))
	dirA := t.TempDir()
	dirB := t.TempDir()
	a := writeShader(t, dirA, "a.comp.wgsl", "compute a")
	b := writeShader(t, dirB, "b.comp.wgsl", "compute b")

	for _, p := range []string{a, b} {
		if _, err := m.LoadCompute(context.Background(), p, compiler.DefaultOptions()); err != nil {
			t.Fatalf("load failed: %v", err)
		}
	}

	stats := m.Stats()
	if stats.LoadedShaders != 2 {
		t.Errorf("LoadedShaders = %d, want 2", stats.LoadedShaders)
	}
	if stats.WatchedPaths != 2 {
		t.Errorf("WatchedPaths = %d, want 2", stats.WatchedPaths)
	}
	if stats.WatchedDirs != 2 {
		t.Errorf("WatchedDirs = %d, want 2", stats.WatchedDirs)
	}
	if stats.Workers != 3 {
		t.Errorf("Workers = %d, want 3", stats.Workers)
	}
	if stats.Compiles != 2 {
		t.Errorf("Compiles = %d, want 2", stats.Compiles)
	}
}

func TestMemoryCacheSkipsBackend(t *testing.T) {
	m, backend := newTestManager(t)
	dir := t.TempDir()
	a := writeShader(t, dir, "a.comp.wgsl", "identical source")
	b := writeShader(t, dir, "b.comp.wgsl", "identical source")

	if _, err := m.LoadCompute(context.Background(), a, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	calls := backend.calls.Load()
	if _, err := m.LoadCompute(context.Background(), b, compiler.DefaultOptions()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if backend.calls.Load() != calls {
		t.Error("identical content was recompiled instead of served from cache")
	}
}
