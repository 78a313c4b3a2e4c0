package shaderwatch

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/shaderwatch/asset"
	"github.com/gogpu/shaderwatch/compiler"
)

// State is the lifecycle state of one watched shader.
//
// Transitions: Unloaded → Compiling → Loaded on success, or
// Compiling → Failed when the first compilation is rejected. A shader
// that fails on hot-reload after a prior success stays Loaded and keeps
// its last good artifact.
type State int

const (
	// StateUnloaded means the path is registered but no compilation has
	// been attempted.
	StateUnloaded State = iota

	// StateCompiling means a compilation job is in flight and no prior
	// good artifact exists.
	StateCompiling

	// StateLoaded means a good artifact is available.
	StateLoaded

	// StateFailed means compilation was rejected and no good artifact
	// ever existed for the path.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateCompiling:
		return "compiling"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Shader is a point-in-time view of one watched shader file. It is a
// value snapshot: the manager never hands out references into its own
// mutable state. Current is nil until the first successful compilation;
// once published an artifact is immutable and safe to share.
type Shader struct {
	// Path is the source file path, as given to the load call.
	Path string

	// Asset is the registry identifier owning the path.
	Asset asset.ID

	// Stage is the pipeline stage the shader was loaded for.
	Stage gputypes.ShaderStage

	// State is the lifecycle state at snapshot time.
	State State

	// Current is the latest successful compilation, or nil.
	Current *compiler.Artifact
}

// Stats is a point-in-time snapshot of manager activity. All fields are
// readable while the manager is running.
type Stats struct {
	// LoadedShaders is the number of shaders with a good artifact.
	LoadedShaders int

	// WatchedPaths is the number of source files under watch.
	WatchedPaths int

	// WatchedDirs is the number of distinct directories containing
	// watched files.
	WatchedDirs int

	// Workers is the size of the compiler worker pool.
	Workers int

	// Compiles counts compilation jobs executed, including cache hits.
	Compiles uint64

	// Failures counts rejected compilations.
	Failures uint64
}
