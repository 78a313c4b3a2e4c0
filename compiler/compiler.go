// Package compiler defines the compilation contract of the shader
// hot-reload subsystem: immutable per-request options, the compiled
// artifact retained per shader path, and the Backend interface the
// manager drives. The default backend compiles WGSL to SPIR-V with
// gogpu/naga; the core treats source as opaque text and bytecode as an
// opaque blob either way.
package compiler

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"lukechampine.com/blake3"
)

// Target selects the platform the bytecode is generated for.
type Target int

const (
	// TargetVulkan produces SPIR-V. This is the only target the naga
	// backend implements today.
	TargetVulkan Target = iota

	// TargetMetal is reserved for an MSL backend.
	TargetMetal

	// TargetOpenGL is reserved for a GLSL backend.
	TargetOpenGL
)

// String returns a human-readable name for the target.
func (t Target) String() string {
	switch t {
	case TargetVulkan:
		return "vulkan"
	case TargetMetal:
		return "metal"
	case TargetOpenGL:
		return "opengl"
	default:
		return "unknown"
	}
}

// Optimization selects how much effort the backend spends on the output.
type Optimization int

const (
	// OptimizationNone keeps debug information in the output.
	OptimizationNone Optimization = iota

	// OptimizationPerformance strips debug information and enables
	// whatever output optimization the backend offers.
	OptimizationPerformance
)

// String returns a human-readable name for the optimization level.
func (o Optimization) String() string {
	switch o {
	case OptimizationNone:
		return "none"
	case OptimizationPerformance:
		return "performance"
	default:
		return "unknown"
	}
}

// Options configures one compilation request. Options values are
// immutable and reproducible: the same Options and the same source
// produce the same fingerprint, which the caches key on.
type Options struct {
	// Target is the platform the bytecode is generated for.
	Target Target

	// Optimization is the effort level for the generated bytecode.
	Optimization Optimization

	// APISemantics requests strict graphics-API binding semantics.
	// Recorded in the artifact; the SPIR-V path always follows Vulkan
	// binding rules, so the naga backend treats it as informational.
	APISemantics bool

	// LanguageVersion is the source-language version the caller wrote
	// against (for example 450).
	LanguageVersion int
}

// DefaultOptions returns the options used when a caller passes the zero
// value nowhere: Vulkan target, performance optimization, strict API
// semantics, language version 450.
func DefaultOptions() Options {
	return Options{
		Target:          TargetVulkan,
		Optimization:    OptimizationPerformance,
		APISemantics:    true,
		LanguageVersion: 450,
	}
}

// Digest is a content fingerprint of (source, options). Identical source
// compiled with identical options has an identical Digest.
type Digest [32]byte

// String returns the digest in hex.
func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// Fingerprint computes the cache key for compiling source with opts.
// The options are folded in through a fixed-width canonical encoding so
// the digest does not depend on struct layout.
func Fingerprint(source []byte, opts Options) Digest {
	h := blake3.New(32, nil)
	var enc [16]byte
	binary.LittleEndian.PutUint32(enc[0:], uint32(opts.Target))
	binary.LittleEndian.PutUint32(enc[4:], uint32(opts.Optimization))
	if opts.APISemantics {
		enc[8] = 1
	}
	binary.LittleEndian.PutUint32(enc[12:], uint32(opts.LanguageVersion))
	h.Write(enc[:])
	h.Write(source)
	var d Digest
	h.Sum(d[:0])
	return d
}

// Artifact is the result of one compilation. Exactly one current
// Artifact is retained per shader path; superseded results are dropped.
// A successful Artifact is immutable after publication and safe to share
// across goroutines.
type Artifact struct {
	// Bytecode is the opaque compiled output (SPIR-V for TargetVulkan).
	// Nil when OK is false.
	Bytecode []byte

	// CompiledAt is when the compilation finished.
	CompiledAt time.Time

	// Options are the options the artifact was compiled with.
	Options Options

	// OK reports whether compilation succeeded.
	OK bool

	// Diagnostic holds the compiler diagnostic when OK is false.
	Diagnostic string
}

// Backend compiles shader source to bytecode. Implementations must be
// pure with respect to their inputs and safe for concurrent use: the
// manager calls Compile from multiple worker goroutines.
type Backend interface {
	// Compile compiles source with the given options and returns the
	// bytecode, or an error carrying the compiler diagnostic.
	// Implementations should honor ctx cancellation between stages.
	Compile(ctx context.Context, source string, opts Options) ([]byte, error)
}

// Error reports a rejected compilation. It carries the path the source
// was read from and the backend's diagnostic text.
type Error struct {
	// Path is the source file the compiler rejected.
	Path string

	// Diagnostic is the backend's diagnostic text.
	Diagnostic string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("compiler: %s: %s", e.Path, e.Diagnostic)
}
