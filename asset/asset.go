// Package asset issues stable identifiers for file-backed engine resources
// and records their logical kind. It is the leaf dependency of the shader
// hot-reload subsystem: everything that needs a durable handle to a source
// file goes through a Registry.
package asset

import "github.com/google/uuid"

// Kind classifies the logical type of a registered asset.
type Kind int

const (
	// KindShader is a shader source file (WGSL text).
	KindShader Kind = iota

	// KindTexture is an image asset. Not exercised by the hot-reload core.
	KindTexture

	// KindMesh is a geometry asset. Not exercised by the hot-reload core.
	KindMesh
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindShader:
		return "shader"
	case KindTexture:
		return "texture"
	case KindMesh:
		return "mesh"
	default:
		return "unknown"
	}
}

// ID is an opaque, process-unique asset identifier.
// The zero value is invalid and never issued by NewID.
type ID struct {
	value uuid.UUID
}

// NewID returns a fresh, valid, process-unique identifier.
// Two calls never return the same ID within a process lifetime.
func NewID() ID {
	return ID{value: uuid.New()}
}

// IsValid reports whether the ID was produced by NewID.
// The zero value reports false.
func (id ID) IsValid() bool {
	return id.value != uuid.Nil
}

// String returns the canonical textual form of the ID.
// The zero value renders as the nil UUID.
func (id ID) String() string {
	return id.value.String()
}
