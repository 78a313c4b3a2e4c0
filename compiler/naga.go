package compiler

import (
	"context"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"
)

// Naga is the default Backend. It compiles WGSL source to SPIR-V with
// the pure-Go naga compiler.
//
// Only TargetVulkan is implemented; other targets return an error so a
// misconfigured load fails loudly instead of producing bytecode for the
// wrong platform. Naga is stateless and safe for concurrent use.
type Naga struct{}

// NewNaga returns a naga-backed compiler.
func NewNaga() *Naga {
	return &Naga{}
}

// Compile compiles WGSL source to SPIR-V.
//
// OptimizationNone keeps debug information (OpName, OpLine) in the
// output; OptimizationPerformance strips it. IR validation is always on:
// hot-reload feeds this backend freshly edited source, and a precise
// validation diagnostic is worth more than the validation cost.
func (n *Naga) Compile(ctx context.Context, source string, opts Options) ([]byte, error) {
	if opts.Target != TargetVulkan {
		return nil, fmt.Errorf("naga backend: target %s not supported", opts.Target)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bytecode, err := naga.CompileWithOptions(source, naga.CompileOptions{
		SPIRVVersion: spirv.Version1_3,
		Debug:        opts.Optimization == OptimizationNone,
		Validate:     true,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return bytecode, nil
}
