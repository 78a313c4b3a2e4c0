// Package shaderwatch is the shader hot-reload and pipeline-dependency
// subsystem of a real-time rendering engine.
//
// A Manager watches WGSL shader source files, recompiles changed files
// to SPIR-V on a fixed pool of background workers, tracks which
// rendering pipelines depend on which shader files, and notifies
// registered listeners when a pipeline must be rebuilt. The renderer
// owns GPU pipeline objects; this package never touches them.
//
// Basic usage:
//
//	mgr := shaderwatch.New()
//	vert, frag, err := mgr.LoadRenderPair(ctx,
//	    "shaders/simple.vert.wgsl", "shaders/simple.frag.wgsl",
//	    compiler.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr.RegisterPipelineDependency(vert.Path, "simple_pipeline")
//	mgr.RegisterPipelineDependency(frag.Path, "simple_pipeline")
//	remove := mgr.AddReloadCallback(func(ev shaderwatch.ReloadEvent) {
//	    // queue ev for the render thread
//	})
//	defer remove()
//	mgr.Start()
//	defer mgr.Stop()
//
// Compilation failures on a hot reload never disturb the renderer: the
// manager keeps the last good bytecode for the path, logs the
// diagnostic, and fires no event. Failures on the initial synchronous
// load propagate to the caller.
//
// shaderwatch produces no log output by default; see SetLogger.
package shaderwatch
