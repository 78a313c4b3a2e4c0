package shaderwatch

import (
	"sort"
	"sync"
)

// DependencyGraph is the bidirectional mapping between shader source
// paths and the pipeline identifiers that consume them. The manager
// consults it on every successful hot-reload to compute the invalidation
// fan-out.
//
// Dependencies are static per engine session: there is no removal
// operation. Registration is idempotent.
//
// DependencyGraph is safe for concurrent use.
type DependencyGraph struct {
	mu sync.RWMutex

	// byShader maps a shader path to the set of pipeline ids using it.
	byShader map[string]map[string]struct{}

	// byPipeline maps a pipeline id to the set of shader paths it uses.
	byPipeline map[string]map[string]struct{}
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		byShader:   make(map[string]map[string]struct{}),
		byPipeline: make(map[string]map[string]struct{}),
	}
}

// Register adds the edge shaderPath → pipelineID. Registering an
// existing edge has no additional effect.
func (g *DependencyGraph) Register(shaderPath, pipelineID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.byShader[shaderPath] == nil {
		g.byShader[shaderPath] = make(map[string]struct{})
	}
	g.byShader[shaderPath][pipelineID] = struct{}{}

	if g.byPipeline[pipelineID] == nil {
		g.byPipeline[pipelineID] = make(map[string]struct{})
	}
	g.byPipeline[pipelineID][shaderPath] = struct{}{}
}

// PipelinesFor returns the pipeline ids that consume shaderPath, sorted
// for deterministic iteration. Unknown paths yield an empty slice.
func (g *DependencyGraph) PipelinesFor(shaderPath string) []string {
	g.mu.RLock()
	set := g.byShader[shaderPath]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ShadersFor returns the shader paths consumed by pipelineID, sorted.
// Unknown pipelines yield an empty slice.
func (g *DependencyGraph) ShadersFor(pipelineID string) []string {
	g.mu.RLock()
	set := g.byPipeline[pipelineID]
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	g.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// Shaders returns the number of shader paths with at least one edge.
func (g *DependencyGraph) Shaders() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byShader)
}

// Pipelines returns the number of pipeline ids with at least one edge.
func (g *DependencyGraph) Pipelines() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byPipeline)
}
