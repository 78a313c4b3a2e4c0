// Package host is the engine-facing layer of the hot-reload subsystem.
// It owns one shaderwatch.Manager, pre-loads the manifest's essential
// shader programs at startup, declares the static shader→pipeline
// dependency table, and forwards reload events into renderer-owned
// pipeline invalidation.
package host

import (
	"fmt"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/shaderwatch/compiler"
)

// Duration decodes "500ms"-style strings from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("host: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// OptionsConfig is the YAML form of compiler.Options.
type OptionsConfig struct {
	Target          string `yaml:"target"`
	Optimization    string `yaml:"optimization"`
	APISemantics    bool   `yaml:"api_semantics"`
	LanguageVersion int    `yaml:"language_version"`
}

// Compile converts the config to compiler.Options. Empty fields fall
// back to the defaults (vulkan, performance).
func (c OptionsConfig) Compile() (compiler.Options, error) {
	opts := compiler.DefaultOptions()
	opts.APISemantics = c.APISemantics
	if c.LanguageVersion != 0 {
		opts.LanguageVersion = c.LanguageVersion
	}

	switch c.Target {
	case "", "vulkan":
		opts.Target = compiler.TargetVulkan
	case "metal":
		opts.Target = compiler.TargetMetal
	case "opengl":
		opts.Target = compiler.TargetOpenGL
	default:
		return opts, fmt.Errorf("host: unknown target %q", c.Target)
	}

	switch c.Optimization {
	case "", "performance":
		opts.Optimization = compiler.OptimizationPerformance
	case "none":
		opts.Optimization = compiler.OptimizationNone
	default:
		return opts, fmt.Errorf("host: unknown optimization %q", c.Optimization)
	}
	return opts, nil
}

// Program declares one shader program: either a vertex/fragment pair or
// a standalone compute shader, plus the pipelines consuming it.
type Program struct {
	Name      string   `yaml:"name"`
	Vertex    string   `yaml:"vertex,omitempty"`
	Fragment  string   `yaml:"fragment,omitempty"`
	Compute   string   `yaml:"compute,omitempty"`
	Pipelines []string `yaml:"pipelines"`
}

// paths returns the shader source paths of the program.
func (p Program) paths() []string {
	if p.Compute != "" {
		return []string{p.Compute}
	}
	return []string{p.Vertex, p.Fragment}
}

// validate checks the program declares exactly one shape.
func (p Program) validate() error {
	isCompute := p.Compute != ""
	isRender := p.Vertex != "" || p.Fragment != ""
	switch {
	case isCompute && isRender:
		return fmt.Errorf("host: program %q mixes compute and render stages", p.Name)
	case isCompute:
		return nil
	case p.Vertex == "" || p.Fragment == "":
		return fmt.Errorf("host: program %q needs both vertex and fragment", p.Name)
	default:
		return nil
	}
}

// Manifest is the static shader configuration of an engine session:
// which programs to pre-load, which pipelines consume them, and which
// paths to watch.
type Manifest struct {
	PollInterval Duration      `yaml:"poll_interval,omitempty"`
	Watch        []string      `yaml:"watch,omitempty"`
	Options      OptionsConfig `yaml:"options"`
	Programs     []Program     `yaml:"programs"`
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("host: reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates YAML manifest bytes.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("host: parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks program shapes and watch patterns.
func (m Manifest) Validate() error {
	if len(m.Programs) == 0 {
		return fmt.Errorf("host: manifest declares no programs")
	}
	for _, p := range m.Programs {
		if err := p.validate(); err != nil {
			return err
		}
	}
	for _, pattern := range m.Watch {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("host: invalid watch pattern %q", pattern)
		}
	}
	if _, err := m.Options.Compile(); err != nil {
		return err
	}
	return nil
}

// Matches reports whether path falls under one of the manifest's watch
// patterns. A manifest without patterns matches every path.
func (m Manifest) Matches(path string) bool {
	if len(m.Watch) == 0 {
		return true
	}
	for _, pattern := range m.Watch {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
