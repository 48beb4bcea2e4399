package dsl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"awgc/pkg/seq"
)

// Preset is a named, canned block of pulses (and optional variables) that a
// 'load preset' line splices into the description being parsed.
type Preset struct {
	Name        string
	Description string
	Variables   []*seq.Variable
	Nodes       []seq.Node
}

// Registry holds the presets available to one Parse invocation. It is an
// explicit value scoped to the call site, never process-wide state.
type Registry struct {
	presets map[string]*Preset
}

// NewRegistry returns an empty preset registry.
func NewRegistry() *Registry {
	return &Registry{presets: make(map[string]*Preset)}
}

// Register adds a preset, rejecting duplicates and unnamed entries.
func (r *Registry) Register(p *Preset) error {
	if p.Name == "" {
		return fmt.Errorf("preset has no name")
	}
	if _, exists := r.presets[p.Name]; exists {
		return fmt.Errorf("preset '%s' is already registered", p.Name)
	}
	r.presets[p.Name] = p
	return nil
}

// Lookup returns the preset with the given name.
func (r *Registry) Lookup(name string) (*Preset, bool) {
	p, ok := r.presets[name]
	return p, ok
}

// Names returns the number of registered presets; handy for CLI summaries.
func (r *Registry) Len() int { return len(r.presets) }

// presetFile is the YAML document layout for on-disk presets.
type presetFile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Variables   []struct {
		Name  string `yaml:"name"`
		Start string `yaml:"start"`
		Stop  string `yaml:"stop,omitempty"`
		Steps int    `yaml:"steps,omitempty"`
	} `yaml:"variables,omitempty"`
	Pulses []struct {
		Shape string `yaml:"shape"`
		Ch    int    `yaml:"ch"`
		Start string `yaml:"start"`
		Dur   string `yaml:"dur"`
		Amp   string `yaml:"amp"`
		Freq  string `yaml:"freq,omitempty"`
		Ref   string `yaml:"ref,omitempty"`
	} `yaml:"pulses"`
}

// LoadFile reads one YAML preset definition and registers it.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read preset %s: %w", path, err)
	}
	return r.loadYAML(data, path)
}

func (r *Registry) loadYAML(data []byte, origin string) error {
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse preset %s: %w", origin, err)
	}
	if pf.Name == "" {
		return fmt.Errorf("preset %s has no name", origin)
	}

	preset := &Preset{Name: pf.Name, Description: pf.Description}
	p := &parser{}

	for _, v := range pf.Variables {
		start, err := ParseQuantity(v.Start, 0)
		if err != nil {
			return fmt.Errorf("preset %s variable %s: %w", pf.Name, v.Name, err)
		}
		stop := start
		if v.Stop != "" {
			if stop, err = ParseQuantity(v.Stop, 0); err != nil {
				return fmt.Errorf("preset %s variable %s: %w", pf.Name, v.Name, err)
			}
		}
		steps := v.Steps
		if steps < 1 {
			steps = 1
		}
		if !isIdentifier(v.Name) {
			return fmt.Errorf("preset %s: invalid variable name %q", pf.Name, v.Name)
		}
		preset.Variables = append(preset.Variables, &seq.Variable{
			Name: v.Name, Start: start, Stop: stop, Steps: steps,
		})
	}

	for i, pl := range pf.Pulses {
		shape, ok := pulseKeywords[pl.Shape]
		if !ok {
			return fmt.Errorf("preset %s pulse %d: unknown shape %q", pf.Name, i, pl.Shape)
		}
		if pl.Ch < 1 {
			return fmt.Errorf("preset %s pulse %d: ch must be a positive channel number", pf.Name, i)
		}
		pulse := &seq.Pulse{Shape: shape, Channel: pl.Ch, WaveRef: pl.Ref}
		var err error
		if pulse.Start, err = p.parseRef(pl.Start, 0); err != nil {
			return fmt.Errorf("preset %s pulse %d: %w", pf.Name, i, err)
		}
		if pulse.Dur, err = p.parseRef(pl.Dur, 0); err != nil {
			return fmt.Errorf("preset %s pulse %d: %w", pf.Name, i, err)
		}
		if pulse.Amp, err = p.parseRef(pl.Amp, 0); err != nil {
			return fmt.Errorf("preset %s pulse %d: %w", pf.Name, i, err)
		}
		if pl.Freq != "" {
			if shape != seq.ShapeSine {
				return fmt.Errorf("preset %s pulse %d: freq is only valid on sine pulses", pf.Name, i)
			}
			if pulse.Freq, err = p.parseRef(pl.Freq, 0); err != nil {
				return fmt.Errorf("preset %s pulse %d: %w", pf.Name, i, err)
			}
		}
		if shape == seq.ShapeWave && pulse.WaveRef == "" {
			return fmt.Errorf("preset %s pulse %d: wave needs a ref", pf.Name, i)
		}
		preset.Nodes = append(preset.Nodes, pulse)
	}

	return r.Register(preset)
}
