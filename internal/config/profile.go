package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind is the kind of physical part a profile component describes.
type Kind string

const (
	KindJoint Kind = "joint" // bounded actuator with 1 or 2 degrees
	KindLEDs  Kind = "leds"  // LED group, one degree per LED
	KindGauge Kind = "gauge" // read-only scalar sensor
	KindLabel Kind = "label" // read-only text sensor
)

// Limits of what one component can describe.
const (
	MaxNameLen    = 32
	MaxLEDs       = 15
	MaxLEDNameLen = 14
	MaxTextLen    = 242
)

// Degree is one degree of freedom of a joint, or the range of a gauge.
type Degree struct {
	Name    string  `yaml:"name" json:"name"`
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Default float64 `yaml:"default" json:"default"`
}

// Component describes one addressable part of the robot.
type Component struct {
	Name    string   `yaml:"name" json:"name"`
	Kind    Kind     `yaml:"kind" json:"kind"`
	Degrees []Degree `yaml:"degrees,omitempty" json:"degrees,omitempty"`
	LEDs    []string `yaml:"leds,omitempty" json:"leds,omitempty"`
	Text    string   `yaml:"text,omitempty" json:"text,omitempty"`
}

// Profile describes a robot body: every component this process mirrors.
type Profile struct {
	Robot      string      `yaml:"robot" json:"robot"`
	ID         uint16      `yaml:"id" json:"id"`
	Components []Component `yaml:"components" json:"components"`
}

// LoadProfile reads and validates a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every component.
func (p *Profile) Validate() error {
	if len(p.Components) == 0 {
		return fmt.Errorf("profile %q has no components", p.Robot)
	}
	seen := make(map[string]bool, len(p.Components))
	for i := range p.Components {
		c := &p.Components[i]
		if c.Name == "" {
			return fmt.Errorf("component %d: name is required", i)
		}
		if len(c.Name) > MaxNameLen {
			return fmt.Errorf("component %s: name longer than %d bytes", c.Name, MaxNameLen)
		}
		if seen[c.Name] {
			return fmt.Errorf("component %s: duplicate name", c.Name)
		}
		seen[c.Name] = true
		if err := c.validate(); err != nil {
			return fmt.Errorf("component %s: %w", c.Name, err)
		}
	}
	return nil
}

func (c *Component) validate() error {
	switch c.Kind {
	case KindJoint:
		if len(c.Degrees) < 1 || len(c.Degrees) > 2 {
			return fmt.Errorf("joint needs 1 or 2 degrees, has %d", len(c.Degrees))
		}
	case KindGauge:
		if len(c.Degrees) != 1 {
			return fmt.Errorf("gauge needs exactly 1 range, has %d", len(c.Degrees))
		}
	case KindLEDs:
		if len(c.LEDs) == 0 || len(c.LEDs) > MaxLEDs {
			return fmt.Errorf("led group needs 1..%d leds, has %d", MaxLEDs, len(c.LEDs))
		}
		seen := make(map[string]bool, len(c.LEDs))
		for _, l := range c.LEDs {
			if l == "" || len(l) > MaxLEDNameLen {
				return fmt.Errorf("led name %q must be 1..%d bytes", l, MaxLEDNameLen)
			}
			if seen[l] {
				return fmt.Errorf("duplicate led %q", l)
			}
			seen[l] = true
		}
		return nil
	case KindLabel:
		if len(c.Text) > MaxTextLen {
			return fmt.Errorf("label text longer than %d bytes", MaxTextLen)
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q", c.Kind)
	}

	for _, d := range c.Degrees {
		if d.Min > d.Max {
			return fmt.Errorf("degree %s: min %.4f > max %.4f", d.Name, d.Min, d.Max)
		}
		if d.Default < d.Min || d.Default > d.Max {
			return fmt.Errorf("degree %s: default %.4f outside [%.4f, %.4f]", d.Name, d.Default, d.Min, d.Max)
		}
	}
	return nil
}

// Component returns the named component.
func (p *Profile) Component(name string) (Component, bool) {
	for _, c := range p.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}
