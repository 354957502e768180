package robot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fenghuanghao1986/NAO-engine/internal/config"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
)

// Limb groups the parts that share a component prefix: "larm" owns
// "larm.shoulder", "larm.elbow" and so on. Components without a prefix hang
// off the "body" limb.
type Limb struct {
	Name  string
	parts map[string]Part
}

// Part returns a part by its full component name.
func (l *Limb) Part(component string) (Part, bool) {
	p, ok := l.parts[component]
	return p, ok
}

// Parts returns the full component names of the limb's parts, sorted.
func (l *Limb) Parts() []string {
	out := make([]string, 0, len(l.parts))
	for n := range l.parts {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Tree is the actuator tree. It is the single owner of every part.
type Tree struct {
	Robot string
	limbs map[string]*Limb
}

// Builder constructs an actuator tree from a profile.
type Builder func(*config.Profile) (*Tree, error)

// Build is the default Builder: one part per profile component.
func Build(p *config.Profile) (*Tree, error) {
	if p == nil {
		return nil, fmt.Errorf("build tree: nil profile")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}

	t := &Tree{Robot: p.Robot, limbs: make(map[string]*Limb)}
	for _, c := range p.Components {
		part, err := newPart(c)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", c.Name, err)
		}
		limb := limbName(c.Name)
		l, ok := t.limbs[limb]
		if !ok {
			l = &Limb{Name: limb, parts: make(map[string]Part)}
			t.limbs[limb] = l
		}
		l.parts[c.Name] = part
	}
	return t, nil
}

func newPart(c config.Component) (Part, error) {
	switch c.Kind {
	case config.KindJoint:
		bl := make(hw.BoundList, len(c.Degrees))
		rest := make([]float64, len(c.Degrees))
		for i, d := range c.Degrees {
			bl[i] = hw.Bound{Min: d.Min, Max: d.Max}
			rest[i] = d.Default
		}
		return NewJoint(c.Name, bl, rest), nil
	case config.KindLEDs:
		return NewLEDGroup(c.Name, c.LEDs), nil
	case config.KindGauge:
		d := c.Degrees[0]
		return NewGauge(c.Name, hw.Bound{Min: d.Min, Max: d.Max}, d.Default), nil
	case config.KindLabel:
		return NewLabel(c.Name, c.Text), nil
	}
	return nil, fmt.Errorf("unsupported kind %q", c.Kind)
}

func limbName(component string) string {
	if i := strings.IndexByte(component, '.'); i > 0 {
		return component[:i]
	}
	return "body"
}

// Limbs returns the limb names, sorted.
func (t *Tree) Limbs() []string {
	out := make([]string, 0, len(t.limbs))
	for n := range t.limbs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Limb returns a limb by name.
func (t *Tree) Limb(name string) (*Limb, bool) {
	l, ok := t.limbs[name]
	return l, ok
}

// Part finds a part by its full component name.
func (t *Tree) Part(component string) (Part, bool) {
	l, ok := t.limbs[limbName(component)]
	if !ok {
		return nil, false
	}
	return l.Part(component)
}

// Walk visits every part in limb then component order.
func (t *Tree) Walk(fn func(component string, p Part)) {
	for _, ln := range t.Limbs() {
		l := t.limbs[ln]
		for _, pn := range l.Parts() {
			fn(pn, l.parts[pn])
		}
	}
}

// Len returns the number of parts.
func (t *Tree) Len() int {
	n := 0
	for _, l := range t.limbs {
		n += len(l.parts)
	}
	return n
}

// Release drops every part. The tree is empty afterwards.
func (t *Tree) Release() {
	t.limbs = make(map[string]*Limb)
}
