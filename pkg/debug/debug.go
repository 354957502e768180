// Package debug holds development helpers: register and command dumps,
// lookup checks and random bounded joint commands.
package debug

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
)

// PrintRegisters writes one line per register, in name order.
func PrintRegisters(w io.Writer, registers map[string]hw.Value) error {
	names := make([]string, 0, len(registers))
	for n := range registers {
		names = append(names, n)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tSHAPE\tVALUE")
	for _, n := range names {
		v := registers[n]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", n, v.Shape(), hw.Format(v))
	}
	return tw.Flush()
}

// PrintCommands writes the command list: every component, whether it takes
// writes, and its per-degree bounds.
func PrintCommands(w io.Writer, cmds []control.Command) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tSHAPE\tMODE\tBOUNDS")
	for _, c := range cmds {
		mode := "read"
		if c.Writable {
			mode = "read/write"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Component, c.Shape, mode, formatBounds(c.Bounds))
	}
	return tw.Flush()
}

func formatBounds(bl hw.BoundList) string {
	if len(bl) == 0 {
		return "-"
	}
	parts := make([]string, len(bl))
	for i, b := range bl {
		parts[i] = fmt.Sprintf("[%.4f, %.4f]", b.Min, b.Max)
	}
	return strings.Join(parts, " ")
}

// Sanity looks a component up in both the register snapshot and the
// command list and describes what it found.
func Sanity(snap *control.Snapshot, cmds []control.Command, component string) (string, error) {
	v, ok := snap.Registers[component]
	if !ok {
		return "", errcode.New(errcode.UnknownComponent, "sanity", component, "no register")
	}
	idx := sort.Search(len(cmds), func(i int) bool { return cmds[i].Component >= component })
	if idx == len(cmds) || cmds[idx].Component != component {
		return "", errcode.New(errcode.UnknownComponent, "sanity", component, "registered but not in command list")
	}
	c := cmds[idx]
	if c.Shape != v.Shape() {
		return "", errcode.New(errcode.CorruptRecord, "sanity", component,
			fmt.Sprintf("register is %s, command list says %s", v.Shape(), c.Shape))
	}
	return fmt.Sprintf("%s = %s (%s, writable=%t, bounds %s)", component, hw.Format(v), v.Shape(), c.Writable, formatBounds(c.Bounds)), nil
}

// RandomWithin returns a value uniformly distributed in b.
func RandomWithin(r *rand.Rand, b hw.Bound) float64 {
	if b.Max <= b.Min {
		return b.Min
	}
	return b.Min + r.Float64()*(b.Max-b.Min)
}

// RandomizeJoints builds one write intent per writable joint, each degree
// set to a random value within its bounds. LED groups are left alone.
func RandomizeJoints(r *rand.Rand, module string, cmds []control.Command) []intent.Intent {
	var out []intent.Intent
	for _, c := range cmds {
		if !c.Writable || len(c.Bounds) == 0 {
			continue
		}
		if c.Shape != hw.ShapeScalar && c.Shape != hw.ShapePair {
			continue
		}
		values := make([]float64, len(c.Bounds))
		for i, b := range c.Bounds {
			values[i] = RandomWithin(r, b)
		}
		out = append(out, intent.NewWrite(module, c.Component, values...))
	}
	return out
}
