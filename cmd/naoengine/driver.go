package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenghuanghao1986/NAO-engine/internal/config"
	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/debug"
	"github.com/fenghuanghao1986/NAO-engine/pkg/driversim"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/shm"
)

// attachRetry is how often the driver looks for a segment that is not
// there yet.
const attachRetry = 250 * time.Millisecond

type driverOptions struct {
	*rootOptions
	MaxStep float64
	Drain   float64
	Wait    time.Duration
}

func newDriverCommand(root *rootOptions) *cobra.Command {
	opts := &driverOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "driver-sim",
		Short: "Simulate the hardware driver on the shared segment",
		Long: `Attach to the segment a running engine formatted and play the
driver: commanded joints move toward their target and are echoed back,
battery gauges drain.

Example:
  naoengine driver-sim --max-step 0.05`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDriver(opts)
		},
	}

	cmd.Flags().Float64Var(&opts.MaxStep, "max-step", 0.02, "largest joint move per step, 0 jumps to target")
	cmd.Flags().Float64Var(&opts.Drain, "drain", 0.00001, "battery drain per step")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 30*time.Second, "how long to wait for the engine's segment")

	return cmd
}

func runDriver(opts *driverOptions) error {
	e, err := opts.setup()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	// The engine reformats the segment when it is reconfigured with another
	// component set; reattach and carry on.
	for {
		err := simulate(ctx, e, opts)
		if ctx.Err() != nil {
			return nil
		}
		if !errcode.Is(err, errcode.LayoutMismatch) {
			return err
		}
		log.Info("segment layout changed, reattaching", "path", e.Segment)
	}
}

func simulate(ctx context.Context, e config.Env, opts *driverOptions) error {
	link, err := waitForSegment(ctx, e, opts.Wait)
	if err != nil {
		return err
	}
	defer link.Close()

	var gauges []driversim.Gauge
	for _, name := range link.Table.Names() {
		if name == "battery.charge" {
			gauges = append(gauges, driversim.Gauge{Name: name, Level: 1, Drain: opts.Drain})
		}
	}

	sim := driversim.New(link, driversim.Config{
		Period:      e.FramePeriod(),
		LockTimeout: e.LockTimeout,
		MaxStep:     opts.MaxStep,
		Gauges:      gauges,
		Logger:      log.With("cmd", "driver-sim"),
	})
	return sim.Run(ctx)
}

// waitForSegment opens the engine's segment, retrying while it does not
// exist yet or is still being formatted.
func waitForSegment(ctx context.Context, e config.Env, wait time.Duration) (*shm.Link, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(attachRetry)
	defer ticker.Stop()

	for {
		link, err := shm.OpenExisting(e.Segment, e.Lock)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errcode.Is(err, errcode.LayoutMismatch) {
			return nil, err
		}
		log.Debug("waiting for segment", "path", e.Segment, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("segment %s: %w (last error: %v)", e.Segment, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func newInspectCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Dump the shared segment's records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.setup()
			if err != nil {
				return err
			}
			link, err := shm.OpenExisting(e.Segment, e.Lock)
			if err != nil {
				return err
			}
			defer link.Close()

			regs, err := readSegment(cmd.Context(), link, e.LockTimeout)
			if err != nil {
				return err
			}
			return debug.PrintRegisters(os.Stdout, regs)
		},
	}
}

// readSegment reads every written record under the lock. Records that fail
// to decode are logged and skipped.
func readSegment(ctx context.Context, link *shm.Link, timeout time.Duration) (map[string]hw.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := link.Lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer link.Lock.Release()

	out := make(map[string]hw.Value)
	for slot, name := range link.Table.Names() {
		rec, err := link.Table.Read(slot)
		if err != nil {
			log.Warn("unreadable record", "component", name, "error", err)
			continue
		}
		if rec.Value != nil {
			out[name] = rec.Value
		}
	}
	return out, nil
}
