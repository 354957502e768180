package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenghuanghao1986/NAO-engine/internal/config"
	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/journal"
	"github.com/fenghuanghao1986/NAO-engine/pkg/server"
	"github.com/fenghuanghao1986/NAO-engine/pkg/shm"
)

type runOptions struct {
	*rootOptions
	Profile   string
	ProfileID uint16
	Listen    string
	NoHTTP    bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control cycle",
		Long: `Install the hardware interface, attach the shared segment and run
frames at NAO_FRAME_RATE until interrupted.

SIGHUP reloads the profile and re-tags it with the profile id.

Example:
  naoengine run
  naoengine run --profile ./nao-v6.yaml --profile-id 6 --listen :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Profile, "profile", "", "robot profile YAML, overrides NAO_PROFILE")
	cmd.Flags().Uint16Var(&opts.ProfileID, "profile-id", 0, "profile id, overrides NAO_PROFILE_ID")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address, overrides NAO_HTTP_ADDR")
	cmd.Flags().BoolVar(&opts.NoHTTP, "no-http", false, "do not serve the HTTP API")

	return cmd
}

func runEngine(parent context.Context, opts *runOptions) error {
	e, err := opts.setup()
	if err != nil {
		return err
	}
	if opts.Profile != "" {
		e.Profile = opts.Profile
	}
	if opts.ProfileID != 0 {
		e.ProfileID = opts.ProfileID
	}
	if opts.Listen != "" {
		e.HTTPAddr = opts.Listen
	}
	logger := log.With("cmd", "run")

	profile := config.DefaultProfile()
	if e.Profile != "" {
		if profile, err = config.LoadProfile(e.Profile); err != nil {
			return err
		}
	}
	profile.ID = e.ProfileID

	m := control.New(control.Options{
		Profile:     profile,
		LockTimeout: e.LockTimeout,
		Logger:      logger,
		Open: func(names []string) (*shm.Link, error) {
			return shm.OpenLink(e.Segment, e.Lock, names)
		},
	})

	var j *journal.Journal
	if e.Journal != "" {
		if j, err = journal.Open(e.Journal, logger); err != nil {
			return err
		}
		defer j.Close()
		m.AddObserver(j)
	}

	var srv *server.Server
	if !opts.NoHTTP {
		cfg := server.Config{Addr: e.HTTPAddr, Logger: logger}
		if j != nil {
			cfg.Journal = j
		}
		srv = server.New(m, cfg)
		m.AddObserver(srv.Frames())
	}

	if err := m.Install(); err != nil {
		return err
	}
	defer m.Uninstall()
	if err := m.Start(); err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	reloadOnHangup(ctx, func() {
		if err := m.Reconfigure(e.Profile, e.ProfileID); err != nil {
			logger.Error("reload failed", "profile", e.Profile, "error", err)
			return
		}
		logger.Info("profile reloaded", "profile", e.Profile, "id", e.ProfileID)
		if srv != nil {
			if err := srv.Announce(); err != nil {
				logger.Warn("announce reload", "error", err)
			}
		}
	})

	if srv != nil {
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("http server stopped", "error", err)
				cancel()
			}
		}()
		defer srv.Shutdown()
	}

	snap := m.Snapshot()
	logger.Info("engine running",
		"robot", snap.Robot,
		"profile_id", snap.ProfileID,
		"components", len(m.Commands()),
		"segment", e.Segment,
		"rate", e.FrameRate)

	err = m.Run(ctx, e.FramePeriod())
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("control cycle: %w", err)
}
