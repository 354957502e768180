package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/fenghuanghao1986/NAO-engine/internal/config"
	"github.com/fenghuanghao1986/NAO-engine/internal/httpc"
	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/debug"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
	"github.com/fenghuanghao1986/NAO-engine/pkg/protocol"
)

func (o *rootOptions) endpoint(path string) string {
	return strings.TrimRight(o.Addr, "/") + path
}

func newCommandsCommand(root *rootOptions) *cobra.Command {
	var local, asJSON bool
	var profilePath string

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List addressable components and their bounds",
		Long: `Print every component a running engine accepts, with its shape,
whether it takes writes and its per-degree bounds. With --local the list
is built from a profile without contacting an engine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cmds []control.Command
			var err error
			if local {
				cmds, err = localCommands(profilePath)
			} else {
				cmds, err = fetchCommands(root)
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(protocol.EncodeCommands(cmds))
			}
			return debug.PrintCommands(os.Stdout, cmds)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "build the list from a profile instead of asking the engine")
	cmd.Flags().StringVar(&profilePath, "profile", "", "profile YAML for --local (default built-in NAO body)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func fetchCommands(root *rootOptions) ([]control.Command, error) {
	var data []protocol.CommandData
	if _, err := httpc.GetJSON(root.endpoint("/api/commands"), &data); err != nil {
		return nil, fmt.Errorf("fetch commands: %w", err)
	}
	return protocol.DecodeCommands(data)
}

func localCommands(profilePath string) ([]control.Command, error) {
	p := config.DefaultProfile()
	if profilePath != "" {
		var err error
		if p, err = config.LoadProfile(profilePath); err != nil {
			return nil, err
		}
	}
	m := control.New(control.Options{Profile: p, Logger: log.Discard()})
	if err := m.Install(); err != nil {
		return nil, err
	}
	defer m.Uninstall()
	return m.Commands(), nil
}

func newSubmitCommand(root *rootOptions) *cobra.Command {
	var module string
	var overWS bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit <component> [value...]",
		Short: "Read or write one component on a running engine",
		Long: `Submit one intent. With values it is a write, one value per degree
of freedom; without values it is a read.

Example:
  naoengine submit head.yaw 0.4
  naoengine submit larm.hand
  naoengine submit head.eyes 1 0 1
  naoengine submit --ws head.pitch -0.2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.IntentData{Module: module, Component: args[0], Kind: intent.Read.String()}
			for _, a := range args[1:] {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("value %q: %w", a, err)
				}
				req.Values = append(req.Values, v)
			}
			if len(req.Values) > 0 {
				req.Kind = intent.Write.String()
			}

			var res protocol.ResultData
			var err error
			if overWS {
				res, err = submitWS(cmd.Context(), root, req, timeout)
			} else {
				res, err = postIntent(root, req)
			}
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&module, "module", "cli", "module name recorded with the intent")
	cmd.Flags().BoolVar(&overWS, "ws", false, "submit over the frame websocket instead of HTTP")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long --ws waits for the result")

	return cmd
}

func newRandomCommand(root *rootOptions) *cobra.Command {
	var seed uint64
	var count int
	var pause time.Duration

	cmd := &cobra.Command{
		Use:   "random",
		Short: "Send random in-bounds positions to every writable joint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmds, err := fetchCommands(root)
			if err != nil {
				return err
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			r := rand.New(rand.NewPCG(seed, seed>>1))

			for round := 0; round < count; round++ {
				if round > 0 {
					time.Sleep(pause)
				}
				for _, in := range debug.RandomizeJoints(r, "random", cmds) {
					res, err := postIntent(root, protocol.IntentData{
						Module:    in.Module,
						Component: in.Component,
						Kind:      in.Kind.String(),
						Values:    in.Payload,
					})
					if err != nil {
						return err
					}
					printResult(res)
				}
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (default time based)")
	cmd.Flags().IntVar(&count, "count", 1, "number of rounds")
	cmd.Flags().DurationVar(&pause, "pause", time.Second, "pause between rounds")

	return cmd
}

// postIntent submits req over HTTP.
func postIntent(root *rootOptions, req protocol.IntentData) (protocol.ResultData, error) {
	var res protocol.ResultData
	if _, err := httpc.PostJSON(root.endpoint("/api/intents"), req, &res); err != nil {
		return res, remoteError(req.Kind+" "+req.Component, err)
	}
	return res, nil
}

// submitWS submits req over the frame websocket and waits for its result.
func submitWS(ctx context.Context, root *rootOptions, req protocol.IntentData, timeout time.Duration) (protocol.ResultData, error) {
	conn, err := dialFrames(ctx, root)
	if err != nil {
		return protocol.ResultData{}, err
	}
	defer conn.Close()

	msg, err := protocol.NewIntentMessage(req.Module, req.Component, req.Kind, req.Values...)
	if err != nil {
		return protocol.ResultData{}, err
	}
	if err := writeMessage(conn, msg); err != nil {
		return protocol.ResultData{}, fmt.Errorf("send intent: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return protocol.ResultData{}, fmt.Errorf("wait for result: %w", err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeResult:
			res, err := msg.GetResultData()
			if err != nil {
				return protocol.ResultData{}, err
			}
			return *res, nil
		case protocol.TypeError:
			e, err := msg.GetErrorData()
			if err != nil {
				return protocol.ResultData{}, err
			}
			return protocol.ResultData{}, fmt.Errorf("%s %s: %s (%s)", req.Kind, req.Component, e.Error, e.Code)
		}
	}
}

// remoteError unwraps the engine's error body from a failed request.
func remoteError(what string, err error) error {
	var se *httpc.StatusError
	if errors.As(err, &se) {
		var e protocol.ErrorData
		if json.Unmarshal(se.Body, &e) == nil && e.Code != "" {
			return fmt.Errorf("%s: %s (%s)", what, e.Error, e.Code)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func newReconfigureCommand(root *rootOptions) *cobra.Command {
	var id uint16

	cmd := &cobra.Command{
		Use:   "reconfigure [profile]",
		Short: "Rebuild a running engine from a profile",
		Long: `Ask the engine to reload its profile, or load another one. The
profile path is read on the engine's host. Values of unchanged components
are kept and clamped to the new bounds.

Example:
  naoengine reconfigure --id 7
  naoengine reconfigure /etc/nao/nao-v6.yaml --id 6`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.ReconfigureData{ID: id}
			if len(args) == 1 {
				req.Profile = args[0]
			}
			st, err := reconfigure(root, req)
			if err != nil {
				return err
			}
			fmt.Printf("reconfigured robot=%s profile_id=%d state=%s\n", st.Robot, st.ProfileID, st.State)
			return nil
		},
	}

	cmd.Flags().Uint16Var(&id, "id", 0, "profile id to tag the new build with")

	return cmd
}

func reconfigure(root *rootOptions, req protocol.ReconfigureData) (protocol.StateData, error) {
	var st protocol.StateData
	if _, err := httpc.PostJSON(root.endpoint("/api/reconfigure"), req, &st); err != nil {
		return st, remoteError("reconfigure", err)
	}
	return st, nil
}

func newSanityCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sanity <component>",
		Short: "Check a component against the register snapshot and command list",
		Long: `Fetch the registers and the command list from a running engine and
check that they agree on the component: it must appear in both with the
same shape.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := sanity(root, args[0])
			if err != nil {
				return err
			}
			fmt.Println(desc)
			return nil
		},
	}
}

func sanity(root *rootOptions, component string) (string, error) {
	var regs map[string]protocol.Value
	if _, err := httpc.GetJSON(root.endpoint("/api/registers"), &regs); err != nil {
		return "", remoteError("fetch registers", err)
	}
	snap := &control.Snapshot{Registers: make(map[string]hw.Value, len(regs))}
	for name, v := range regs {
		hv, err := v.Decode()
		if err != nil {
			return "", fmt.Errorf("register %s: %w", name, err)
		}
		snap.Registers[name] = hv
	}
	cmds, err := fetchCommands(root)
	if err != nil {
		return "", err
	}
	return debug.Sanity(snap, cmds, component)
}

func printResult(res protocol.ResultData) {
	line := fmt.Sprintf("%-20s %-6s %-8s", res.Component, res.Kind, res.Status)
	if len(res.Applied) > 0 {
		line += fmt.Sprintf(" applied=%v", res.Applied)
	}
	if res.Value != nil {
		if v, err := res.Value.Decode(); err == nil {
			line += " value=" + hw.Format(v)
		}
	}
	if res.Code != "" {
		line += " code=" + res.Code
	}
	fmt.Println(line)
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	var all bool
	var ping time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream frames from a running engine",
		Long: `Connect to the engine's frame websocket and print one line per
frame. Idle frames are skipped unless --all is given. The engine's state
and command list are printed on connect and after every reconfigure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return watchFrames(ctx, os.Stdout, root, all, ping)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "print idle frames too")
	cmd.Flags().DurationVar(&ping, "ping", 5*time.Second, "ping interval for round-trip reports, 0 disables")

	return cmd
}

// dialFrames connects to the engine's frame websocket.
func dialFrames(ctx context.Context, root *rootOptions) (*websocket.Conn, error) {
	u, err := url.Parse(root.endpoint("/ws/frames"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return conn, nil
}

func writeMessage(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func watchFrames(ctx context.Context, out io.Writer, root *rootOptions, all bool, ping time.Duration) error {
	conn, err := dialFrames(ctx, root)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	if ping > 0 {
		go pingLoop(ctx, conn, ping)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeFrame:
			if fr, err := msg.GetFrameData(); err == nil {
				printFrame(out, fr, all)
			}
		case protocol.TypeState:
			if st, err := msg.GetStateData(); err == nil {
				fmt.Fprintf(out, "state %s robot=%s profile_id=%d seq=%d registers=%d\n",
					st.State, st.Robot, st.ProfileID, st.Seq, len(st.Registers))
			}
		case protocol.TypeCommands:
			if cmds, err := msg.GetCommandsData(); err == nil {
				fmt.Fprintf(out, "commands %d components\n", len(cmds))
			}
		case protocol.TypePong:
			if p, err := msg.GetPongData(); err == nil {
				fmt.Fprintf(out, "pong %s rtt=%dms\n", p.ID, time.Now().UnixMilli()-p.PingTS)
			}
		case protocol.TypeError:
			if e, err := msg.GetErrorData(); err == nil {
				fmt.Fprintf(out, "error %s: %s\n", e.Code, e.Error)
			}
		}
	}
}

// pingLoop is the only writer on conn while watching.
func pingLoop(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		msg, err := protocol.NewPingMessage(strconv.Itoa(n))
		if err != nil {
			return
		}
		if err := writeMessage(conn, msg); err != nil {
			log.Debug("ping failed", "error", err)
			return
		}
	}
}

func printFrame(out io.Writer, fr *protocol.FrameData, all bool) {
	if !all && fr.OK && len(fr.Intents) == 0 && len(fr.Pushed) == 0 && len(fr.Pulled) == 0 {
		return
	}
	fmt.Fprintf(out, "#%d ok=%v %dus intents=%d pushed=%v pulled=%v\n",
		fr.Seq, fr.OK, fr.DurationUs, len(fr.Intents), fr.Pushed, fr.Pulled)
	for _, f := range fr.Failures {
		fmt.Fprintf(out, "    %s %s: %s\n", f.Code, f.Component, f.Error)
	}
}
