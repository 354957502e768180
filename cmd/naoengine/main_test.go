package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenghuanghao1986/NAO-engine/internal/config"
	ilog "github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/protocol"
	"github.com/fenghuanghao1986/NAO-engine/pkg/server"
	"github.com/fenghuanghao1986/NAO-engine/pkg/shm"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"run", "driver-sim", "inspect", "commands", "submit", "random", "watch", "reconfigure", "sanity"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestEndpoint(t *testing.T) {
	o := &rootOptions{Addr: "http://localhost:8080/"}
	assert.Equal(t, "http://localhost:8080/api/commands", o.endpoint("/api/commands"))
}

func TestLocalCommands(t *testing.T) {
	cmds, err := localCommands("")
	require.NoError(t, err)
	require.NotEmpty(t, cmds)
	found := false
	for _, c := range cmds {
		if c.Component == "head.yaw" {
			found = c.Writable
		}
	}
	assert.True(t, found, "head.yaw should be a writable command")

	_, err = localCommands(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReadSegment(t *testing.T) {
	dir := t.TempDir()
	e := config.Env{
		Segment:     filepath.Join(dir, "nao.seg"),
		Lock:        filepath.Join(dir, "nao.lock"),
		LockTimeout: config.DefaultLockTimeout,
	}
	engine, err := shm.OpenLink(e.Segment, e.Lock, []string{"head.pitch", "head.yaw"})
	require.NoError(t, err)
	defer engine.Close()
	_, err = engine.Table.Write(1, hw.Scalar(0.5))
	require.NoError(t, err)

	link, err := waitForSegment(t.Context(), e, time.Second)
	require.NoError(t, err)
	defer link.Close()

	regs, err := readSegment(t.Context(), link, e.LockTimeout)
	require.NoError(t, err)
	assert.Len(t, regs, 1, "unwritten records are skipped")
	assert.Equal(t, hw.Scalar(0.5), regs["head.yaw"])
}

const testProfileYAML = `
robot: test
components:
  - name: head.yaw
    kind: joint
    degrees: [{name: yaw, min: -2, max: 2}]
  - name: battery.charge
    kind: gauge
    degrees: [{min: 0, max: 1, default: 1}]
`

// startEngine runs an engine and its HTTP server on a loopback port.
func startEngine(t *testing.T) (*rootOptions, *control.Module) {
	t.Helper()
	p, err := config.ParseProfile([]byte(testProfileYAML))
	require.NoError(t, err)
	m := control.New(control.Options{Profile: p, Logger: ilog.Discard()})
	require.NoError(t, m.Install())
	require.NoError(t, m.Start())

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx, 5*time.Millisecond)

	srv := server.New(m, server.Config{Logger: ilog.Discard(), ReplyTimeout: time.Second})
	m.AddObserver(srv.Frames())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)

	t.Cleanup(func() {
		srv.Shutdown()
		cancel()
		m.Uninstall()
	})
	return &rootOptions{Addr: "http://" + ln.Addr().String()}, m
}

func TestSubmitOverWebsocket(t *testing.T) {
	root, _ := startEngine(t)

	res, err := submitWS(t.Context(), root, protocol.IntentData{Component: "head.yaw", Kind: "write", Values: []float64{9}}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "clamped", res.Status)
	assert.Equal(t, []float64{2}, res.Applied)

	_, err = submitWS(t.Context(), root, protocol.IntentData{Component: "head.yaw", Kind: "poke"}, 2*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_value")
}

func TestReconfigureCommand(t *testing.T) {
	root, m := startEngine(t)
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testProfileYAML+`
  - name: head.pitch
    kind: joint
    degrees: [{name: pitch, min: -0.5, max: 0.5}]
`), 0o644))

	st, err := reconfigure(root, protocol.ReconfigureData{Profile: path, ID: 4})
	require.NoError(t, err)
	assert.Equal(t, uint16(4), st.ProfileID)
	assert.Len(t, m.Commands(), 3)

	_, err = reconfigure(root, protocol.ReconfigureData{Profile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actuator_construction_failure")
}

func TestSanityCommand(t *testing.T) {
	root, _ := startEngine(t)

	desc, err := sanity(root, "head.yaw")
	require.NoError(t, err)
	assert.Contains(t, desc, "head.yaw = ")
	assert.Contains(t, desc, "writable=true")

	_, err = sanity(root, "tail.wag")
	assert.Error(t, err)
}

func TestWatchFrames(t *testing.T) {
	root, _ := startEngine(t)

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	require.NoError(t, watchFrames(ctx, &out, root, true, 20*time.Millisecond))

	got := out.String()
	assert.Contains(t, got, "state running robot=test")
	assert.Contains(t, got, "commands 2 components")
	assert.Contains(t, got, "pong 1 rtt=")
	assert.Contains(t, got, " ok=true ")
}

func TestReloadOnHangup(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	reloads := make(chan struct{}, 1)
	reloadOnHangup(ctx, func() { reloads <- struct{}{} })

	proc, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, proc.Signal(syscall.SIGHUP))

	select {
	case <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after SIGHUP")
	}
}
