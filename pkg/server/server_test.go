package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenghuanghao1986/NAO-engine/internal/config"
	ilog "github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/journal"
	"github.com/fenghuanghao1986/NAO-engine/pkg/protocol"
)

func newEngine(t *testing.T) *control.Module {
	t.Helper()
	m := control.New(control.Options{
		Profile: &config.Profile{Robot: "test", Components: []config.Component{
			{Name: "head.yaw", Kind: config.KindJoint, Degrees: []config.Degree{{Name: "yaw", Min: -2, Max: 2}}},
			{Name: "battery.charge", Kind: config.KindGauge, Degrees: []config.Degree{{Min: 0, Max: 1, Default: 1}}},
		}},
		Logger: ilog.Discard(),
	})
	require.NoError(t, m.Install())
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Uninstall() })
	return m
}

func newServer(t *testing.T, engine Engine, cfg Config) *Server {
	t.Helper()
	cfg.Logger = ilog.Discard()
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = 50 * time.Millisecond
	}
	return New(engine, cfg)
}

func do(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, 2000)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestRegisters(t *testing.T) {
	s := newServer(t, newEngine(t), Config{})

	code, body := do(t, s, http.MethodGet, "/api/registers", "")
	require.Equal(t, http.StatusOK, code)
	var regs map[string]protocol.Value
	require.NoError(t, json.Unmarshal(body, &regs))
	require.Contains(t, regs, "battery.charge")
	require.NotNil(t, regs["battery.charge"].Scalar)
	assert.Equal(t, 1.0, *regs["battery.charge"].Scalar)

	code, body = do(t, s, http.MethodGet, "/api/registers/head.yaw", "")
	require.Equal(t, http.StatusOK, code)
	var v protocol.Value
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "scalar", v.Shape)

	code, body = do(t, s, http.MethodGet, "/api/registers/tail.wag", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), "unknown_component")
}

func TestStatusAndCommands(t *testing.T) {
	s := newServer(t, newEngine(t), Config{})

	code, body := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	var st protocol.StatusData
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "test", st.Robot)
	assert.Empty(t, st.Registers)
	assert.False(t, st.Streaming, "hub not started")
	assert.Zero(t, st.Clients)

	code, body = do(t, s, http.MethodGet, "/api/commands", "")
	require.Equal(t, http.StatusOK, code)
	var cmds []protocol.CommandData
	require.NoError(t, json.Unmarshal(body, &cmds))
	require.Len(t, cmds, 2)
	assert.Equal(t, "battery.charge", cmds[0].Component)
	assert.False(t, cmds[0].Writable)
	assert.True(t, cmds[1].Writable)
}

func TestSubmitWaitsForFrame(t *testing.T) {
	m := newEngine(t)
	s := newServer(t, m, Config{ReplyTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, time.Millisecond)

	code, body := do(t, s, http.MethodPost, "/api/intents",
		`{"module":"test","component":"head.yaw","kind":"write","values":[3]}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var res protocol.ResultData
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "clamped", res.Status)
	assert.Equal(t, "out_of_bounds_clamped", res.Code)
	assert.Equal(t, []float64{2}, res.Applied)

	code, body = do(t, s, http.MethodPost, "/api/intents",
		`{"component":"battery.charge","kind":"write","values":[0.5]}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "rejected", res.Status)
	assert.Equal(t, "unknown_component", res.Code, "gauges take no writes")
}

func TestSubmitWithoutFrames(t *testing.T) {
	s := newServer(t, newEngine(t), Config{ReplyTimeout: 10 * time.Millisecond})

	code, body := do(t, s, http.MethodPost, "/api/intents", `{"component":"head.yaw","kind":"read"}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Contains(t, string(body), `"queued"`)
}

func TestSubmitErrors(t *testing.T) {
	m := newEngine(t)
	s := newServer(t, m, Config{})

	code, body := do(t, s, http.MethodPost, "/api/intents", `{"component":"head.yaw","kind":"poke"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "invalid_value")

	code, _ = do(t, s, http.MethodPost, "/api/intents", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	require.NoError(t, m.Uninstall())
	code, body = do(t, s, http.MethodPost, "/api/intents", `{"component":"head.yaw","kind":"read"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(body), "lifecycle_violation")
}

type stubJournal []journal.Entry

func (j stubJournal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	if limit < len(j) {
		return j[:limit], nil
	}
	return j, nil
}

func TestFrames(t *testing.T) {
	engine := newEngine(t)

	code, _ := do(t, newServer(t, engine, Config{}), http.MethodGet, "/api/frames", "")
	assert.Equal(t, http.StatusNotFound, code)

	s := newServer(t, engine, Config{Journal: stubJournal{{ID: "a", Seq: 2}, {ID: "b", Seq: 1}}})
	code, body := do(t, s, http.MethodGet, "/api/frames?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID)
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := newServer(t, newEngine(t), Config{})
	code, _ := do(t, s, http.MethodGet, "/ws/frames", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

const reconfigureYAML = `
robot: test
components:
  - name: head.yaw
    kind: joint
    degrees: [{name: yaw, min: -1, max: 1}]
  - name: head.pitch
    kind: joint
    degrees: [{name: pitch, min: -0.5, max: 0.5}]
  - name: battery.charge
    kind: gauge
    degrees: [{min: 0, max: 1, default: 1}]
`

func TestReconfigure(t *testing.T) {
	m := newEngine(t)
	s := newServer(t, m, Config{})
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reconfigureYAML), 0o644))

	code, body := do(t, s, http.MethodPost, "/api/reconfigure", `{"profile":"`+path+`","id":7}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var st protocol.StateData
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, uint16(7), st.ProfileID)
	assert.Len(t, m.Commands(), 3)

	code, body = do(t, s, http.MethodPost, "/api/reconfigure", "")
	require.Equal(t, http.StatusOK, code, "empty body reuses the current profile")
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Zero(t, st.ProfileID)
	assert.Len(t, m.Commands(), 3)

	code, body = do(t, s, http.MethodPost, "/api/reconfigure", `{"profile":"/nonexistent/profile.yaml"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, string(body), "actuator_construction_failure")

	code, _ = do(t, s, http.MethodPost, "/api/reconfigure", `{nope`)
	assert.Equal(t, http.StatusBadRequest, code)
}

// serve runs s on a loopback listener and returns its address.
func serve(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)
	t.Cleanup(func() { s.Shutdown() })
	return ln.Addr().String()
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/frames", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// sender writes messages the way a client would.
type sender struct {
	t    *testing.T
	conn *websocket.Conn
}

func (c sender) send(msg *protocol.Message, err error) {
	t := c.t
	t.Helper()
	require.NoError(t, err)
	data, err := msg.Bytes()
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// next reads until a message of type want arrives, skipping frames.
func next(t *testing.T, conn *websocket.Conn, want protocol.MessageType) *protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msg, err := protocol.ParseMessage(data)
		require.NoError(t, err)
		if msg.Type == want {
			return msg
		}
	}
}

func TestWebsocket(t *testing.T) {
	m := newEngine(t)
	s := newServer(t, m, Config{ReplyTimeout: time.Second})
	m.AddObserver(s.Frames())
	conn := dial(t, serve(t, s))
	client := sender{t, conn}

	state, err := next(t, conn, protocol.TypeState).GetStateData()
	require.NoError(t, err)
	assert.Equal(t, "test", state.Robot)
	assert.Contains(t, state.Registers, "head.yaw")
	cmds, err := next(t, conn, protocol.TypeCommands).GetCommandsData()
	require.NoError(t, err)
	assert.Len(t, cmds, 2)

	client.send(protocol.NewPingMessage("p1"))
	pong, err := next(t, conn, protocol.TypePong).GetPongData()
	require.NoError(t, err)
	assert.Equal(t, "p1", pong.ID)
	assert.GreaterOrEqual(t, pong.LatencyMs, int64(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, time.Millisecond)

	client.send(protocol.NewIntentMessage("test", "head.yaw", "write", 3))
	res, err := next(t, conn, protocol.TypeResult).GetResultData()
	require.NoError(t, err)
	assert.Equal(t, "clamped", res.Status)
	assert.Equal(t, []float64{2}, res.Applied)

	client.send(protocol.NewIntentMessage("test", "tail.wag", "poke"))
	e, err := next(t, conn, protocol.TypeError).GetErrorData()
	require.NoError(t, err)
	assert.Equal(t, "invalid_value", e.Code)

	client.send(protocol.NewMessage(protocol.TypeFrame, nil))
	e, err = next(t, conn, protocol.TypeError).GetErrorData()
	require.NoError(t, err)
	assert.Contains(t, e.Error, "unexpected message type")

	next(t, conn, protocol.TypeFrame)
	assert.Equal(t, 1, s.frames.ClientCount())
}

func TestWebsocketAnnouncesReconfigure(t *testing.T) {
	m := newEngine(t)
	s := newServer(t, m, Config{})
	conn := dial(t, serve(t, s))
	next(t, conn, protocol.TypeCommands)
	require.Eventually(t, func() bool { return s.frames.ClientCount() == 1 }, time.Second, time.Millisecond)

	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reconfigureYAML), 0o644))
	code, _ := do(t, s, http.MethodPost, "/api/reconfigure", `{"profile":"`+path+`","id":2}`)
	require.Equal(t, http.StatusOK, code)

	state, err := next(t, conn, protocol.TypeState).GetStateData()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), state.ProfileID)
	cmds, err := next(t, conn, protocol.TypeCommands).GetCommandsData()
	require.NoError(t, err)
	assert.Len(t, cmds, 3)

	require.NoError(t, m.Reconfigure("", 5))
	require.NoError(t, s.Announce())
	state, err = next(t, conn, protocol.TypeState).GetStateData()
	require.NoError(t, err)
	assert.Equal(t, uint16(5), state.ProfileID)
}
