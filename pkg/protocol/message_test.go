package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
	"github.com/fenghuanghao1986/NAO-engine/pkg/shm"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "intent message",
			msgType: TypeIntent,
			data:    IntentData{Component: "head.yaw", Kind: "write", Values: []float64{1}},
		},
		{
			name:    "state message",
			msgType: TypeState,
			data:    StateData{State: "running"},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unencodable data",
			msgType: TypeFrame,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestValueRoundTrip(t *testing.T) {
	values := []hw.Value{
		hw.Scalar(-1.5),
		hw.Pair{A: 0.25, B: -0.5},
		hw.Text("2.1.4.13"),
		hw.LedMap{"left": hw.LEDBlue, "right": hw.LEDOff},
	}
	for _, v := range values {
		data, err := json.Marshal(EncodeValue(v))
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		var back Value
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		got, err := back.Decode()
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", data, err)
		}
		if !hw.Equal(got, v) {
			t.Errorf("round trip = %v, want %v", got, v)
		}
	}
}

func TestValueDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   Value
	}{
		{"unknown shape", Value{Shape: "tensor"}},
		{"missing scalar", Value{Shape: "scalar"}},
		{"missing pair", Value{Shape: "pair"}},
		{"missing text", Value{Shape: "text"}},
		{"bad led", Value{Shape: "ledmap", LEDs: map[string]string{"left": "purple"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.in.Decode(); err == nil {
				t.Error("Decode() should fail")
			}
		})
	}
}

func TestFrameMessage(t *testing.T) {
	id := uuid.New()
	fr := control.FrameResult{
		ID:       xid.New(),
		Seq:      42,
		Start:    time.UnixMilli(1_700_000_000_000),
		Duration: 300 * time.Microsecond,
		OK:       false,
		Intents: []intent.Result{{
			ID: id, Module: "motion", Component: "head.yaw", Kind: intent.Write,
			Status: hw.Clamped, Applied: []float64{2}, Value: hw.Scalar(2),
			Err: errcode.New(errcode.OutOfBoundsClamped, "write", "head.yaw", "3.0000 clamped to 2.0000"),
		}},
		Failures: []shm.Failure{{Code: errcode.LockTimeout, Err: errors.New("deadline exceeded")}},
		Pushed:   []string{"head.yaw"},
	}

	msg, err := NewFrameMessage(fr)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}
	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeFrame {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeFrame)
	}

	data, err := parsed.GetFrameData()
	if err != nil {
		t.Fatalf("GetFrameData() error = %v", err)
	}
	if data.ID != fr.ID.String() || data.Seq != 42 {
		t.Errorf("frame = %s/%d, want %s/42", data.ID, data.Seq, fr.ID)
	}
	if data.DurationUs != 300 {
		t.Errorf("DurationUs = %d, want 300", data.DurationUs)
	}
	if len(data.Intents) != 1 {
		t.Fatalf("Intents = %d, want 1", len(data.Intents))
	}
	res := data.Intents[0]
	if res.ID != id.String() || res.Status != "clamped" || res.Code != "out_of_bounds_clamped" {
		t.Errorf("intent = %+v", res)
	}
	if res.Value == nil || res.Value.Scalar == nil || *res.Value.Scalar != 2 {
		t.Errorf("intent value = %+v, want scalar 2", res.Value)
	}
	if len(data.Failures) != 1 || data.Failures[0].Code != "lock_timeout" {
		t.Errorf("Failures = %+v", data.Failures)
	}
}

func TestStateMessage(t *testing.T) {
	snap := &control.Snapshot{
		State:     control.Running,
		Robot:     "nao",
		ProfileID: 3,
		Frame:     &control.FrameResult{Seq: 9},
		Registers: map[string]hw.Value{
			"head.yaw":  hw.Scalar(0.5),
			"head.eyes": hw.LedMap{"left": hw.LEDRed},
		},
	}
	msg, err := NewStateMessage(snap)
	if err != nil {
		t.Fatalf("NewStateMessage() error = %v", err)
	}
	data, err := msg.GetStateData()
	if err != nil {
		t.Fatalf("GetStateData() error = %v", err)
	}
	if data.State != "running" || data.Seq != 9 || data.ProfileID != 3 {
		t.Errorf("state = %+v", data)
	}
	eyes, err := data.Registers["head.eyes"].Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !hw.Equal(eyes, hw.LedMap{"left": hw.LEDRed}) {
		t.Errorf("head.eyes = %v", eyes)
	}
}

func TestIntentData(t *testing.T) {
	msg, err := NewIntentMessage("", "larm.shoulder", "write", 0.5, 1.0)
	if err != nil {
		t.Fatalf("NewIntentMessage() error = %v", err)
	}
	data, err := msg.GetIntentData()
	if err != nil {
		t.Fatalf("GetIntentData() error = %v", err)
	}
	in, err := data.Intent()
	if err != nil {
		t.Fatalf("Intent() error = %v", err)
	}
	if in.Kind != intent.Write || in.Module != "remote" || len(in.Payload) != 2 {
		t.Errorf("intent = %+v", in)
	}

	if _, err := (IntentData{Component: "head.yaw", Kind: "poke"}).Intent(); !errcode.Is(err, errcode.InvalidValue) {
		t.Errorf("bad kind error = %v, want invalid_value", err)
	}
	if _, err := (IntentData{Kind: "read"}).Intent(); !errcode.Is(err, errcode.UnknownComponent) {
		t.Errorf("missing component error = %v, want unknown_component", err)
	}
}

func TestCommands(t *testing.T) {
	cmds := EncodeCommands([]control.Command{
		{Component: "head.yaw", Shape: hw.ShapeScalar, Writable: true, Bounds: hw.BoundList{{Min: -2, Max: 2}}},
		{Component: "battery.charge", Shape: hw.ShapeScalar},
	})
	if len(cmds) != 2 {
		t.Fatalf("len = %d, want 2", len(cmds))
	}
	if !cmds[0].Writable || cmds[0].Shape != "scalar" || cmds[0].Bounds[0] != (Bound{Min: -2, Max: 2}) {
		t.Errorf("cmds[0] = %+v", cmds[0])
	}
	if cmds[1].Writable {
		t.Error("battery.charge should be read-only")
	}

	back, err := DecodeCommands(cmds)
	if err != nil {
		t.Fatalf("DecodeCommands() error = %v", err)
	}
	if back[0].Shape != hw.ShapeScalar || back[0].Bounds[0] != (hw.Bound{Min: -2, Max: 2}) {
		t.Errorf("decoded cmds[0] = %+v", back[0])
	}
	if _, err := DecodeCommands([]CommandData{{Component: "x", Shape: "blob"}}); err == nil {
		t.Error("expected error for unknown shape")
	}

	msg, err := NewCommandsMessage([]control.Command{{Component: "head.yaw", Shape: hw.ShapeScalar, Writable: true}})
	if err != nil {
		t.Fatalf("NewCommandsMessage() error = %v", err)
	}
	if msg.Type != TypeCommands {
		t.Errorf("Type = %q, want commands", msg.Type)
	}
	got, err := msg.GetCommandsData()
	if err != nil {
		t.Fatalf("GetCommandsData() error = %v", err)
	}
	if len(got) != 1 || got[0].Component != "head.yaw" || !got[0].Writable {
		t.Errorf("commands = %+v", got)
	}
}

func TestPingPong(t *testing.T) {
	ping, err := NewPingMessage("abc")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}
	pd, _ := ping.GetPingData()
	if pd.ID != "abc" {
		t.Errorf("ping id = %q", pd.ID)
	}

	pong, err := NewPongMessage("abc", 1000, 1025)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}
	data, _ := pong.GetPongData()
	if data.LatencyMs != 25 {
		t.Errorf("LatencyMs = %d, want 25", data.LatencyMs)
	}
}

func TestErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(errcode.New(errcode.LifecycleViolation, "submit", "", "module uninstalled"))
	if err != nil {
		t.Fatalf("NewErrorMessage() error = %v", err)
	}
	data, _ := msg.GetErrorData()
	if data.Code != "lifecycle_violation" {
		t.Errorf("Code = %q", data.Code)
	}
}
