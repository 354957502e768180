package protocol

import (
	"fmt"

	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/errcode"
	"github.com/fenghuanghao1986/NAO-engine/pkg/hw"
	"github.com/fenghuanghao1986/NAO-engine/pkg/intent"
)

// =============================================================================
// Conversions
// =============================================================================

// EncodeValue converts a register value to its JSON form.
func EncodeValue(v hw.Value) Value {
	switch x := v.(type) {
	case hw.Scalar:
		f := float64(x)
		return Value{Shape: hw.ShapeScalar.String(), Scalar: &f}
	case hw.Pair:
		p := [2]float64{x.A, x.B}
		return Value{Shape: hw.ShapePair.String(), Pair: &p}
	case hw.Text:
		s := string(x)
		return Value{Shape: hw.ShapeText.String(), Text: &s}
	case hw.LedMap:
		leds := make(map[string]string, len(x))
		for n, st := range x {
			leds[n] = st.String()
		}
		return Value{Shape: hw.ShapeLedMap.String(), LEDs: leds}
	}
	return Value{Shape: hw.ShapeInvalid.String()}
}

// Decode converts the JSON form back to a register value.
func (v Value) Decode() (hw.Value, error) {
	switch v.Shape {
	case hw.ShapeScalar.String():
		if v.Scalar == nil {
			return nil, fmt.Errorf("scalar value missing")
		}
		return hw.Scalar(*v.Scalar), nil
	case hw.ShapePair.String():
		if v.Pair == nil {
			return nil, fmt.Errorf("pair value missing")
		}
		return hw.Pair{A: v.Pair[0], B: v.Pair[1]}, nil
	case hw.ShapeText.String():
		if v.Text == nil {
			return nil, fmt.Errorf("text value missing")
		}
		return hw.Text(*v.Text), nil
	case hw.ShapeLedMap.String():
		m := make(hw.LedMap, len(v.LEDs))
		for n, s := range v.LEDs {
			st, err := parseLED(s)
			if err != nil {
				return nil, fmt.Errorf("led %s: %w", n, err)
			}
			m[n] = st
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown shape %q", v.Shape)
}

func parseLED(s string) (hw.LEDState, error) {
	for st := hw.LEDOff; st <= hw.MaxLEDState; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown led state %q", s)
}

// EncodeResult converts an intent result.
func EncodeResult(r intent.Result) ResultData {
	d := ResultData{
		ID:        r.ID.String(),
		Module:    r.Module,
		Component: r.Component,
		Kind:      r.Kind.String(),
		Status:    r.Status.String(),
		Applied:   r.Applied,
	}
	if r.Value != nil {
		v := EncodeValue(r.Value)
		d.Value = &v
	}
	if r.Err != nil {
		d.Code = string(r.Code())
		d.Error = r.Err.Error()
	}
	return d
}

// EncodeFrame converts a frame result.
func EncodeFrame(fr control.FrameResult) FrameData {
	d := FrameData{
		ID:         fr.ID.String(),
		Seq:        fr.Seq,
		Start:      fr.Start.UnixMilli(),
		DurationUs: fr.Duration.Microseconds(),
		OK:         fr.OK,
		Pushed:     fr.Pushed,
		Pulled:     fr.Pulled,
	}
	for _, r := range fr.Intents {
		d.Intents = append(d.Intents, EncodeResult(r))
	}
	for _, f := range fr.Failures {
		fd := FailureData{Component: f.Component, Code: string(f.Code)}
		if f.Err != nil {
			fd.Error = f.Err.Error()
		}
		d.Failures = append(d.Failures, fd)
	}
	return d
}

// EncodeState converts a module snapshot.
func EncodeState(s *control.Snapshot) StateData {
	d := StateData{State: s.State.String(), Robot: s.Robot, ProfileID: s.ProfileID}
	if s.Frame != nil {
		d.Seq = s.Frame.Seq
	}
	if len(s.Registers) > 0 {
		d.Registers = make(map[string]Value, len(s.Registers))
		for n, v := range s.Registers {
			d.Registers[n] = EncodeValue(v)
		}
	}
	return d
}

// EncodeCommands converts the command list.
func EncodeCommands(cmds []control.Command) []CommandData {
	out := make([]CommandData, 0, len(cmds))
	for _, c := range cmds {
		d := CommandData{Component: c.Component, Shape: c.Shape.String(), Writable: c.Writable}
		for _, b := range c.Bounds {
			d.Bounds = append(d.Bounds, Bound{Min: b.Min, Max: b.Max})
		}
		out = append(out, d)
	}
	return out
}

// DecodeCommands converts a command list fetched from an engine back to
// control commands.
func DecodeCommands(data []CommandData) ([]control.Command, error) {
	out := make([]control.Command, 0, len(data))
	for _, d := range data {
		shape := hw.ParseShape(d.Shape)
		if shape == hw.ShapeInvalid {
			return nil, fmt.Errorf("command %s: unknown shape %q", d.Component, d.Shape)
		}
		c := control.Command{Component: d.Component, Shape: shape, Writable: d.Writable}
		for _, b := range d.Bounds {
			c.Bounds = append(c.Bounds, hw.Bound{Min: b.Min, Max: b.Max})
		}
		out = append(out, c)
	}
	return out, nil
}

// Intent builds the intent a request describes.
func (d IntentData) Intent() (intent.Intent, error) {
	if d.Component == "" {
		return intent.Intent{}, errcode.New(errcode.UnknownComponent, "intent", "", "component is required")
	}
	kind, err := intent.ParseKind(d.Kind)
	if err != nil {
		return intent.Intent{}, errcode.Wrap(errcode.InvalidValue, "intent", err)
	}
	module := d.Module
	if module == "" {
		module = "remote"
	}
	if kind == intent.Read {
		return intent.NewRead(module, d.Component), nil
	}
	return intent.NewWrite(module, d.Component, d.Values...), nil
}

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameMessage creates a frame message.
func NewFrameMessage(fr control.FrameResult) (*Message, error) {
	return NewMessage(TypeFrame, EncodeFrame(fr))
}

// NewStateMessage creates a state message.
func NewStateMessage(s *control.Snapshot) (*Message, error) {
	return NewMessage(TypeState, EncodeState(s))
}

// NewResultMessage creates an intent result message.
func NewResultMessage(r intent.Result) (*Message, error) {
	return NewMessage(TypeResult, EncodeResult(r))
}

// NewCommandsMessage creates a command list message.
func NewCommandsMessage(cmds []control.Command) (*Message, error) {
	return NewMessage(TypeCommands, EncodeCommands(cmds))
}

// NewIntentMessage creates an intent request message.
func NewIntentMessage(module, component, kind string, values ...float64) (*Message, error) {
	return NewMessage(TypeIntent, IntentData{Module: module, Component: component, Kind: kind, Values: values})
}

// NewErrorMessage creates an error message.
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Code: string(errcode.Of(err)), Error: err.Error()})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetResultData extracts an intent result from a message
func (m *Message) GetResultData() (*ResultData, error) {
	var data ResultData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCommandsData extracts a command list from a message
func (m *Message) GetCommandsData() ([]CommandData, error) {
	var data []CommandData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// GetIntentData extracts an intent request from a message
func (m *Message) GetIntentData() (*IntentData, error) {
	var data IntentData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts an error from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
