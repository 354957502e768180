package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfileValidates(t *testing.T) {
	p := DefaultProfile()
	require.NoError(t, p.Validate())

	c, ok := p.Component("larm.elbow")
	require.True(t, ok)
	assert.Equal(t, ElbowRollMax, c.Degrees[1].Default, "default is the position nearest zero")
}

func TestParseProfile(t *testing.T) {
	data := []byte(`
robot: test-bot
id: 7
components:
  - name: head.yaw
    kind: joint
    degrees:
      - {name: yaw, min: -2.0, max: 2.0}
  - name: larm.shoulder
    kind: joint
    degrees:
      - {name: pitch, min: 0.0, max: 1.5}
  - name: head.eyes
    kind: leds
    leds: [left, right]
`)
	p, err := ParseProfile(data)
	require.NoError(t, err)
	assert.Equal(t, "test-bot", p.Robot)
	assert.Equal(t, uint16(7), p.ID)
	require.Len(t, p.Components, 3)
	assert.Equal(t, 1.5, p.Components[1].Degrees[0].Max)
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name string
		c    Component
	}{
		{"no name", Component{Kind: KindJoint, Degrees: []Degree{{Max: 1}}}},
		{"three degrees", Component{Name: "hip", Kind: KindJoint, Degrees: []Degree{{}, {}, {}}}},
		{"inverted", Component{Name: "knee", Kind: KindJoint, Degrees: []Degree{{Min: 1, Max: 0}}}},
		{"default outside", Component{Name: "knee", Kind: KindJoint, Degrees: []Degree{{Min: 1, Max: 2}}}},
		{"too many leds", Component{Name: "eyes", Kind: KindLEDs, LEDs: make([]string, 16)}},
		{"unknown kind", Component{Name: "x", Kind: "wheel"}},
		{"long name", Component{Name: "abcdefghijabcdefghijabcdefghijabc", Kind: KindLabel}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Profile{Components: []Component{tt.c}}
			assert.Error(t, p.Validate())
		})
	}

	dup := &Profile{Components: []Component{
		{Name: "a", Kind: KindLabel},
		{Name: "a", Kind: KindLabel},
	}}
	assert.Error(t, dup.Validate())
	assert.Error(t, (&Profile{}).Validate())
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("robot: x\ncomponents:\n  - {name: v, kind: label, text: hi}\n"), 0o644))
	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", p.Components[0].Text)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(dotenv, []byte("NAO_FRAME_RATE=50\nNAO_SEGMENT=/tmp/from-file.seg\n"), 0o644))

	t.Setenv("NAO_SEGMENT", "/tmp/from-env.seg")
	t.Setenv("NAO_LOCK_TIMEOUT", "20ms")
	t.Cleanup(func() { os.Unsetenv("NAO_FRAME_RATE") })

	e, err := LoadEnv(dotenv, filepath.Join(dir, "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.seg", e.Segment, "environment wins over dotenv")
	assert.Equal(t, 50, e.FrameRate)
	assert.Equal(t, 20*time.Millisecond, e.LockTimeout)
	assert.Equal(t, DefaultLockPath, e.Lock)
	assert.Equal(t, 20*time.Millisecond, e.FramePeriod())
}

func TestEnvValidate(t *testing.T) {
	e := Env{Segment: "s", Lock: "l", LockTimeout: time.Millisecond, FrameRate: 0}
	assert.Error(t, e.Validate())
	e.FrameRate = 10
	assert.NoError(t, e.Validate())
}
