// Package config provides configuration for naoengine commands: process
// settings from the environment and robot profiles from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Default process configuration.
const (
	DefaultSegmentPath = "/dev/shm/nao-engine.seg"
	DefaultLockPath    = "/dev/shm/nao-engine.lock"
	DefaultLockTimeout = 5 * time.Millisecond
	DefaultFrameRate   = 100
	DefaultHTTPAddr    = ":8080"
)

// Env holds settings read from NAO_* environment variables.
type Env struct {
	// Profile is the robot profile YAML. Empty selects DefaultProfile.
	Profile string `env:"NAO_PROFILE"`
	// ProfileID tags the profile at startup and on every SIGHUP reload.
	ProfileID uint16 `env:"NAO_PROFILE_ID" envDefault:"0"`

	Segment     string        `env:"NAO_SEGMENT" envDefault:"/dev/shm/nao-engine.seg"`
	Lock        string        `env:"NAO_LOCK" envDefault:"/dev/shm/nao-engine.lock"`
	LockTimeout time.Duration `env:"NAO_LOCK_TIMEOUT" envDefault:"5ms"`

	// FrameRate is the number of control cycles per second.
	FrameRate int    `env:"NAO_FRAME_RATE" envDefault:"100"`
	LogLevel  string `env:"NAO_LOG_LEVEL" envDefault:"info"`
	HTTPAddr  string `env:"NAO_HTTP_ADDR" envDefault:":8080"`

	// Journal is the sqlite frame journal path. Empty disables it.
	Journal string `env:"NAO_JOURNAL"`
}

// LoadEnv loads the given dotenv files (".env" when none are named) if they
// exist, then parses the environment. Variables already set win over files.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Env{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Validate checks that the configuration is usable.
func (e *Env) Validate() error {
	if e.Segment == "" {
		return fmt.Errorf("segment path is required")
	}
	if e.Lock == "" {
		return fmt.Errorf("lock path is required")
	}
	if e.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive, got %s", e.LockTimeout)
	}
	if e.FrameRate <= 0 || e.FrameRate > 1000 {
		return fmt.Errorf("frame rate must be in 1..1000, got %d", e.FrameRate)
	}
	return nil
}

// FramePeriod returns the duration of one control cycle.
func (e *Env) FramePeriod() time.Duration {
	return time.Second / time.Duration(e.FrameRate)
}
