package kernel

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"kernos/pkg/process"
	"kernos/pkg/timer"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvFrames     = "KERNOS_FRAMES"
	EnvStackPages = "KERNOS_STACK_PAGES"
	EnvTrace      = "KERNOS_TRACE"
)

// Config holds kernel configuration.
type Config struct {
	// Frames is the number of physical frames available to user memory.
	Frames int
	// StackPages is the user stack size of every loaded image.
	StackPages int
	// BigStride is divided by the priority to get a task's pass.
	BigStride uint64
	// DefaultPriority is the priority of new tasks.
	DefaultPriority int
	// MaxPages caps the user pages of one task; 0 means no cap.
	MaxPages int
	// Trace logs every system call.
	Trace bool
	// Logger receives kernel messages; nil discards them.
	Logger *log.Logger
	// Clock defaults to a monotonic clock.
	Clock timer.Clock
}

// DefaultConfig returns the default kernel configuration.
func DefaultConfig() Config {
	return Config{
		Frames:          1024,
		StackPages:      2,
		BigStride:       process.DefaultBigStride,
		DefaultPriority: process.DefaultPriority,
		MaxPages:        process.DefaultLimits().MaxPages,
	}
}

// ConfigFromEnv returns DefaultConfig with the KERNOS_* environment
// overrides applied.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv(EnvFrames); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("%s: invalid frame count %q", EnvFrames, v)
		}
		cfg.Frames = n
	}
	if v := os.Getenv(EnvStackPages); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("%s: invalid page count %q", EnvStackPages, v)
		}
		cfg.StackPages = n
	}
	if v := os.Getenv(EnvTrace); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvTrace, err)
		}
		cfg.Trace = on
	}
	return cfg, nil
}

func (c *Config) withDefaults() {
	def := DefaultConfig()
	if c.Frames <= 0 {
		c.Frames = def.Frames
	}
	if c.StackPages <= 0 {
		c.StackPages = def.StackPages
	}
	if c.BigStride == 0 {
		c.BigStride = def.BigStride
	}
	if c.DefaultPriority < process.MinPriority {
		c.DefaultPriority = def.DefaultPriority
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	if c.Clock == nil {
		c.Clock = timer.NewMonotonic()
	}
}
