package integrity

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Level selects which detectors are active.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ParseLevel converts a stored level name.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelLow, LevelMedium, LevelHigh:
		return l, nil
	}
	return "", fmt.Errorf("unknown integrity level %q", s)
}

func (l Level) atLeast(min Level) bool {
	return l.rank() >= min.rank()
}

func (l Level) rank() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	}
	return 0
}

// DefaultMaxWarnings is used when a schedule does not set its own threshold.
const DefaultMaxWarnings = 5

// Config is passed to each freshly constructed Monitor.
type Config struct {
	Level       Level
	MaxWarnings int

	DevtoolsInterval    time.Duration
	ScreenCheckInterval time.Duration
}

func (c *Config) defaults() {
	if c.Level == "" {
		c.Level = LevelMedium
	}
	if c.MaxWarnings == 0 {
		c.MaxWarnings = DefaultMaxWarnings
	}
	if c.DevtoolsInterval <= 0 {
		c.DevtoolsInterval = time.Second
	}
	if c.ScreenCheckInterval <= 0 {
		c.ScreenCheckInterval = 5 * time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.Required, validation.In(LevelLow, LevelMedium, LevelHigh)),
		validation.Field(&c.MaxWarnings, validation.Required, validation.Min(1)),
		validation.Field(&c.DevtoolsInterval, validation.Min(10*time.Millisecond)),
		validation.Field(&c.ScreenCheckInterval, validation.Min(10*time.Millisecond)),
	)
}
