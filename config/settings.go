package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arloliu/go-dcl/logger"
)

// Transport kinds.
const (
	TransportLoopback = "loopback"
	TransportSLCAN    = "slcan"
)

// Settings holds the kernel settings.
type Settings struct {
	// TickPeriod is the period of the scheduling tick.
	TickPeriod time.Duration `mapstructure:"tick_period"`
	// BringUpPolls is the poll budget of a bring-up run.
	BringUpPolls int `mapstructure:"bringup_polls"`
	// ShutdownPolls is the poll budget of a shutdown run.
	ShutdownPolls int `mapstructure:"shutdown_polls"`
	// RequeryInterval is the number of polls between repeated node presence queries.
	RequeryInterval int `mapstructure:"requery_interval"`
	// InboxLimit bounds the number of received frames waiting for the tick.
	InboxLimit int `mapstructure:"inbox_limit"`

	Log       LogSettings       `mapstructure:"log"`
	Transport TransportSettings `mapstructure:"transport"`

	// HardwareFile is the path of the hardware description.
	HardwareFile string `mapstructure:"hardware_file"`
}

// LogSettings selects the logging backend.
type LogSettings struct {
	Backend     string `mapstructure:"backend"`
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// TransportSettings selects the bus transport.
type TransportSettings struct {
	Kind     string `mapstructure:"kind"`
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	Bitrate  int    `mapstructure:"bitrate"`
}

var ErrInvalidSettings = errors.New("config: invalid settings")

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_period", "50ms")
	v.SetDefault("bringup_polls", 200)
	v.SetDefault("shutdown_polls", 100)
	v.SetDefault("requery_interval", 20)
	v.SetDefault("inbox_limit", 4096)

	v.SetDefault("log.backend", logger.BackendSlog)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("transport.kind", TransportLoopback)
	v.SetDefault("transport.port", "")
	v.SetDefault("transport.baud_rate", 115200)
	v.SetDefault("transport.bitrate", 500000)

	v.SetDefault("hardware_file", "hardware.yaml")
}

// Load reads the kernel settings from path. An empty path uses the defaults and the
// environment only.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks the ranges of the settings.
func (s *Settings) Validate() error {
	switch {
	case s.TickPeriod <= 0:
		return fmt.Errorf("%w: tick_period %v", ErrInvalidSettings, s.TickPeriod)
	case s.BringUpPolls < 1:
		return fmt.Errorf("%w: bringup_polls %d", ErrInvalidSettings, s.BringUpPolls)
	case s.ShutdownPolls < 1:
		return fmt.Errorf("%w: shutdown_polls %d", ErrInvalidSettings, s.ShutdownPolls)
	case s.RequeryInterval < 0:
		return fmt.Errorf("%w: requery_interval %d", ErrInvalidSettings, s.RequeryInterval)
	case s.InboxLimit < 1:
		return fmt.Errorf("%w: inbox_limit %d", ErrInvalidSettings, s.InboxLimit)
	}

	if _, err := logger.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	switch s.Transport.Kind {
	case TransportLoopback:
	case TransportSLCAN:
		if s.Transport.Port == "" {
			return fmt.Errorf("%w: transport.port is required for %s", ErrInvalidSettings, TransportSLCAN)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidSettings, s.Transport.Kind)
	}

	return nil
}

// NewLogger creates the logger selected by the log settings.
func (s *Settings) NewLogger() (logger.Logger, error) {
	level, err := logger.ParseLevel(s.Log.Level)
	if err != nil {
		return nil, err
	}

	return logger.New(s.Log.Backend, level, s.Log.Development)
}
