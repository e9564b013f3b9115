package kernel

import (
	"fmt"
	"time"

	"github.com/arloliu/go-dcl/bringup"
	"github.com/arloliu/go-dcl/logger"
)

// Default kernel settings.
const (
	DefaultTickPeriod  = 50 * time.Millisecond
	DefaultInboxLimit  = 4096
	DefaultCallTimeout = 30 * time.Second
)

// Option configures a Kernel.
type Option interface {
	apply(cfg *kernelConfig) error
}

type optFunc func(cfg *kernelConfig) error

func (f optFunc) apply(cfg *kernelConfig) error { return f(cfg) }

type kernelConfig struct {
	logger       logger.Logger
	tickPeriod   time.Duration
	inboxLimit   int
	callTimeout  time.Duration
	bringupOpts  []bringup.Option
	frameLogging bool
}

func defaultConfig() *kernelConfig {
	return &kernelConfig{
		logger:      logger.GetLogger(),
		tickPeriod:  DefaultTickPeriod,
		inboxLimit:  DefaultInboxLimit,
		callTimeout: DefaultCallTimeout,
	}
}

// WithLogger sets the logger of the kernel and the components it creates.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *kernelConfig) error {
		if l == nil {
			return fmt.Errorf("kernel: nil logger")
		}
		cfg.logger = l

		return nil
	})
}

// WithTickPeriod sets the period of the scheduling tick. The default is 50ms.
func WithTickPeriod(d time.Duration) Option {
	return optFunc(func(cfg *kernelConfig) error {
		if d < time.Millisecond || d > time.Second {
			return fmt.Errorf("kernel: tick period %v out of range [1ms, 1s]", d)
		}
		cfg.tickPeriod = d

		return nil
	})
}

// WithInboxLimit bounds the number of received frames waiting for the tick. Frames
// received while the inbox is full are dropped. The default is 4096.
func WithInboxLimit(n int) Option {
	return optFunc(func(cfg *kernelConfig) error {
		if n < 1 {
			return fmt.Errorf("kernel: inbox limit %d must be positive", n)
		}
		cfg.inboxLimit = n

		return nil
	})
}

// WithCallTimeout bounds how long Call waits for a completion when the context carries
// no deadline. The default is 30s.
func WithCallTimeout(d time.Duration) Option {
	return optFunc(func(cfg *kernelConfig) error {
		if d <= 0 {
			return fmt.Errorf("kernel: call timeout %v must be positive", d)
		}
		cfg.callTimeout = d

		return nil
	})
}

// WithBringUpOptions passes options to the bring-up service.
func WithBringUpOptions(opts ...bringup.Option) Option {
	return optFunc(func(cfg *kernelConfig) error {
		cfg.bringupOpts = append(cfg.bringupOpts, opts...)
		return nil
	})
}

// WithFrameLogging logs every transmitted and received frame at debug level.
func WithFrameLogging(enabled bool) Option {
	return optFunc(func(cfg *kernelConfig) error {
		cfg.frameLogging = enabled
		return nil
	})
}
