package bringup

import (
	"fmt"

	"github.com/arloliu/go-dcl/logger"
)

// Option is a functional option for configuring a Service.
type Option interface {
	apply(*Service) error
}

type optFunc func(*Service) error

func (f optFunc) apply(s *Service) error { return f(s) }

// WithLogger sets the logger of the service.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	})
}

// WithPollBudget sets the number of WaitForStates polls after which a bring-up ends with
// Timeout. It should be between 1 and 100000. Defaults to 200.
func WithPollBudget(n int) Option {
	return optFunc(func(s *Service) error {
		if n < 1 || n > 100000 {
			return fmt.Errorf("bringup: poll budget %d out of range [1, 100000]", n)
		}
		s.pollBudget = n
		return nil
	})
}

// WithShutdownBudget sets the number of polls after which a shutdown ends with Timeout.
// It should be between 1 and 100000. Defaults to 100.
func WithShutdownBudget(n int) Option {
	return optFunc(func(s *Service) error {
		if n < 1 || n > 100000 {
			return fmt.Errorf("bringup: shutdown budget %d out of range [1, 100000]", n)
		}
		s.shutdownBudget = n
		return nil
	})
}

// WithRequeryInterval sets after how many polls the module list of a node whose modules
// are not confirmed yet is queried again. Zero disables repeated queries. Defaults to 20.
func WithRequeryInterval(n int) Option {
	return optFunc(func(s *Service) error {
		if n < 0 {
			return fmt.Errorf("bringup: requery interval %d is negative", n)
		}
		s.requeryEvery = n
		return nil
	})
}
