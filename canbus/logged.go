package canbus

import (
	"context"

	"github.com/arloliu/go-dcl/logger"
)

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogNone  LogOption = 0
	LogRead  LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps the given Bus and logs selected operations at debug level.
// Only frames accepted by filter are logged; a nil filter logs every frame.
func NewLoggedBus(inner Bus, l logger.Logger, opts LogOption, filter FrameFilter) Bus {
	return &loggedBus{
		inner:  inner,
		logger: l,
		opts:   opts,
		filter: filter,
	}
}

type loggedBus struct {
	inner  Bus
	logger logger.Logger
	opts   LogOption
	filter FrameFilter
}

func (l *loggedBus) Send(ctx context.Context, frame Frame) error {
	if l.opts&LogWrite != 0 && (l.filter == nil || l.filter(frame)) {
		l.logger.Debug("canbus send", "frame", frame.String(), "id", DecodeID(frame.ID).String())
	}

	err := l.inner.Send(ctx, frame)
	if err != nil && l.opts&LogWrite != 0 {
		l.logger.Error("canbus send error", "frame", frame.String(), "error", err)
	}

	return err
}

func (l *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead == 0 {
		return f, err
	}

	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error("canbus receive error", "error", err)
		}
		return f, err
	}
	if l.filter == nil || l.filter(f) {
		l.logger.Debug("canbus receive", "frame", f.String(), "id", DecodeID(f.ID).String())
	}

	return f, nil
}

func (l *loggedBus) Close() error {
	return l.inner.Close()
}
