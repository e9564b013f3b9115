package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/go-dcl/bringup"
	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/internal/pool"
)

// Call submits a command to the module at h and waits for its completion. It returns the
// outcome and the outcome's error: nil on success, fm.ErrProtocolTimeout on timeout and
// an fm.ErrDeviceFault error when the module reported a fault.
//
// The kernel must be ticking for the command to be sent. Call must not be used from a
// completion callback.
func (k *Kernel) Call(ctx context.Context, h fm.Handle, kind fm.CommandKind, payload []byte) (fm.Outcome, error) {
	m, ok := k.registry.Module(h)
	if !ok {
		return fm.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownModule, h)
	}

	ch := make(chan fm.Outcome, 1)
	if _, err := m.Submit(fm.Command{Kind: kind, Payload: payload}, func(cmd fm.PendingCommand) {
		ch <- cmd.Outcome
	}); err != nil {
		return fm.Outcome{}, err
	}

	outcome, err := pool.Wait(ctx, ch, k.cfg.callTimeout)
	switch {
	case errors.Is(err, pool.ErrExpired):
		return fm.Outcome{}, fmt.Errorf("%w: module %s kind %d", ErrCallTimeout, h, kind)
	case err != nil:
		return fm.Outcome{}, err
	}

	return outcome, outcome.Err()
}

// Await starts an asynchronous device operation and waits for it to finish. op receives
// the completion function to hand to the device.
//
//	err := k.Await(ctx, func(done func(error)) error {
//	    return oven.OpenCover(done)
//	})
func (k *Kernel) Await(ctx context.Context, op func(done func(error)) error) error {
	ch := make(chan error, 1)
	if err := op(func(err error) { ch <- err }); err != nil {
		return err
	}

	opErr, err := pool.Wait(ctx, ch, k.cfg.callTimeout)
	switch {
	case errors.Is(err, pool.ErrExpired):
		return ErrCallTimeout
	case err != nil:
		return err
	}

	return opErr
}

// BringUp brings every module to Idle and waits for the result.
func (k *Kernel) BringUp(ctx context.Context) (bringup.Result, error) {
	return k.runService(ctx, bringup.ModeBringUp)
}

// Shutdown brings every Idle module to Standby and waits for the result.
func (k *Kernel) Shutdown(ctx context.Context) (bringup.Result, error) {
	return k.runService(ctx, bringup.ModeShutdown)
}

func (k *Kernel) runService(ctx context.Context, mode bringup.Mode) (bringup.Result, error) {
	ch := make(chan bringup.Result, 1)
	if err := k.service.Start(mode, func(res bringup.Result) { ch <- res }); err != nil {
		return bringup.Result{}, err
	}

	select {
	case res := <-ch:
		return res, res.Err()
	case <-ctx.Done():
		return bringup.Result{}, ctx.Err()
	}
}
