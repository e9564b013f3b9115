package bringup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/go-dcl/fm"
	"github.com/arloliu/go-dcl/logger"
)

// Mode selects the target state of an operation.
type Mode uint8

const (
	// ModeBringUp drives modules to Idle.
	ModeBringUp Mode = iota
	// ModeShutdown drives Idle modules to Standby.
	ModeShutdown
)

func (m Mode) String() string {
	if m == ModeShutdown {
		return "shutdown"
	}

	return "bring-up"
}

// Target returns the module state the mode converges to.
func (m Mode) Target() fm.LifecycleState {
	if m == ModeShutdown {
		return fm.Standby
	}

	return fm.Idle
}

// Phase is the state of the service.
type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseRequestState
	PhaseWaitForStates
	PhaseFinished
	PhaseError
	PhaseTimeout
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseRequestState:
		return "request_state"
	case PhaseWaitForStates:
		return "wait_for_states"
	case PhaseFinished:
		return "finished"
	case PhaseError:
		return "error"
	case PhaseTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Terminal returns true for Finished, Error and Timeout.
func (p Phase) Terminal() bool {
	return p >= PhaseFinished
}

// ModuleSet provides the modules of the session in a stable order. *fm.Registry implements it.
type ModuleSet interface {
	Modules() []*fm.Module
}

// NodeQuerier asks a node for its module list. The answer confirms the present modules
// asynchronously through fm.Module.Confirm.
type NodeQuerier interface {
	QueryModules(ctx context.Context, node fm.NodeKey) error
}

// Rejection is a module excluded from bring-up because its configuration is invalid.
type Rejection struct {
	Handle fm.Handle
	Err    error
}

// Result is the classification of all modules at the end of an operation.
type Result struct {
	Mode  Mode
	Phase Phase
	Polls int
	// Converged modules reached the target state.
	Converged []fm.Handle
	// Pending modules were still on their way when the operation ended.
	Pending []fm.Handle
	// Failed modules reported Error.
	Failed []fm.Handle
	// Skipped modules were not in a state that allows the request, e.g. not Idle at shutdown.
	Skipped []fm.Handle
	// Rejected modules failed initialization with an invalid configuration.
	Rejected []Rejection
}

// Err returns nil if the operation finished, otherwise a *ResultError.
func (r Result) Err() error {
	if r.Phase == PhaseFinished {
		return nil
	}

	return &ResultError{Mode: r.Mode, Phase: r.Phase, Failed: len(r.Failed), Pending: len(r.Pending)}
}

// Degraded returns true if the session can proceed but not every module is operational.
func (r Result) Degraded() bool {
	return r.Phase == PhaseTimeout || (r.Phase == PhaseFinished && len(r.Rejected)+len(r.Skipped) > 0)
}

// DoneFunc receives the result of an operation.
type DoneFunc func(res Result)

// Service drives the life-cycle of all modules of a session with a global poll budget.
//
// Start may be called from any goroutine; Poll is driven by the scheduling tick.
type Service struct {
	modules ModuleSet
	querier NodeQuerier
	logger  logger.Logger

	pollBudget     int
	shutdownBudget int
	requeryEvery   int

	mu           sync.Mutex
	mode         Mode
	phase        Phase
	polls        int
	participants []*fm.Module
	skipped      []fm.Handle
	rejected     []Rejection
	excluded     []Rejection
	fault        *fm.Fault
	result       Result
	done         []DoneFunc
}

// NewService creates a service over modules. querier sends the node module list queries.
func NewService(modules ModuleSet, querier NodeQuerier, opts ...Option) (*Service, error) {
	if modules == nil || querier == nil {
		return nil, errors.New("bringup: module set and node querier are required")
	}

	s := &Service{
		modules:        modules,
		querier:        querier,
		logger:         logger.GetLogger(),
		pollBudget:     200,
		shutdownBudget: 100,
		requeryEvery:   20,
	}
	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start begins a bring-up or shutdown. The work is done by the following Poll calls.
// done, if not nil, receives the result once the operation reached a terminal phase.
// It fails with ErrRunning while another operation is in progress.
func (s *Service) Start(mode Mode, done DoneFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseRequestState || s.phase == PhaseWaitForStates {
		return fmt.Errorf("%w: %s is %s", ErrRunning, s.mode, s.phase)
	}

	s.mode = mode
	s.phase = PhaseRequestState
	s.polls = 0
	s.participants = nil
	s.skipped = nil
	s.rejected = nil
	if mode == ModeBringUp {
		s.rejected = append(s.rejected, s.excluded...)
	}
	s.done = nil
	if done != nil {
		s.done = append(s.done, done)
	}
	s.logger.Info("start module life-cycle operation", "mode", mode)

	return nil
}

// Poll advances the operation by one step and returns the phase after the step.
func (s *Service) Poll(ctx context.Context) Phase {
	s.mu.Lock()

	switch s.phase {
	case PhaseRequestState:
		s.requestState(ctx)
		s.phase = PhaseWaitForStates
		s.mu.Unlock()
		return PhaseWaitForStates

	case PhaseWaitForStates:
		res, terminal := s.waitForStates(ctx)
		if !terminal {
			s.mu.Unlock()
			return PhaseWaitForStates
		}
		done := s.finishLocked(res)
		s.mu.Unlock()

		for _, fn := range done {
			fn(res)
		}
		return res.Phase

	default:
		phase := s.phase
		s.mu.Unlock()
		return phase
	}
}

// Reject excludes a module that could not be created from its configuration. Every
// following bring-up reports it in Result.Rejected.
func (s *Service) Reject(h fm.Handle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.excluded = append(s.excluded, Rejection{Handle: h, Err: err})
}

// Phase returns the current phase.
func (s *Service) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.phase
}

// Mode returns the mode of the current or last operation.
func (s *Service) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mode
}

// Result returns the result of the last terminated operation.
func (s *Service) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.result
}

// LastFault returns the fault of the module that made the last operation fail.
func (s *Service) LastFault() (fm.Fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fault == nil {
		return fm.Fault{}, false
	}

	return *s.fault, true
}

func (s *Service) requestState(ctx context.Context) {
	if s.mode == ModeShutdown {
		for _, m := range s.modules.Modules() {
			switch m.State() {
			case fm.Idle:
				s.participants = append(s.participants, m)
				s.requestStandby(m)
			case fm.Standby:
				s.participants = append(s.participants, m)
			default:
				s.skipped = append(s.skipped, m.Handle())
			}
		}
		return
	}

	var nodes []fm.NodeKey
	seen := make(map[fm.NodeKey]bool)
	for _, m := range s.modules.Modules() {
		if m.State() == fm.Standby {
			if err := m.Reset(); err != nil {
				s.logger.Warn("reset standby module failed", "module", m.Key(), "handle", m.Handle().String(), "error", err)
			}
		}

		switch m.State() {
		case fm.Boot:
			if err := m.Initialize(); err != nil {
				s.rejected = append(s.rejected, Rejection{Handle: m.Handle(), Err: err})
				s.logger.Error("module initialization rejected", "module", m.Key(), "handle", m.Handle().String(), "error", err)
				continue
			}
		case fm.Confirmed:
			s.configure(m)
		}

		s.participants = append(s.participants, m)
		if m.State() == fm.Initialized && !seen[m.Handle().Node()] {
			seen[m.Handle().Node()] = true
			nodes = append(nodes, m.Handle().Node())
		}
	}

	for _, node := range nodes {
		s.query(ctx, node)
	}
}

func (s *Service) waitForStates(ctx context.Context) (Result, bool) {
	s.polls++
	target := s.mode.Target()
	requery := s.mode == ModeBringUp && s.requeryEvery > 0 && s.polls%s.requeryEvery == 0

	res := Result{Mode: s.mode, Polls: s.polls, Skipped: s.skipped, Rejected: s.rejected}
	var nodes []fm.NodeKey
	seen := make(map[fm.NodeKey]bool)
	for _, m := range s.participants {
		switch state := m.State(); {
		case state == target:
			res.Converged = append(res.Converged, m.Handle())
			continue
		case state == fm.Error:
			res.Failed = append(res.Failed, m.Handle())
			continue
		case state == fm.Confirmed && s.mode == ModeBringUp:
			s.configure(m)
		case state == fm.Initialized && requery && !seen[m.Handle().Node()]:
			seen[m.Handle().Node()] = true
			nodes = append(nodes, m.Handle().Node())
		case state == fm.Idle && s.mode == ModeShutdown:
			s.requestStandby(m)
		}
		res.Pending = append(res.Pending, m.Handle())
	}

	switch {
	case len(res.Failed) > 0:
		res.Phase = PhaseError
		if m := s.participant(res.Failed[0]); m != nil {
			if f, ok := m.LastFault(); ok {
				s.fault = &f
			}
		}
	case len(res.Pending) == 0:
		res.Phase = PhaseFinished
	case s.polls >= s.budget():
		res.Phase = PhaseTimeout
	default:
		for _, node := range nodes {
			s.query(ctx, node)
		}
		return res, false
	}

	return res, true
}

func (s *Service) finishLocked(res Result) []DoneFunc {
	s.phase = res.Phase
	s.result = res

	kv := []any{
		"mode", res.Mode, "phase", res.Phase, "polls", res.Polls,
		"converged", len(res.Converged), "pending", len(res.Pending), "failed", len(res.Failed),
		"skipped", len(res.Skipped), "rejected", len(res.Rejected),
	}
	if res.Phase == PhaseFinished {
		s.logger.Info("module life-cycle operation finished", kv...)
	} else {
		s.logger.Warn("module life-cycle operation did not finish", kv...)
	}

	done := s.done
	s.done = nil

	return done
}

func (s *Service) budget() int {
	if s.mode == ModeShutdown {
		return s.shutdownBudget
	}

	return s.pollBudget
}

func (s *Service) participant(h fm.Handle) *fm.Module {
	for _, m := range s.participants {
		if m.Handle() == h {
			return m
		}
	}

	return nil
}

func (s *Service) configure(m *fm.Module) {
	if err := m.Configure(); err != nil {
		s.logger.Warn("configure module failed", "module", m.Key(), "handle", m.Handle().String(), "error", err)
	}
}

func (s *Service) requestStandby(m *fm.Module) {
	if err := m.RequestStandby(); err != nil && !errors.Is(err, fm.ErrBusy) {
		s.logger.Warn("request standby failed", "module", m.Key(), "handle", m.Handle().String(), "error", err)
	}
}

func (s *Service) query(ctx context.Context, node fm.NodeKey) {
	if err := s.querier.QueryModules(ctx, node); err != nil {
		s.logger.Warn("query node modules failed", "node", node.String(), "error", err)
	}
}
