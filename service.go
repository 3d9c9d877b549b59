package canstate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/replivm/canstate/logging"
	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
	"github.com/replivm/canstate/model/fault"
	"github.com/replivm/canstate/policy"
	"github.com/replivm/canstate/runtime/callcontext"
	"github.com/replivm/canstate/runtime/canister"
	"github.com/replivm/canstate/runtime/history"
	"github.com/replivm/canstate/runtime/taskqueue"
	"github.com/replivm/canstate/service/dao"
	smemory "github.com/replivm/canstate/service/dao/state/memory"
	"github.com/replivm/canstate/service/event"
	"github.com/replivm/canstate/service/messaging"
	mmemory "github.com/replivm/canstate/service/messaging/memory"
	"github.com/replivm/canstate/service/meta"
	"github.com/replivm/canstate/service/rounds"
	"github.com/replivm/canstate/tracing"
)

// Envelope is what the induction queue carries: a consensus-ordered message
// addressed to a canister, stamped with the round time it was ordered at.
type Envelope struct {
	CanisterID model.CanisterID `json:"canisterId"`
	Message    model.Message    `json:"message"`
	Now        model.Time       `json:"now"`
}

// InductResult reports what inducting a message did.
type InductResult struct {
	// CallContextID is the context opened (ingress, request) or continued
	// (response).
	CallContextID model.CallContextID

	// Callback is the settled entry when a response was inducted; the
	// scheduler executes it against the interpreter.
	Callback *callcontext.Callback

	// Dropped reports a stale response that was logged and discarded with
	// balances untouched.
	Dropped bool
}

// ContextOpened is the event payload for a freshly opened call context.
type ContextOpened struct {
	CallContextID model.CallContextID `json:"callContextId"`
	Kind          model.MessageKind   `json:"kind"`
}

// StaleDrop is the event payload for a dropped stale response.
type StaleDrop struct {
	CallbackID model.CallbackID `json:"callbackId"`
}

// HistoryAppended is the event payload for a recorded lifecycle change.
type HistoryAppended struct {
	Kind            history.ChangeKind `json:"kind"`
	CanisterVersion uint64             `json:"canisterVersion"`
	TotalNumChanges uint64             `json:"totalNumChanges"`
}

// Service is the embeddable execution-state manager. It owns the
// per-canister state registry and serializes all mutation per canister.
type Service struct {
	config *Config

	mu     sync.RWMutex
	states map[model.CanisterID]*canister.State

	stateDAO    dao.Service[model.CanisterID, canister.Snapshot]
	queue       messaging.Queue[Envelope]
	events      *event.Service
	pricer      policy.Pricer
	logger      *zap.Logger
	metaService *meta.Service
	interpreter rounds.Interpreter
	driver      *rounds.Driver
}

// Ensure the service resolves states for the round driver.
var _ rounds.States = (*Service)(nil)

// New creates the service with the supplied options applied over defaults.
func New(options ...Option) *Service {
	s := &Service{states: map[model.CanisterID]*canister.State{}}
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()
	return s
}

func (s *Service) ensureBaseSetup() {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.pricer == nil {
		s.pricer = &policy.Static{}
	}
	if s.logger == nil {
		s.logger = logging.Named("canstate")
	}
	if s.metaService == nil {
		s.metaService = meta.New(nil, "")
	}
	if s.stateDAO == nil {
		s.stateDAO = smemory.New()
	}
	if s.queue == nil {
		s.queue = mmemory.NewQueue[Envelope](mmemory.DefaultConfig())
	}
	if s.interpreter != nil {
		s.driver, _ = rounds.New(
			rounds.WithStates(s),
			rounds.WithInterpreter(s.interpreter),
			rounds.WithPricer(s.pricer),
			rounds.WithEvents(s.events),
			rounds.WithLogger(s.logger),
			rounds.WithConfig(rounds.Config{
				MaxTasksPerSlice: s.config.Rounds.MaxTasksPerSlice,
				DefaultBudget:    s.config.Rounds.DefaultBudget,
			}))
	}
}

// Queue returns the induction queue the transport publishes envelopes to.
func (s *Service) Queue() messaging.Queue[Envelope] { return s.queue }

// LookupState resolves a canister id to its live state.
func (s *Service) LookupState(id model.CanisterID) (*canister.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return nil, fmt.Errorf("canstate: canister %s: %w", id, dao.ErrNotFound)
	}
	return st, nil
}

// CanisterIDs returns the registered canister ids in ascending order.
func (s *Service) CanisterIDs() []model.CanisterID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CanisterID, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CreateCanister provisions a fresh canister holding the initial balance,
// charges the creation fee and records the creation in its history.
func (s *Service) CreateCanister(id model.CanisterID, initial cycles.Cycles, controllers []model.PrincipalID, origin history.ChangeOrigin, now model.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[id]; ok {
		return fmt.Errorf("canstate: canister %s already exists", id)
	}

	st := canister.New(id, initial, canister.Config{
		ReservedCyclesLimit: cycles.New(s.config.Canister.ReservedCyclesLimit),
		HistoryRetention:    s.config.Canister.HistoryRetention,
	})
	st.Controllers = append([]model.PrincipalID(nil), controllers...)

	if fee := s.pricer.CreationCost(); !fee.IsZero() {
		if err := st.Ledger.Charge(fee, cycles.UseCaseCanisterCreation); err != nil {
			return err
		}
	}
	if err := st.History.Record(history.Change{
		Timestamp:       now,
		CanisterVersion: st.Version,
		Origin:          origin,
		Detail: history.ChangeDetail{
			Kind:     history.ChangeCreation,
			Creation: &history.CreationDetail{Controllers: st.Controllers},
		},
	}); err != nil {
		return err
	}
	s.states[id] = st
	s.logger.Info("canister created",
		zap.String("canisterId", string(id)),
		zap.String("balance", st.Ledger.Balance().String()))
	return nil
}

// Induct applies one consensus-ordered message to the canister: ingress and
// requests open a call context, responses settle callbacks, system tasks
// enqueue. Stale responses are logged and dropped with balances untouched.
func (s *Service) Induct(ctx context.Context, id model.CanisterID, msg model.Message, now model.Time) (InductResult, error) {
	ctx, span := tracing.StartSpan(ctx, "canstate.induct", "CONSUMER")
	span.WithAttributes(map[string]string{
		"canisterId": string(id),
		"kind":       string(msg.Kind),
	})

	result, err := s.induct(ctx, id, msg, now)
	tracing.EndSpan(span, err)
	return result, err
}

func (s *Service) induct(ctx context.Context, id model.CanisterID, msg model.Message, now model.Time) (InductResult, error) {
	var result InductResult
	st, err := s.LookupState(id)
	if err != nil {
		return result, err
	}
	if err := msg.Validate(); err != nil {
		return result, err
	}

	switch msg.Kind {
	case model.MessageIngress:
		cost := s.pricer.InductionCost(len(msg.Ingress.Payload))
		if err := st.Ledger.Charge(cost, cycles.UseCaseIngressInduction); err != nil {
			return result, err
		}
		return s.openContext(ctx, st, msg, cycles.Zero())

	case model.MessageRequest:
		return s.openContext(ctx, st, msg, msg.Request.Cycles)

	case model.MessageResponse:
		cc, cb, err := st.Calls.OnResponse(msg.Response.CallbackID)
		if fault.IsStaleReference(err) {
			s.logger.Warn("dropping stale response",
				zap.String("canisterId", string(id)),
				zap.Uint64("callbackId", uint64(msg.Response.CallbackID)))
			s.publishStaleDrop(ctx, id, msg.Response.CallbackID)
			result.Dropped = true
			return result, nil
		}
		if err != nil {
			return result, err
		}
		if err := s.settlePrepaid(st, cb, msg.Response); err != nil {
			return result, err
		}
		if !msg.Response.Refund.IsZero() {
			if err := st.Ledger.Deposit(msg.Response.Refund); err != nil {
				return result, err
			}
		}
		result.CallContextID = cc.ID
		result.Callback = cb
		return result, nil

	case model.MessageSystemTask:
		return result, st.Tasks.EnqueueSystemTask(systemTaskKind(msg.SystemTask))
	}
	return result, fmt.Errorf("canstate: unsupported message kind %q", msg.Kind)
}

func (s *Service) openContext(ctx context.Context, st *canister.State, msg model.Message, attached cycles.Cycles) (InductResult, error) {
	var result InductResult
	origin, err := msg.Origin()
	if err != nil {
		return result, err
	}
	ctxID, err := st.Calls.OpenCallContext(origin, attached)
	if err != nil {
		return result, err
	}
	result.CallContextID = ctxID
	if s.events != nil {
		_ = event.PublisherOf[ContextOpened](s.events).Publish(ctx, event.NewEvent(&event.Context{
			CanisterID:    st.ID,
			EventType:     event.TypeCallContextOpened,
			CallContextID: ctxID,
		}, ContextOpened{CallContextID: ctxID, Kind: msg.Kind}))
	}
	return result, nil
}

// settlePrepaid returns what the callback was charged up front now that the
// response has arrived. The response execution is refunded in full since the
// scheduler charges it at actual cost when it runs the callback; transmission
// was prepaid at a cap, so only the unused part comes back.
func (s *Service) settlePrepaid(st *canister.State, cb *callcontext.Callback, resp *model.Response) error {
	if !cb.PrepaidExecution.IsZero() {
		if err := st.Ledger.Refund(cb.PrepaidExecution, cycles.UseCaseInstructions); err != nil {
			return err
		}
	}
	if !cb.PrepaidTransmission.IsZero() {
		size := len(resp.Reply)
		if resp.IsReject() {
			size = len(resp.Reject.Message)
		}
		actual := s.pricer.TransmissionCost(size)
		if cb.PrepaidTransmission.Cmp(actual) > 0 {
			unused, err := cb.PrepaidTransmission.Sub(actual)
			if err != nil {
				return err
			}
			if err := st.Ledger.Refund(unused, cycles.UseCaseRequestTransmission); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) publishStaleDrop(ctx context.Context, id model.CanisterID, cbID model.CallbackID) {
	if s.events == nil {
		return
	}
	_ = event.PublisherOf[StaleDrop](s.events).Publish(ctx, event.NewEvent(&event.Context{
		CanisterID: id,
		EventType:  event.TypeStaleReference,
		CallbackID: cbID,
	}, StaleDrop{CallbackID: cbID}))
}

// StartInduction consumes the induction queue until ctx ends, applying each
// envelope in consumption order. The transport publishes envelopes in the
// replica-identical order consensus decided.
func (s *Service) StartInduction(ctx context.Context) {
	go func() {
		for {
			msg, err := s.queue.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			envelope := msg.T()
			if _, err := s.Induct(ctx, envelope.CanisterID, envelope.Message, envelope.Now); err != nil {
				s.logger.Warn("induction failed",
					zap.String("canisterId", string(envelope.CanisterID)),
					zap.Error(err))
				_ = msg.Nack(err)
				continue
			}
			_ = msg.Ack()
		}
	}()
}

// ExecuteSlice runs queued tasks of the canister within the budget; see
// rounds.Driver.
func (s *Service) ExecuteSlice(ctx context.Context, id model.CanisterID, budget uint64, now model.Time) (rounds.Report, error) {
	if s.driver == nil {
		return rounds.Report{}, fmt.Errorf("canstate: no interpreter configured")
	}
	return s.driver.ExecuteSlice(ctx, id, budget, now)
}

// ExecuteMessage runs a fresh inbound message inside an open call context;
// see rounds.Driver.
func (s *Service) ExecuteMessage(ctx context.Context, id model.CanisterID, ctxID model.CallContextID, msg model.Message, budget uint64, now model.Time) (rounds.Report, error) {
	if s.driver == nil {
		return rounds.Report{}, fmt.Errorf("canstate: no interpreter configured")
	}
	return s.driver.ExecuteMessage(ctx, id, ctxID, msg, budget, now)
}

// RegisterCallback records an outbound call made on behalf of an open call
// context. The prepaid response execution and transmission are charged up
// front and the cycles attached to the call leave the balance; all three
// come back at settlement or expiry, minus what the response actually
// consumed. Failure leaves the ledger untouched.
func (s *Service) RegisterCallback(id model.CanisterID, ctxID model.CallContextID, spec callcontext.CallbackSpec) (model.CallbackID, error) {
	st, err := s.LookupState(id)
	if err != nil {
		return 0, err
	}
	if !spec.PrepaidExecution.IsZero() {
		if err := st.Ledger.Charge(spec.PrepaidExecution, cycles.UseCaseInstructions); err != nil {
			return 0, err
		}
	}
	if !spec.PrepaidTransmission.IsZero() {
		if err := st.Ledger.Charge(spec.PrepaidTransmission, cycles.UseCaseRequestTransmission); err != nil {
			s.unwindCallbackCharges(st, spec, false, false)
			return 0, err
		}
	}
	if !spec.CyclesSent.IsZero() {
		if err := st.Ledger.Withdraw(spec.CyclesSent); err != nil {
			s.unwindCallbackCharges(st, spec, true, false)
			return 0, err
		}
	}
	cbID, err := st.Calls.RegisterCallback(ctxID, spec)
	if err != nil {
		s.unwindCallbackCharges(st, spec, true, true)
		return 0, err
	}
	return cbID, nil
}

func (s *Service) unwindCallbackCharges(st *canister.State, spec callcontext.CallbackSpec, transCharged, sentWithdrawn bool) {
	if !spec.PrepaidExecution.IsZero() {
		_ = st.Ledger.Refund(spec.PrepaidExecution, cycles.UseCaseInstructions)
	}
	if transCharged && !spec.PrepaidTransmission.IsZero() {
		_ = st.Ledger.Refund(spec.PrepaidTransmission, cycles.UseCaseRequestTransmission)
	}
	if sentWithdrawn && !spec.CyclesSent.IsZero() {
		_ = st.Ledger.Deposit(spec.CyclesSent)
	}
}

// RecordChange bumps the canister version and appends a lifecycle change to
// its history.
func (s *Service) RecordChange(ctx context.Context, id model.CanisterID, detail history.ChangeDetail, origin history.ChangeOrigin, now model.Time) error {
	st, err := s.LookupState(id)
	if err != nil {
		return err
	}
	version := st.BumpVersion()
	if err := st.History.Record(history.Change{
		Timestamp:       now,
		CanisterVersion: version,
		Origin:          origin,
		Detail:          detail,
	}); err != nil {
		return err
	}
	if s.events != nil {
		_ = event.PublisherOf[HistoryAppended](s.events).Publish(ctx, event.NewEvent(&event.Context{
			CanisterID: id,
			EventType:  event.TypeHistoryRecorded,
		}, HistoryAppended{
			Kind:            detail.Kind,
			CanisterVersion: version,
			TotalNumChanges: st.History.TotalNumChanges(),
		}))
	}
	return nil
}

// ChangesSince returns the retained history entries with version > since.
func (s *Service) ChangesSince(id model.CanisterID, since uint64) ([]history.Change, error) {
	st, err := s.LookupState(id)
	if err != nil {
		return nil, err
	}
	return st.History.ChangesSince(since), nil
}

// ScheduleSystemTask enqueues a heartbeat, global-timer or low-memory-hook
// run for the canister.
func (s *Service) ScheduleSystemTask(id model.CanisterID, kind model.SystemTaskKind) error {
	st, err := s.LookupState(id)
	if err != nil {
		return err
	}
	return st.Tasks.EnqueueSystemTask(systemTaskKind(kind))
}

// SetLowMemoryCondition applies the external memory-pressure signal to the
// canister's hook state machine.
func (s *Service) SetLowMemoryCondition(id model.CanisterID, satisfied bool) error {
	st, err := s.LookupState(id)
	if err != nil {
		return err
	}
	st.Tasks.SetHookCondition(satisfied)
	return nil
}

// Deposit credits externally transferred cycles to the canister.
func (s *Service) Deposit(id model.CanisterID, amount cycles.Cycles) error {
	st, err := s.LookupState(id)
	if err != nil {
		return err
	}
	return st.Ledger.Deposit(amount)
}

// PrepareCheckpoint aborts every paused continuation so that all canister
// state is serializable. Call before SaveCanister at a checkpoint boundary.
func (s *Service) PrepareCheckpoint() error {
	for _, id := range s.CanisterIDs() {
		st, err := s.LookupState(id)
		if err != nil {
			return err
		}
		if err := st.Tasks.AbortPaused(); err != nil {
			return err
		}
	}
	return nil
}

// SaveCanister persists the canister's snapshot through the state DAO.
func (s *Service) SaveCanister(ctx context.Context, id model.CanisterID) error {
	st, err := s.LookupState(id)
	if err != nil {
		return err
	}
	snap, err := st.Snapshot()
	if err != nil {
		return err
	}
	return s.stateDAO.Save(ctx, snap)
}

// LoadCanister restores a canister from its persisted snapshot, replacing
// any live state under the same id.
func (s *Service) LoadCanister(ctx context.Context, id model.CanisterID) error {
	snap, err := s.stateDAO.Load(ctx, id)
	if err != nil {
		return err
	}
	st, err := canister.FromSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.states[id] = st
	s.mu.Unlock()
	return nil
}

func systemTaskKind(kind model.SystemTaskKind) taskqueue.Kind {
	switch kind {
	case model.SystemTaskHeartbeat:
		return taskqueue.KindHeartbeat
	case model.SystemTaskGlobalTimer:
		return taskqueue.KindGlobalTimer
	case model.SystemTaskOnLowWasmMemory:
		return taskqueue.KindOnLowWasmMemory
	}
	return taskqueue.Kind(kind)
}
