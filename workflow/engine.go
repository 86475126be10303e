package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/logging"
	"github.com/lumenstack/concierge/memory"
	"github.com/lumenstack/concierge/provider"
	"github.com/lumenstack/concierge/session"
)

// Gateway is the slice of the provider gateway the engine depends on.
type Gateway interface {
	Complete(ctx context.Context, prompt string, opts provider.Options) (string, error)
	Stream(ctx context.Context, prompt string, opts provider.Options) (<-chan provider.Fragment, <-chan error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Classifier maps an utterance plus recalled context to an IntentResult.
type Classifier interface {
	Classify(ctx context.Context, utterance string, recalled []core.MemoryRecord) (core.IntentResult, error)
}

// Dispatcher routes a classified utterance to a capability. A nil invocation
// with nil error signals the clarify path.
type Dispatcher interface {
	Dispatch(ctx context.Context, intentRes core.IntentResult, utterance, sessionID string) (*core.CapabilityInvocation, error)
}

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// SessionStore persists sessions and turn history.
	SessionStore core.SessionStore
	// MemoryStore backs semantic recall and write-back. Defaults to an
	// in-memory vector store over the engine's gateway.
	MemoryStore core.MemoryStore
	// TurnTimeout is the whole-turn deadline budget every sub-step consumes from.
	TurnTimeout time.Duration
	// RecallK bounds how many memory records are recalled per turn.
	RecallK int
	// HistoryTurns bounds how much session history feeds synthesis.
	HistoryTurns int
	// DegradedResponse is returned to the user when the turn fails in a way
	// the core converts into a degraded reply.
	DegradedResponse string
	// CommitCacheSize bounds the idempotency cache of committed results.
	// Oldest entries are evicted first. Defaults to 1024.
	CommitCacheSize int
	Logger          logging.Logger
}

// TurnOptions carry per-turn caller inputs.
type TurnOptions struct {
	// TurnID makes the commit idempotent: a re-entrant call for an already
	// committed turn returns the previously computed result. Defaults to a
	// fresh ID.
	TurnID string
	// UserID optionally binds the session to a user on first message.
	UserID string
	// LanguageHint asks synthesis to compose the reply in this language.
	LanguageHint string
	// Deadline overrides the engine's TurnTimeout for this turn.
	Deadline time.Duration
}

// TurnResult is the terminal outcome of one turn.
type TurnResult struct {
	TurnID     string                     `json:"turn_id"`
	SessionID  string                     `json:"session_id"`
	Response   string                     `json:"response"`
	Intent     core.IntentResult          `json:"intent"`
	Invocation *core.CapabilityInvocation `json:"invocation,omitempty"`
	State      core.WorkflowState         `json:"state"`
	ErrorKind  string                     `json:"error_kind,omitempty"`
}

// Engine drives turns through the workflow state machine. Safe for concurrent
// use: sessions are processed independently, while turns within one session
// are strictly serialized so recall for turn N sees exactly turns 1..N-1.
type Engine struct {
	gateway    Gateway
	classifier Classifier
	dispatcher Dispatcher
	sessions   core.SessionStore
	memories   core.MemoryStore
	timeout    time.Duration
	recallK    int
	history    int
	degraded   string
	logger     logging.Logger

	mu           sync.Mutex
	sessionLocks map[string]*sessionLock
	committed    map[string]*TurnResult
	commitOrder  []string
	commitCap    int
}

// sessionLock serializes turns within one session. The refcount lets the
// engine drop the map entry once no turn is holding or waiting on it, so the
// lock table does not grow with the number of sessions ever seen.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New constructs an Engine with optional overrides. The defaults are safe for
// local development and tests; production deployments supply durable stores
// and a structured logger.
func New(gateway Gateway, classifier Classifier, dispatcher Dispatcher, optFns ...func(o *Options)) *Engine {
	opts := Options{
		SessionStore:     session.NewInMemoryStore(),
		TurnTimeout:      30 * time.Second,
		RecallK:          5,
		HistoryTurns:     5,
		DegradedResponse: "I couldn't process that. Please try again.",
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MemoryStore == nil {
		opts.MemoryStore = memory.NewInMemoryStore(gateway)
	}
	if opts.CommitCacheSize <= 0 {
		opts.CommitCacheSize = 1024
	}

	return &Engine{
		gateway:      gateway,
		classifier:   classifier,
		dispatcher:   dispatcher,
		sessions:     opts.SessionStore,
		memories:     opts.MemoryStore,
		timeout:      opts.TurnTimeout,
		recallK:      opts.RecallK,
		history:      opts.HistoryTurns,
		degraded:     opts.DegradedResponse,
		logger:       opts.Logger,
		sessionLocks: make(map[string]*sessionLock),
		committed:    make(map[string]*TurnResult),
		commitCap:    opts.CommitCacheSize,
	}
}

// lockSession blocks until the caller holds the session's turn lock.
func (e *Engine) lockSession(sessionID string) *sessionLock {
	e.mu.Lock()
	lock, ok := e.sessionLocks[sessionID]
	if !ok {
		lock = &sessionLock{}
		e.sessionLocks[sessionID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// unlockSession releases the turn lock and frees the map entry when no other
// turn is waiting on it.
func (e *Engine) unlockSession(sessionID string, lock *sessionLock) {
	lock.mu.Unlock()

	e.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(e.sessionLocks, sessionID)
	}
	e.mu.Unlock()
}

func (e *Engine) cachedResult(turnID string) (*TurnResult, bool) {
	if turnID == "" {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.committed[turnID]
	return res, ok
}

func (e *Engine) cacheResult(res *TurnResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.committed[res.TurnID]; ok {
		e.committed[res.TurnID] = res
		return
	}
	for len(e.commitOrder) >= e.commitCap {
		oldest := e.commitOrder[0]
		e.commitOrder = e.commitOrder[1:]
		delete(e.committed, oldest)
	}
	e.committed[res.TurnID] = res
	e.commitOrder = append(e.commitOrder, res.TurnID)
}

// HandleTurn processes one utterance to a terminal state and returns the
// synthesized response.
//
// Error contract: ErrDeadlineExceeded and ErrCancelled are returned verbatim
// alongside the failed result so the transport can choose its own messaging.
// Provider, routing and capability failures are converted into a degraded
// textual response (result.State == failed, nil error); they never surface as
// raw errors to the caller.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, utterance string, optFns ...func(o *TurnOptions)) (*TurnResult, error) {
	opts := TurnOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if res, ok := e.cachedResult(opts.TurnID); ok {
		return res, nil
	}

	lock := e.lockSession(sessionID)
	defer e.unlockSession(sessionID, lock)

	// A concurrent call may have committed this turn while we waited.
	if res, ok := e.cachedResult(opts.TurnID); ok {
		return res, nil
	}

	return e.runTurn(ctx, sessionID, utterance, opts, nil)
}

// HandleTurnStream processes one utterance like HandleTurn but delivers the
// synthesized response as a lazy, finite, non-restartable fragment sequence.
// Cancelling ctx stops the stream at the next fragment boundary and fails the
// turn with ErrCancelled. The error channel reports the turn's terminal error
// under the same contract as HandleTurn.
func (e *Engine) HandleTurnStream(ctx context.Context, sessionID, utterance string, optFns ...func(o *TurnOptions)) (<-chan provider.Fragment, <-chan error) {
	opts := TurnOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	out := make(chan provider.Fragment, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if res, ok := e.cachedResult(opts.TurnID); ok {
			select {
			case out <- provider.Fragment{Text: res.Response}:
				out <- provider.Fragment{Final: true}
			case <-ctx.Done():
			}
			return
		}

		lock := e.lockSession(sessionID)
		defer e.unlockSession(sessionID, lock)

		res, err := e.runTurn(ctx, sessionID, utterance, opts, out)
		if err != nil {
			errCh <- err
			return
		}
		// A degraded turn produces no synthesis fragments; deliver its
		// textual response so the consumer still has something to show.
		if res != nil && res.State == core.StateFailed {
			select {
			case out <- provider.Fragment{Text: res.Response}:
				select {
				case out <- provider.Fragment{Final: true}:
				case <-ctx.Done():
				}
			case <-ctx.Done():
			}
		}
	}()

	return out, errCh
}

// runTurn drives the state machine for one turn. When stream is non-nil the
// synthesized response is delivered fragment by fragment through it.
// Callers hold the session lock.
func (e *Engine) runTurn(parent context.Context, sessionID, utterance string, opts TurnOptions, stream chan<- provider.Fragment) (*TurnResult, error) {
	timeout := e.timeout
	if opts.Deadline > 0 {
		timeout = opts.Deadline
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	sess, err := e.sessions.GetOrCreate(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if opts.UserID != "" && sess.UserID == "" {
		// The store returns clones, so the association has to go through it.
		if err := e.sessions.BindUser(sessionID, opts.UserID); err != nil {
			return nil, fmt.Errorf("bind user: %w", err)
		}
		sess.UserID = opts.UserID
	}

	turn := core.NewTurn(sessionID, utterance)
	if opts.TurnID != "" {
		turn.ID = opts.TurnID
	}
	if last, ok := sess.LastTurn(); ok && !turn.Timestamp.After(last.Timestamp) {
		turn.Timestamp = last.Timestamp.Add(time.Nanosecond)
	}

	log := e.contextLogger(sessionID, turn.ID)
	state := core.StateReceived

	advance := func(next core.WorkflowState) error {
		if !state.CanTransition(next) {
			return fmt.Errorf("invalid workflow transition %s -> %s", state, next)
		}
		state = next
		turn.State = next
		_ = e.sessions.SetWorkflowState(sessionID, next)
		log.Debug("workflow state advanced", "state", string(next))
		return e.budgetErr(ctx)
	}

	// Recall.
	if err := advance(core.StateRecallingMemory); err != nil {
		return e.failTurn(&turn, err, log)
	}
	recalled, err := e.memories.Recall(ctx, sessionID, utterance, e.recallK)
	if err != nil {
		if mapped := e.mapCtxErr(ctx, err); mapped != nil {
			return e.failTurn(&turn, mapped, log)
		}
		// Recall degradation is always recovered locally.
		log.Warn("memory recall failed, continuing with empty context", "error", err)
		recalled = nil
	}

	// Classify.
	if err := advance(core.StateClassifying); err != nil {
		return e.failTurn(&turn, err, log)
	}
	intentRes, err := e.classifier.Classify(ctx, utterance, recalled)
	if err != nil {
		if mapped := e.mapCtxErr(ctx, err); mapped != nil {
			return e.failTurn(&turn, mapped, log)
		}
		return e.failTurn(&turn, err, log)
	}
	turn.Intent = &intentRes

	// Dispatch. The intent is always set before dispatch is attempted.
	if err := advance(core.StateDispatching); err != nil {
		return e.failTurn(&turn, err, log)
	}
	inv, dispatchErr := e.dispatcher.Dispatch(ctx, intentRes, utterance, sessionID)
	turn.Capability = inv
	if dispatchErr != nil {
		if mapped := e.mapCtxErr(ctx, dispatchErr); mapped != nil {
			return e.failTurn(&turn, mapped, log)
		}
		// RoutingGap and exhausted capability errors degrade the reply.
		return e.failTurn(&turn, dispatchErr, log)
	}

	// Synthesize.
	if err := advance(core.StateSynthesizing); err != nil {
		return e.failTurn(&turn, err, log)
	}
	prompt := e.synthesisPrompt(sess, utterance, intentRes, inv, recalled, opts.LanguageHint)

	var response string
	if stream == nil {
		response, err = e.gateway.Complete(ctx, prompt, provider.Options{})
		if err != nil {
			if mapped := e.mapCtxErr(ctx, err); mapped != nil {
				return e.failTurn(&turn, mapped, log)
			}
			return e.failTurn(&turn, err, log)
		}
	} else {
		if err := advance(core.StateStreaming); err != nil {
			return e.failTurn(&turn, err, log)
		}
		response, err = e.streamSynthesis(ctx, prompt, stream)
		if err != nil {
			if mapped := e.mapCtxErr(ctx, err); mapped != nil {
				return e.failTurn(&turn, mapped, log)
			}
			return e.failTurn(&turn, err, log)
		}
	}
	turn.Response = response

	// Commit.
	if err := advance(core.StateCommitted); err != nil {
		return e.failTurn(&turn, err, log)
	}
	if err := e.sessions.AppendTurn(sessionID, turn); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	e.writeBack(turn, log)

	res := &TurnResult{
		TurnID:     turn.ID,
		SessionID:  sessionID,
		Response:   response,
		Intent:     intentRes,
		Invocation: inv,
		State:      core.StateCommitted,
	}
	e.cacheResult(res)
	log.Info("turn committed", "intent", string(intentRes.Label))
	return res, nil
}

// budgetErr maps an exhausted turn context onto the error taxonomy.
func (e *Engine) budgetErr(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return core.ErrDeadlineExceeded
	case errors.Is(ctx.Err(), context.Canceled):
		return core.ErrCancelled
	default:
		return nil
	}
}

// mapCtxErr classifies an error that may stem from budget exhaustion or
// caller cancellation; nil means the error was not context-driven.
func (e *Engine) mapCtxErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.ErrDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return core.ErrCancelled
	}
	return nil
}

// failTurn persists a best-effort failed turn (the session log is never
// missing the user's message) and applies the propagation policy:
// DeadlineExceeded and Cancelled return verbatim; everything else converts
// into the degraded response.
func (e *Engine) failTurn(turn *core.Turn, cause error, log logging.Logger) (*TurnResult, error) {
	turn.State = core.StateFailed
	turn.ErrorKind = core.ErrorKind(cause)
	turn.Response = e.degraded

	_ = e.sessions.SetWorkflowState(turn.SessionID, core.StateFailed)
	if err := e.sessions.AppendTurn(turn.SessionID, *turn); err != nil {
		log.Error("failed to persist failed turn", "error", err)
	}
	log.Warn("turn failed", "kind", turn.ErrorKind, "error", cause)

	res := &TurnResult{
		TurnID:     turn.ID,
		SessionID:  turn.SessionID,
		Response:   e.degraded,
		Invocation: turn.Capability,
		State:      core.StateFailed,
		ErrorKind:  turn.ErrorKind,
	}
	if turn.Intent != nil {
		res.Intent = *turn.Intent
	}

	if errors.Is(cause, core.ErrDeadlineExceeded) || errors.Is(cause, core.ErrCancelled) {
		return res, cause
	}
	return res, nil
}

// writeBack indexes the committed turn for future recall. Best effort: the
// turn is already committed, so an indexing failure only narrows future
// context. Detached from the turn budget so a late deadline cannot drop it.
func (e *Engine) writeBack(turn core.Turn, log logging.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 5*time.Second)
	defer cancel()
	if _, err := e.memories.Write(ctx, turn.SessionID, turn); err != nil {
		log.Warn("memory write-back failed", "error", err)
	}
}

// streamSynthesis pipes gateway fragments to the consumer while accumulating
// the full response for persistence.
func (e *Engine) streamSynthesis(ctx context.Context, prompt string, out chan<- provider.Fragment) (string, error) {
	frags, errs := e.gateway.Stream(ctx, prompt, provider.Options{})
	var sb strings.Builder
	for frag := range frags {
		if !frag.Final {
			sb.WriteString(frag.Text)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case out <- frag:
		}
	}
	if err := <-errs; err != nil {
		return "", err
	}
	return sb.String(), nil
}

const synthesisInstruction = "You are a concise business operations assistant. " +
	"Answer the user using the provided context. Do not invent data."

func (e *Engine) synthesisPrompt(sess *core.Session, utterance string, intentRes core.IntentResult, inv *core.CapabilityInvocation, recalled []core.MemoryRecord, languageHint string) string {
	var sb strings.Builder

	if history := sess.RecentHistory(e.history); len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, t := range history {
			sb.WriteString(fmt.Sprintf("%s: %s\n", t.Role, t.Content))
			if t.Response != "" {
				sb.WriteString(fmt.Sprintf("agent: %s\n", t.Response))
			}
		}
		sb.WriteByte('\n')
	}

	if len(recalled) > 0 {
		sb.WriteString("Possibly relevant earlier exchanges:\n")
		for _, rec := range recalled {
			sb.WriteString(rec.Text)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	switch {
	case inv != nil && inv.Succeeded():
		sb.WriteString("Result from ")
		sb.WriteString(inv.Name)
		sb.WriteString(": ")
		sb.WriteString(inv.Result.Summary)
		sb.WriteString("\n\nCompose a helpful reply to the user message using this result.\n")
	default:
		sb.WriteString("The request was too ambiguous to act on (intent ")
		sb.WriteString(string(intentRes.Label))
		sb.WriteString(fmt.Sprintf(", confidence %.2f", intentRes.Confidence))
		sb.WriteString("). Compose one short clarifying question for the user.\n")
	}

	if languageHint != "" {
		sb.WriteString("Respond in ")
		sb.WriteString(languageHint)
		sb.WriteString(".\n")
	}

	sb.WriteString("\nUser message: ")
	sb.WriteString(utterance)
	return sb.String()
}

func (e *Engine) contextLogger(sessionID, turnID string) logging.Logger {
	if cl, ok := e.logger.(*logging.ContextLogger); ok {
		return cl.WithComponent("workflow").WithSession(sessionID, turnID)
	}
	return e.logger
}
