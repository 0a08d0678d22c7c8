// Package workflow orchestrates diff-gated co-authoring turns: snapshot,
// prompt, backend call, parse, per-kind accept decision, apply, and the
// single system message that records the outcome.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/llm"
	"github.com/lodevel/procstudio/contract"
	"github.com/lodevel/procstudio/metrics"
	"github.com/lodevel/procstudio/prompt"
	"github.com/lodevel/procstudio/proposal"
	"github.com/lodevel/procstudio/session"
)

// Decider makes the accept/reject decision for one proposed artifact change.
// Implementations typically show the user a diff and wait for input.
type Decider interface {
	Decide(kind artifact.Kind, current, proposed string) (bool, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(kind artifact.Kind, current, proposed string) (bool, error)

// Decide calls the function.
func (f DeciderFunc) Decide(kind artifact.Kind, current, proposed string) (bool, error) {
	return f(kind, current, proposed)
}

// Tracer recomputes the derived traceability artifact from the procedure
// JSON and the test code.
type Tracer interface {
	Recompute(ctx context.Context, procedureJSON, testCode string) (string, error)
}

// Outcome summarizes one completed turn.
type Outcome struct {
	Task contract.TaskType

	// Proposal is the parsed reply, including any ParseError.
	Proposal proposal.Proposal

	// Accepted and Rejected list the proposed kinds by decision.
	Accepted []artifact.Kind
	Rejected []artifact.Kind

	// NewVersions holds the post-apply version of each accepted kind.
	NewVersions map[artifact.Kind]int64

	// TraceabilityUpdated reports whether the derived map was recomputed.
	TraceabilityUpdated bool

	// ApplyErr is set when accepted changes could not be applied, most
	// notably a version conflict. The proposal was not applied; narrative
	// and session state were still consumed.
	ApplyErr error
}

// RulesProvider returns the current rules content and a checksum that
// changes when the content changes.
type RulesProvider func() (content, checksum string)

// Runner executes turns against a shared artifact store.
type Runner struct {
	store     *artifact.Store
	contracts *contract.Table
	backend   Backend

	tracer  Tracer
	metrics *metrics.Metrics
	logger  *slog.Logger
	rules   RulesProvider

	// sentRules tracks the rules checksum last sent per session, so rules
	// are embedded only on the first turn and after edits.
	mu        sync.Mutex
	sentRules map[string]string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTracer enables traceability recomputation after accepted changes to
// the procedure JSON or test code.
func WithTracer(t Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = t
	}
}

// WithMetrics enables turn instrumentation.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRules sets the provider for workspace authoring rules.
func WithRules(p RulesProvider) RunnerOption {
	return func(r *Runner) {
		r.rules = p
	}
}

// NewRunner creates a turn runner.
func NewRunner(store *artifact.Store, contracts *contract.Table, backend Backend, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:     store,
		contracts: contracts,
		backend:   backend,
		logger:    slog.Default(),
		sentRules: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunTurn executes one turn for sess.
//
// The turn is transactional around the backend call: if Send fails or ctx is
// cancelled, the store's dirty tracking is rolled back and no messages are
// recorded. Cancellation restores the session's pre-turn state; a transport
// failure moves it to ERRORED, from which Begin is still legal so the turn
// can be retried. After a reply arrives
// the turn always completes: messages are appended, session state advances
// to RESOLVED, and exactly one system message records the outcome, even
// when the reply failed to parse or an accepted change hit a conflict.
func (r *Runner) RunTurn(ctx context.Context, sess *session.Session, userInput string, flags prompt.Flags, decider Decider) (*Outcome, error) {
	if err := sess.Begin(); err != nil {
		return nil, err
	}

	task := sess.Task()
	c := r.contracts.Get(task)

	var snap *artifact.Snapshot
	if flags.Force {
		// Force resends everything the task reads, not just what changed.
		snap = r.store.SnapshotFull(sess.ID(), c.InputKinds)
	} else {
		snap = r.store.SnapshotForSend(sess.ID(), c.InputKinds)
	}

	rulesContent, rulesChecksum := r.pendingRules(sess.ID())

	req := prompt.Build(c, r.contracts, prompt.Context{
		Summary: sess.Summary(),
		History: sess.ContextForPrompt(),
		Rules:   rulesContent,
	}, snap, userInput, flags)

	// Tag the backend call so audit records can be tied back to the turn.
	sendCtx := llm.WithTurnContext(ctx, llm.TurnContext{
		SessionID: sess.ID(),
		TurnID:    uuid.New().String(),
	})

	raw, err := r.backend.Send(sendCtx, req)
	if err != nil {
		// Nothing was consumed: restore dirty tracking so the next send
		// carries the same content again.
		snap.Rollback()

		if ctx.Err() != nil {
			// Cancellation is not a failure; the turn never happened.
			sess.Abort()
			r.logger.Info("turn cancelled", "session", sess.ID(), "task", task)
			return nil, ctx.Err()
		}

		if ferr := sess.Fail(); ferr != nil {
			r.logger.Warn("session fail transition rejected", "session", sess.ID(), "error", ferr)
		}
		r.metrics.TurnCompleted(string(task), "transport_error")
		r.logger.Warn("backend send failed", "session", sess.ID(), "task", task, "error", err)
		return nil, &TransportError{err: err}
	}

	if rulesChecksum != "" {
		r.markRulesSent(sess.ID(), rulesChecksum)
	}

	parsed := proposal.Parse(raw, task, r.contracts)

	sess.AppendUserMessage(userInput)
	sess.AppendAssistantMessage(assistantText(&parsed))

	if err := sess.Resolve(); err != nil {
		return nil, err
	}

	r.applySessionDelta(sess, &parsed)

	outcome := &Outcome{
		Task:        task,
		Proposal:    parsed,
		NewVersions: make(map[artifact.Kind]int64),
	}

	if !parsed.Valid() {
		r.metrics.ParseFailure(string(task))
		r.metrics.TurnCompleted(string(task), "parse_failure")
		sess.AppendSystemMessage(outcome.systemMessage())
		return outcome, nil
	}

	r.decideAndApply(ctx, sess, &req, decider, outcome)

	r.metrics.TurnCompleted(string(task), outcome.label())
	sess.AppendSystemMessage(outcome.systemMessage())
	return outcome, nil
}

// decideAndApply runs the per-kind accept gate and applies accepted changes.
func (r *Runner) decideAndApply(ctx context.Context, sess *session.Session, req *prompt.Request, decider Decider, outcome *Outcome) {
	parsed := &outcome.Proposal
	if !parsed.HasContents() {
		return
	}

	var changes []artifact.Change
	for _, kind := range parsed.ProposedKinds() {
		current := r.store.Get(kind)
		proposed := parsed.Contents[kind]

		accept, err := decider.Decide(kind, current.Content, proposed)
		if err != nil {
			r.logger.Warn("decider failed, rejecting kind", "kind", kind, "error", err)
			accept = false
		}
		if !accept {
			outcome.Rejected = append(outcome.Rejected, kind)
			continue
		}

		outcome.Accepted = append(outcome.Accepted, kind)
		changes = append(changes, artifact.Change{
			Kind:        kind,
			Content:     proposed,
			BaseVersion: req.BaseVersions[kind],
		})
	}

	if len(changes) == 0 {
		return
	}

	versions, err := r.store.Apply(sess.ID(), changes)
	if err != nil {
		// Conflicts surface to the caller; nothing was applied.
		var conflict *artifact.ConflictError
		if errors.As(err, &conflict) {
			r.metrics.ApplyConflict(string(conflict.Kind))
		}
		outcome.ApplyErr = err
		outcome.Accepted = nil
		outcome.Rejected = parsed.ProposedKinds()
		return
	}
	outcome.NewVersions = versions

	r.recomputeTraceability(ctx, outcome)
}

// recomputeTraceability rewrites the derived map when an accepted change
// touched the procedure JSON or the test code.
func (r *Runner) recomputeTraceability(ctx context.Context, outcome *Outcome) {
	if r.tracer == nil {
		return
	}

	touched := false
	for _, kind := range outcome.Accepted {
		if kind == artifact.KindProcedureJSON || kind == artifact.KindTestCode {
			touched = true
			break
		}
	}
	if !touched {
		return
	}

	content, err := r.tracer.Recompute(ctx,
		r.store.Get(artifact.KindProcedureJSON).Content,
		r.store.Get(artifact.KindTestCode).Content)
	if err != nil {
		r.logger.Warn("traceability recompute failed", "error", err)
		return
	}

	if _, err := r.store.ApplyDerived(artifact.KindTraceability, content); err != nil {
		r.logger.Warn("traceability write failed", "error", err)
		return
	}
	outcome.TraceabilityUpdated = true
}

// applySessionDelta folds the reply's session delta into the session.
func (r *Runner) applySessionDelta(sess *session.Session, parsed *proposal.Proposal) {
	if parsed.Delta.Intent != "" {
		sess.SetIntent(parsed.Delta.Intent)
	}
	sess.AddAssumptions(parsed.Assumptions)

	for _, d := range parsed.Delta.DecisionsAdded {
		sess.AddDecision(session.Decision{ID: d.ID, Decision: d.Decision, Why: d.Why})
	}

	if len(parsed.Questions) > 0 {
		questions := make([]session.Question, 0, len(parsed.Questions))
		for _, q := range parsed.Questions {
			questions = append(questions, session.Question{
				ID:        q.ID,
				Text:      q.Question,
				WhyNeeded: q.WhyNeeded,
			})
		}
		sess.RecordOpenQuestions(questions)
	}

	for _, res := range parsed.Delta.ResolvedQuestions {
		sess.ResolveQuestion(res.ID, res.Answer)
	}
}

// pendingRules returns rules content to embed, empty when the session has
// already seen the current rules. The checksum is returned so the caller
// can mark it sent only after a successful dispatch.
func (r *Runner) pendingRules(sessionID string) (string, string) {
	if r.rules == nil {
		return "", ""
	}
	content, checksum := r.rules()
	if content == "" {
		return "", ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sentRules[sessionID] == checksum {
		return "", ""
	}
	return content, checksum
}

func (r *Runner) markRulesSent(sessionID, checksum string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentRules[sessionID] = checksum
}

// assistantText chooses what to record as the assistant message.
func assistantText(p *proposal.Proposal) string {
	if p.Narrative != "" {
		return p.Narrative
	}
	return p.Raw
}

// label classifies the outcome for metrics.
func (o *Outcome) label() string {
	switch {
	case o.ApplyErr != nil:
		return "conflict"
	case len(o.Accepted) > 0:
		return "applied"
	default:
		return "resolved"
	}
}

// systemMessage renders the single end-of-turn record.
func (o *Outcome) systemMessage() string {
	var b strings.Builder

	switch {
	case o.Proposal.Err != nil:
		fmt.Fprintf(&b, "Reply could not be validated: %s.", o.Proposal.Err.Diagnosis)
	case o.ApplyErr != nil:
		fmt.Fprintf(&b, "Proposal not applied: %v.", o.ApplyErr)
	case len(o.Accepted) == 0 && len(o.Rejected) == 0:
		b.WriteString("No artifact changes proposed.")
	default:
		if len(o.Accepted) > 0 {
			fmt.Fprintf(&b, "Accepted: %s.", joinKinds(o.Accepted))
		}
		if len(o.Rejected) > 0 {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "Rejected: %s.", joinKinds(o.Rejected))
		}
	}

	if o.TraceabilityUpdated {
		b.WriteString(" Traceability map updated.")
	}
	return b.String()
}

func joinKinds(kinds []artifact.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
