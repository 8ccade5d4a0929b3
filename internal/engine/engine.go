// Package engine orchestrates the access decision pipeline: active policy
// lookup, context risk evaluation, feature assembly, scored prediction,
// and the threshold decision. Every public operation has a total contract:
// any fault is absorbed at this boundary, logged, and converted to a
// fail-closed deny verdict. The decision API must always answer, at the
// cost of some faults being silently conservative — the audit trail is
// what makes those diagnosable.
package engine

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tessera-sec/gatewise/internal/audit"
	"github.com/tessera-sec/gatewise/internal/contextstore"
	"github.com/tessera-sec/gatewise/internal/policy"
	"github.com/tessera-sec/gatewise/internal/scorer"
)

// DefaultThreshold is the confidence cutoff for allowing access. It sits
// above the scorer's neutral 0.5, so an untrained scorer denies everything.
const DefaultThreshold = 0.7

// Verdict reasons for the fail-closed paths.
const (
	ReasonNoContext  = "no context available"
	ReasonCheckError = "error during check"
)

// auditTimeout bounds the asynchronous audit write so a stalled sink can
// never pile up goroutines indefinitely.
const auditTimeout = 5 * time.Second

// Verdict is the immutable result of one access check.
type Verdict struct {
	Allowed bool `json:"allowed"`

	// Confidence is the scorer's class-1 probability; nil when the check
	// short-circuited before scoring (missing context, internal fault).
	Confidence *float64 `json:"confidence,omitempty"`

	RiskScore float64 `json:"risk_score"`

	// PolicyIDs lists the active policies at decision time. They are
	// advisory metadata: the engine does not evaluate policy rule content
	// against the request. Enforcement against rule content is a known
	// extension point.
	PolicyIDs []string `json:"policy_ids,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// Engine wires the decision pipeline together. Construct with New; all
// collaborators are injected, there is no ambient state.
type Engine struct {
	policies  policy.Store
	contexts  *contextstore.Store
	predictor scorer.Scorer
	sink      audit.Sink // nil = no audit writes
	threshold float64
	logger    *zap.Logger

	// onDecision, when set, receives every verdict after it is returned
	// to the caller. The notify dispatcher hooks in here.
	onDecision func(subjectID, dataType, action string, v Verdict)
}

// New creates an Engine. sink may be nil to disable audit writes.
func New(policies policy.Store, contexts *contextstore.Store, predictor scorer.Scorer, sink audit.Sink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		policies:  policies,
		contexts:  contexts,
		predictor: predictor,
		sink:      sink,
		threshold: DefaultThreshold,
		logger:    logger,
	}
}

// SetThreshold overrides the decision threshold. Values outside (0,1) are
// ignored.
func (e *Engine) SetThreshold(t float64) {
	if t > 0 && t < 1 {
		e.threshold = t
	}
}

// SetDecisionHook configures a callback invoked after every check with the
// final verdict. The hook runs synchronously; it must not block.
func (e *Engine) SetDecisionHook(fn func(subjectID, dataType, action string, v Verdict)) {
	e.onDecision = fn
}

// CheckAccess decides whether subjectID may perform action on dataType.
// If update is non-nil it is applied to the context store first. The
// returned verdict is always well-formed; faults never propagate.
func (e *Engine) CheckAccess(ctx context.Context, subjectID, dataType, action string, update *contextstore.Context) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("access check panicked, failing closed",
				zap.String("subject", subjectID),
				zap.Any("panic", r),
			)
			v = Verdict{Allowed: false, RiskScore: 1.0, Reason: ReasonCheckError}
		}
		e.finish(subjectID, dataType, action, v)
	}()

	if update != nil {
		e.contexts.Update(subjectID, *update)
	}

	policyIDs, err := e.activePolicyIDs(ctx)
	if err != nil {
		e.logger.Error("active policy lookup failed, failing closed",
			zap.String("subject", subjectID),
			zap.Error(err),
		)
		return Verdict{Allowed: false, RiskScore: 1.0, Reason: ReasonCheckError}
	}

	current, ok := e.contexts.Get(subjectID)
	if !ok {
		return Verdict{Allowed: false, RiskScore: 1.0, PolicyIDs: policyIDs, Reason: ReasonNoContext}
	}

	riskScore := e.contexts.EvaluateRisk(subjectID)

	features := AssembleFeatures(riskScore, dataType, action, current.AttributeCount())
	confidence := e.predictor.Predict(ctx, features)

	allowed := confidence > e.threshold

	e.logger.Info("access check",
		zap.String("subject", subjectID),
		zap.String("data_type", dataType),
		zap.String("action", action),
		zap.Bool("allowed", allowed),
		zap.Float64("confidence", confidence),
		zap.Float64("risk_score", riskScore),
	)

	return Verdict{
		Allowed:    allowed,
		Confidence: &confidence,
		RiskScore:  riskScore,
		PolicyIDs:  policyIDs,
	}
}

// finish records the verdict asynchronously and fires the decision hook.
// Audit latency or failure never blocks or fails the decision path.
func (e *Engine) finish(subjectID, dataType, action string, v Verdict) {
	if e.sink != nil {
		snapshot := e.contextSnapshot(subjectID)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
			defer cancel()
			ev := audit.Event{
				SubjectID: subjectID,
				DataType:  dataType,
				Action:    action,
				Success:   v.Allowed,
				Context:   snapshot,
			}
			if err := e.sink.Record(ctx, ev); err != nil {
				e.logger.Error("audit write failed (non-fatal)",
					zap.String("subject", subjectID),
					zap.Error(err),
				)
			}
		}()
	}

	if e.onDecision != nil {
		e.onDecision(subjectID, dataType, action, v)
	}
}

// activePolicyIDs returns the sorted identifiers of the active policies.
// Sorting keeps verdicts deterministic; callers must still treat the list
// as an unordered constraint set.
func (e *Engine) activePolicyIDs(ctx context.Context) ([]string, error) {
	active, err := e.policies.Active(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// contextSnapshot flattens the subject's current context for the audit
// record. Nil when the subject has no context.
func (e *Engine) contextSnapshot(subjectID string) map[string]string {
	c, ok := e.contexts.Get(subjectID)
	if !ok {
		return nil
	}
	snap := map[string]string{}
	if c.Location != "" {
		snap["location"] = c.Location
	}
	if c.Device != "" {
		snap["device"] = c.Device
	}
	if c.VPNEnabled {
		snap["vpn_enabled"] = "true"
	}
	if c.FailedAttempts > 0 {
		snap["failed_attempts"] = strconv.Itoa(c.FailedAttempts)
	}
	for k, val := range c.Extra {
		snap[k] = val
	}
	return snap
}
