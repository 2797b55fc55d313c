// Package pipeline implements the Decision Pipeline and Event Stream (C6):
// the orchestrator that composes the rule cache, body buffer, identifier
// resolver, counter engine, and queue manager into a single per-request
// decision, and the broadcast stream that publishes each decision to
// observers.
package pipeline

import "time"

// Reason enumerates why a Decision came out the way it did.
type Reason string

const (
	ReasonNoRuleMatched  Reason = "no_rule_matched"
	ReasonWithinQuota    Reason = "within_quota"
	ReasonExceededReject Reason = "exceeded_reject"
	ReasonQueued         Reason = "queued"
	ReasonQueueFull      Reason = "queue_full"
)

// Decision is the result of the pipeline's primary operation.
//
// Invariants (enforced by construction, never by a separate validator):
// Allowed=false implies DelayMs=0; Queued=true implies Allowed=true and
// DelayMs>0.
type Decision struct {
	Allowed    bool
	Queued     bool
	DelayMs    int
	RuleID     string // empty when no rule matched
	Identifier string
	Reason     Reason
}

func allow(ruleID, identifier string, reason Reason) Decision {
	return Decision{Allowed: true, RuleID: ruleID, Identifier: identifier, Reason: reason}
}

func allowQueued(ruleID, identifier string, delayMs int) Decision {
	return Decision{Allowed: true, Queued: true, DelayMs: delayMs, RuleID: ruleID, Identifier: identifier, Reason: ReasonQueued}
}

func reject(ruleID, identifier string, reason Reason) Decision {
	return Decision{Allowed: false, RuleID: ruleID, Identifier: identifier, Reason: reason}
}

// DecisionEvent is the structured record published per request for
// observers, per SPEC_FULL.md §3 and §6.
type DecisionEvent struct {
	TimestampMs int64  `json:"timestampMs"`
	Path        string `json:"path"`
	Method      string `json:"method"`
	Host        string `json:"host"`
	Identifier  string `json:"identifier"`
	RuleID      string `json:"ruleId,omitempty"`
	StatusCode  int    `json:"statusCode"`
	Allowed     bool   `json:"allowed"`
	Queued      bool   `json:"queued"`
}

func newDecisionEvent(path, method, host string, d Decision) DecisionEvent {
	status := 200
	if !d.Allowed {
		status = 429
	}
	return DecisionEvent{
		TimestampMs: time.Now().UnixMilli(),
		Path:        path,
		Method:      method,
		Host:        host,
		Identifier:  d.Identifier,
		RuleID:      d.RuleID,
		StatusCode:  status,
		Allowed:     d.Allowed,
		Queued:      d.Queued,
	}
}
