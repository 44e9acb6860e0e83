package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	AgentRegistered   = "agent.registered"
	AgentStatus       = "agent.status"
	ForwardRecorded   = "forward.recorded"
	CycleFlagged      = "chain.cycle_flagged"
	StakeDeposited    = "stake.deposited"
	StakeWithdrawn    = "stake.withdrawn"
	StakeSlashed      = "stake.slashed"
	ViolationRecorded = "violation.recorded"
	CreditRecorded    = "credit.recorded"
	PaymentRecorded   = "payment.recorded"
	FeedbackRecorded  = "feedback.recorded"
	DecayApplied      = "reputation.decay_applied"
	APIKeyCreated     = "apikey.created"
	APIKeyRevoked     = "apikey.revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an audit event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
