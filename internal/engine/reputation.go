package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hopline/internal/domain"
	"hopline/internal/events"
	"hopline/internal/repo"
	"hopline/internal/trust"
)

type PaymentInput struct {
	AgentID       string
	TxHash        string
	ClientAddress string
	Amount        decimal.Decimal
	Status        string
	ActorID       string
}

// RecordPayment ingests a payment outcome from the identity/payments feed.
func (e Engine) RecordPayment(ctx context.Context, in PaymentInput) (domain.PaymentRecord, error) {
	if strings.TrimSpace(in.TxHash) == "" {
		return domain.PaymentRecord{}, invalidf("tx_hash is required")
	}
	if strings.TrimSpace(in.ClientAddress) == "" {
		return domain.PaymentRecord{}, invalidf("client_address is required")
	}
	if in.Amount.IsNegative() {
		return domain.PaymentRecord{}, invalidf("amount must not be negative")
	}
	if in.Status == "" {
		in.Status = domain.PaymentCompleted
	}
	if in.Status != domain.PaymentCompleted && in.Status != domain.PaymentFailed {
		return domain.PaymentRecord{}, invalidf("unknown payment status %q", in.Status)
	}
	p := domain.PaymentRecord{
		ID:            uuid.NewString(),
		AgentID:       in.AgentID,
		TxHash:        strings.TrimSpace(in.TxHash),
		ClientAddress: strings.TrimSpace(in.ClientAddress),
		Amount:        in.Amount,
		Status:        in.Status,
		CreatedAt:     e.ts(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.agentTx(ctx, tx, in.AgentID); err != nil {
			return err
		}
		if err := e.Repo.InsertPayment(ctx, tx, p); err != nil {
			if repo.IsUniqueViolation(err) {
				return invalidf("payment %s already recorded", p.TxHash)
			}
			return fmt.Errorf("insert payment: %w", err)
		}
		if err := e.touch(ctx, tx, in.AgentID); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.PaymentRecorded, "agent", in.AgentID, in.ActorID, events.EventPayload{
			"tx_hash": p.TxHash,
			"amount":  p.Amount.String(),
			"status":  p.Status,
		})
	})
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	return p, nil
}

type FeedbackInput struct {
	AgentID       string
	ClientAddress string
	Score         int
	Tag1          string
	Tag2          string
	ActorID       string
}

func (e Engine) SubmitFeedback(ctx context.Context, in FeedbackInput) (domain.FeedbackRecord, error) {
	if in.Score < 0 || in.Score > 100 {
		return domain.FeedbackRecord{}, invalidf("score must be within 0..100")
	}
	in.ClientAddress = strings.TrimSpace(in.ClientAddress)
	if in.ClientAddress == "" {
		return domain.FeedbackRecord{}, invalidf("client_address is required")
	}
	if in.ClientAddress == domain.PenaltyClientAddress {
		return domain.FeedbackRecord{}, invalidf("client_address %s is reserved", in.ClientAddress)
	}
	f := domain.FeedbackRecord{
		ID:            uuid.NewString(),
		AgentID:       in.AgentID,
		ClientAddress: in.ClientAddress,
		Score:         in.Score,
		Tag1:          in.Tag1,
		Tag2:          in.Tag2,
		CreatedAt:     e.ts(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.agentTx(ctx, tx, in.AgentID); err != nil {
			return err
		}
		if err := e.Repo.InsertFeedback(ctx, tx, f); err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}
		if err := e.touch(ctx, tx, in.AgentID); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.FeedbackRecorded, "agent", in.AgentID, in.ActorID, events.EventPayload{
			"client_address": f.ClientAddress,
			"score":          f.Score,
		})
	})
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	return f, nil
}

// SybilScore scores the agent's completed payment history.
func (e Engine) SybilScore(ctx context.Context, agentID string) (trust.SybilReport, error) {
	if _, err := e.GetAgent(ctx, agentID); err != nil {
		return trust.SybilReport{}, err
	}
	return e.sybilTx(ctx, nil, agentID)
}

func (e Engine) sybilTx(ctx context.Context, tx *sql.Tx, agentID string) (trust.SybilReport, error) {
	payments, err := e.Repo.CompletedPayments(ctx, tx, agentID)
	if err != nil {
		return trust.SybilReport{}, err
	}
	records := make([]trust.Record, 0, len(payments))
	for _, p := range payments {
		at, err := parseTS(p.CreatedAt)
		if err != nil {
			return trust.SybilReport{}, fmt.Errorf("payment %s created_at: %w", p.ID, err)
		}
		records = append(records, trust.Record{ClientAddress: p.ClientAddress, At: at, Amount: p.Amount})
	}
	return trust.SybilScore(records), nil
}
