package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hopline/internal/domain"
	"hopline/internal/events"
	"hopline/internal/repo"
)

type AgentInput struct {
	ID           string
	OwnerAddress string
	ActorID      string
}

// RegisterAgent records an agent issued by the identity subsystem.
func (e Engine) RegisterAgent(ctx context.Context, in AgentInput) (domain.Agent, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.OwnerAddress = strings.TrimSpace(in.OwnerAddress)
	if in.ID == "" {
		return domain.Agent{}, invalidf("agent id is required")
	}
	if in.OwnerAddress == "" {
		return domain.Agent{}, invalidf("owner address is required")
	}
	now := e.ts()
	a := domain.Agent{
		ID:             in.ID,
		OwnerAddress:   in.OwnerAddress,
		Status:         domain.AgentActive,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
			if repo.IsUniqueViolation(err) {
				return invalidf("agent %s already exists", a.ID)
			}
			return fmt.Errorf("insert agent: %w", err)
		}
		return e.emit(ctx, tx, events.AgentRegistered, "agent", a.ID, in.ActorID, events.EventPayload{"owner_address": a.OwnerAddress})
	})
	if err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	a, err := e.Repo.GetAgent(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return a, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, err
}

func (e Engine) ListAgents(ctx context.Context, f repo.AgentFilters) ([]domain.Agent, error) {
	return e.Repo.ListAgents(ctx, nil, f)
}

// SetAgentStatus changes an agent's status. Revoked agents never change again.
func (e Engine) SetAgentStatus(ctx context.Context, id, status, actorID string) (domain.Agent, error) {
	switch status {
	case domain.AgentActive, domain.AgentSuspended, domain.AgentRevoked:
	default:
		return domain.Agent{}, invalidf("unknown agent status %q", status)
	}
	var a domain.Agent
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		a, err = e.agentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status == status {
			return nil
		}
		if a.Status == domain.AgentRevoked {
			return fmt.Errorf("%w: %s", ErrAgentRevoked, id)
		}
		old := a.Status
		a.Status = status
		a.UpdatedAt = e.ts()
		if err := e.Repo.UpdateAgentStatus(ctx, tx, id, status, a.UpdatedAt); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.AgentStatus, "agent", id, actorID, events.EventPayload{"from": old, "to": status})
	})
	return a, err
}

// EnsureActive is the gate outer layers apply before forwarding: every
// listed agent must exist and be active.
func (e Engine) EnsureActive(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		a, err := e.GetAgent(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != domain.AgentActive {
			return fmt.Errorf("%w: %s is %s", ErrAgentNotActive, id, a.Status)
		}
	}
	return nil
}
