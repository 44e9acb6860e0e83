package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hopline/internal/domain"
	"hopline/internal/engine/auth"
	"hopline/internal/events"
	"hopline/internal/metrics"
	"hopline/internal/repo"
)

type DecayReport struct {
	AgentsScanned    int `json:"agents_scanned"`
	ClocksRefreshed  int `json:"clocks_refreshed"`
	SnapshotsWritten int `json:"snapshots_written"`
}

// RunDecayPass refreshes every active agent's activity clock and writes a
// decay snapshot for agents idle longer than the inactivity period. A
// snapshot is written at most once per inactivity window, so repeated
// passes are idempotent.
func (e Engine) RunDecayPass(ctx context.Context) (DecayReport, error) {
	start := time.Now()
	var rep DecayReport
	agents, err := e.Repo.ListAgents(ctx, nil, repo.AgentFilters{Status: domain.AgentActive})
	if err != nil {
		return rep, err
	}
	for _, a := range agents {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.AgentsScanned++
		refreshed, written, err := e.decayAgent(ctx, a.ID)
		if err != nil {
			return rep, fmt.Errorf("decay %s: %w", a.ID, err)
		}
		if refreshed {
			rep.ClocksRefreshed++
		}
		if written {
			rep.SnapshotsWritten++
		}
	}
	metrics.RecordDecayPass(time.Since(start).Seconds(), rep.SnapshotsWritten)
	e.Log.Info("decay pass finished", "agents", rep.AgentsScanned, "refreshed", rep.ClocksRefreshed, "snapshots", rep.SnapshotsWritten)
	return rep, nil
}

func (e Engine) inactivityPeriod() time.Duration {
	days := 30
	if e.Config != nil && e.Config.Decay.InactivityDays > 0 {
		days = e.Config.Decay.InactivityDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (e Engine) decayAgent(ctx context.Context, agentID string) (refreshed, written bool, err error) {
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		a, err := e.agentTx(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if a.Status != domain.AgentActive {
			return nil
		}
		last := a.LastActivityAt
		newest, err := e.Repo.LastActivity(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if newest > last {
			if refreshed, err = e.Repo.TouchAgent(ctx, tx, agentID, newest); err != nil {
				return err
			}
			last = newest
		}
		lastAt, err := parseTS(last)
		if err != nil {
			return fmt.Errorf("last_activity_at: %w", err)
		}
		period := e.inactivityPeriod()
		idle := e.now().Sub(lastAt)
		if idle <= period {
			return nil
		}
		windows := int64(idle / period)
		windowStart := lastAt.Add(time.Duration(windows) * period).UTC().Format(time.RFC3339)

		report, err := e.trustTx(ctx, tx, agentID)
		if err != nil {
			return err
		}
		written, err = e.Repo.InsertSnapshot(ctx, tx, domain.ReputationSnapshot{
			ID:              uuid.NewString(),
			AgentID:         agentID,
			ReputationScore: report.Breakdown.ReputationScore,
			TrustLevel:      report.TrustLevel,
			DecayApplied:    true,
			WindowStart:     windowStart,
			SnapshotAt:      e.ts(),
		})
		if err != nil || !written {
			return err
		}
		return e.emit(ctx, tx, events.DecayApplied, "agent", agentID, "system", events.EventPayload{
			"window_start":     windowStart,
			"last_activity_at": last,
			"reputation_score": report.Breakdown.ReputationScore,
			"trust_level":      report.TrustLevel,
		})
	})
	return refreshed, written, err
}

func (e Engine) ListSnapshots(ctx context.Context, agentID string, limit int) ([]domain.ReputationSnapshot, error) {
	if _, err := e.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return e.Repo.ListSnapshots(ctx, nil, agentID, limit)
}

// CreateAPIKey issues a new key for actorID and returns the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string, scopes []string) (domain.APIKey, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", invalidf("actor_id is required")
	}
	if len(scopes) == 0 {
		scopes = []string{auth.PermAdmin}
	}
	for _, s := range scopes {
		if !auth.Known(s) {
			return domain.APIKey{}, "", invalidf("unknown scope %q", s)
		}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "hl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		Scopes:    scopes,
		CreatedAt: e.ts(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{"name": key.Name, "scopes": scopes})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// RevokeAPIKey deletes a key so it no longer authenticates.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.APIKeyRevoked, "api_key", id, actorID, nil)
	})
}
