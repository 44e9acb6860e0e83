package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"hopline/internal/config"
	"hopline/internal/domain"
	"hopline/internal/events"
	"hopline/internal/keylock"
	"hopline/internal/repo"
)

var (
	ErrSelfForward            = errors.New("self forward")
	ErrChainAlreadyCyclic     = errors.New("chain already contains a cycle")
	ErrWouldCreateCycle       = errors.New("forward would create a cycle")
	ErrDuplicateHop           = errors.New("agent already forwarded on this chain")
	ErrChainDepthExceeded     = errors.New("chain depth exceeded")
	ErrAgentNotFound          = errors.New("agent not found")
	ErrAgentNotActive         = errors.New("agent not active")
	ErrAgentRevoked           = errors.New("agent revoked")
	ErrInsufficientStake      = errors.New("insufficient stake")
	ErrStakeLocked            = errors.New("stake locked")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidInput           = errors.New("invalid input")
	ErrReporterInCycle        = errors.New("reporter is part of the cycle")
	ErrNoCycle                = errors.New("chain has no cycle")
)

// ForwardRejectedError carries the unsafe verdict that stopped a forward.
type ForwardRejectedError struct {
	RootTx string
	Result domain.SafetyResult
}

func (e *ForwardRejectedError) Error() string {
	return fmt.Sprintf("forward on %s rejected: %s", e.RootTx, e.Result.Reason)
}

func (e *ForwardRejectedError) Unwrap() error {
	switch e.Result.Reason {
	case domain.ReasonSelfForward:
		return ErrSelfForward
	case domain.ReasonExistingCycle:
		return ErrChainAlreadyCyclic
	case domain.ReasonWouldCreateCycle:
		return ErrWouldCreateCycle
	case domain.ReasonDuplicateHop:
		return ErrDuplicateHop
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time

	chainLocks *keylock.Locker
	agentLocks *keylock.Locker
}

func New(db *sql.DB, cfg *config.Config, log *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Log:        log,
		Now:        time.Now,
		chainLocks: keylock.New(cfg.LockTimeout()),
		agentLocks: keylock.New(cfg.LockTimeout()),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) ts() string {
	return e.now().Format(time.RFC3339)
}

// emit appends an audit event stamped with the engine clock.
func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// lockChain serialises work on one root transaction.
func (e Engine) lockChain(ctx context.Context, rootTx string) (func(), error) {
	release, err := e.chainLocks.Lock(ctx, "chain:"+rootTx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain %s: %v", ErrConcurrentModification, rootTx, err)
	}
	return release, nil
}

// lockAgents takes the stake locks for every agent in sorted order. Callers
// must take them before opening a transaction.
func (e Engine) lockAgents(ctx context.Context, agentIDs ...string) (func(), error) {
	ids := sortedUnique(agentIDs)
	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, id := range ids {
		release, err := e.agentLocks.Lock(ctx, "agent:"+id)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("%w: agent %s: %v", ErrConcurrentModification, id, err)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return mapStoreErr(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return mapStoreErr(err)
	}
	return mapStoreErr(tx.Commit())
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConcurrentModification):
		return err
	case repo.IsBusy(err), errors.Is(err, repo.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return err
}

// agentTx loads an agent inside tx, translating a missing row.
func (e Engine) agentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	a, err := e.Repo.GetAgent(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return a, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, err
}

func (e Engine) touch(ctx context.Context, tx *sql.Tx, ids ...string) error {
	now := e.ts()
	for _, id := range ids {
		if _, err := e.Repo.TouchAgent(ctx, tx, id, now); err != nil {
			return fmt.Errorf("touch agent %s: %w", id, err)
		}
	}
	return nil
}

func (e Engine) maxDepth() int {
	if e.Config == nil || e.Config.Chain.MaxDepth <= 0 {
		return domain.MaxChainDepth
	}
	return e.Config.Chain.MaxDepth
}

// ListEvents returns the audit log newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, nil, f)
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func parseTS(v string) (time.Time, error) {
	return time.Parse(time.RFC3339, v)
}
