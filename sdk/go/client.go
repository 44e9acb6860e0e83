package hoplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Hopline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Agent struct {
	ID             string `json:"id"`
	OwnerAddress   string `json:"owner_address"`
	Status         string `json:"status"`
	LastActivityAt string `json:"last_activity_at"`
	CreatedAt      string `json:"created_at"`
}

// Verdict is the outcome of a forward safety check.
type Verdict struct {
	Safe             bool     `json:"safe"`
	Reason           string   `json:"reason"`
	ImplicatedAgents []string `json:"implicated_agents"`
}

type Hop struct {
	ID            string `json:"id"`
	RootTx        string `json:"root_tx"`
	FromAgent     string `json:"from_agent"`
	ToAgent       string `json:"to_agent"`
	HopNumber     int    `json:"hop_number"`
	Amount        string `json:"amount"`
	DetectedCycle bool   `json:"detected_cycle"`
	CycleDepth    *int   `json:"cycle_depth,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Forward describes one hop to record.
type Forward struct {
	RootTx    string `json:"root_tx"`
	Source    string `json:"source_agent"`
	Target    string `json:"target_agent"`
	HopNumber int    `json:"hop_number"`
	Amount    string `json:"amount,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

type Cycle struct {
	HasCycle   bool     `json:"has_cycle"`
	CyclePath  []string `json:"cycle_path"`
	CycleDepth int      `json:"cycle_depth"`
}

type Chain struct {
	RootTx string   `json:"root_tx"`
	Hops   []Hop    `json:"hops"`
	Path   []string `json:"path"`
	Cycle  Cycle    `json:"cycle"`
}

type Penalty struct {
	AgentID        string `json:"agent_id"`
	RootInitiator  bool   `json:"root_initiator"`
	PenaltyPoints  int    `json:"penalty_points"`
	SlashedAmount  string `json:"slashed_amount"`
	AlreadyApplied bool   `json:"already_applied"`
}

type Reconcile struct {
	RootTx    string    `json:"root_tx"`
	Cycle     Cycle     `json:"cycle"`
	Penalties []Penalty `json:"penalties"`
}

type CycleReport struct {
	RootTx          string    `json:"root_tx"`
	Reporter        string    `json:"reporter"`
	PointsAwarded   int       `json:"points_awarded"`
	AlreadyReported bool      `json:"already_reported"`
	Reconcile       Reconcile `json:"reconcile"`
}

type Stake struct {
	AgentID       string `json:"agent_id"`
	StakedAmount  string `json:"staked_amount"`
	SlashedAmount string `json:"slashed_amount"`
	Available     string `json:"available"`
	StakeTier     string `json:"stake_tier"`
	LockedUntil   string `json:"locked_until"`
	Version       int64  `json:"version"`
}

// Trust is an agent's classification with its score breakdown.
type Trust struct {
	AgentID    string         `json:"agent_id"`
	TrustLevel string         `json:"trust_level"`
	Breakdown  map[string]any `json:"score_breakdown"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the request lost a race and may be resent.
func (e *APIError) Retryable() bool {
	return e.Code == "concurrent_modification"
}

func (c *Client) RegisterAgent(ctx context.Context, id, ownerAddress string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodPost, "agents", map[string]any{"id": id, "owner_address": ownerAddress}, &resp)
	return resp, err
}

func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodGet, "agents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// VerifyForward asks whether source may forward to target on rootTx.
func (c *Client) VerifyForward(ctx context.Context, rootTx, source, target string) (Verdict, error) {
	var resp Verdict
	err := c.do(ctx, http.MethodPost, "forwards/verify", map[string]any{
		"root_tx":      rootTx,
		"source_agent": source,
		"target_agent": target,
	}, &resp)
	return resp, err
}

// RecordForward verifies and stores a hop.
func (c *Client) RecordForward(ctx context.Context, f Forward) (Hop, error) {
	var resp Hop
	err := c.do(ctx, http.MethodPost, "forwards", f, &resp)
	return resp, err
}

func (c *Client) Chain(ctx context.Context, rootTx string) (Chain, error) {
	var resp Chain
	err := c.do(ctx, http.MethodGet, "chains/"+url.PathEscape(rootTx), nil, &resp)
	return resp, err
}

func (c *Client) ReconcileChain(ctx context.Context, rootTx string) (Reconcile, error) {
	var resp Reconcile
	err := c.do(ctx, http.MethodPost, "chains/"+url.PathEscape(rootTx)+"/reconcile", nil, &resp)
	return resp, err
}

func (c *Client) ReportCycle(ctx context.Context, rootTx, reporter string) (CycleReport, error) {
	var resp CycleReport
	err := c.do(ctx, http.MethodPost, "chains/"+url.PathEscape(rootTx)+"/report", map[string]any{"reporter_agent": reporter}, &resp)
	return resp, err
}

// Stake deposits amount; lockDays of 0 uses the server default.
func (c *Client) Stake(ctx context.Context, agentID, amount string, lockDays int) (Stake, error) {
	var resp Stake
	body := map[string]any{"amount": amount}
	if lockDays > 0 {
		body["lock_days"] = lockDays
	}
	err := c.do(ctx, http.MethodPost, "agents/"+url.PathEscape(agentID)+"/stake", body, &resp)
	return resp, err
}

func (c *Client) Unstake(ctx context.Context, agentID, amount string) (Stake, error) {
	var resp Stake
	err := c.do(ctx, http.MethodPost, "agents/"+url.PathEscape(agentID)+"/unstake", map[string]any{"amount": amount}, &resp)
	return resp, err
}

func (c *Client) Trust(ctx context.Context, agentID string) (Trust, error) {
	var resp Trust
	err := c.do(ctx, http.MethodGet, "agents/"+url.PathEscape(agentID)+"/trust", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
