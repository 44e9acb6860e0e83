package server

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"hopline/internal/cycle"
	"hopline/internal/domain"
	"hopline/internal/engine"
	"hopline/internal/trust"
)

// Request payloads

type CreateAgentRequest struct {
	ID           string `json:"id"`
	OwnerAddress string `json:"owner_address"`
}

type UpdateAgentRequest struct {
	Status string `json:"status" enum:"active,suspended,revoked"`
}

type VerifyForwardRequest struct {
	RootTx string `json:"root_tx"`
	Source string `json:"source_agent"`
	Target string `json:"target_agent"`
}

type RecordForwardRequest struct {
	RootTx    string `json:"root_tx"`
	Source    string `json:"source_agent"`
	Target    string `json:"target_agent"`
	HopNumber int    `json:"hop_number" minimum:"1"`
	Amount    string `json:"amount,omitempty" example:"12.50"`
	Force     bool   `json:"force,omitempty"`
}

type ReportCycleRequest struct {
	Reporter string `json:"reporter_agent"`
}

type StakeRequest struct {
	Amount   string `json:"amount" example:"1000"`
	LockDays int    `json:"lock_days,omitempty" minimum:"0"`
}

type UnstakeRequest struct {
	Amount string `json:"amount" example:"100"`
}

type ViolationRequest struct {
	RootTx   string `json:"root_tx"`
	AgentID  string `json:"agent_id"`
	Severity int    `json:"severity" minimum:"1"`
}

type PaymentRequest struct {
	AgentID       string `json:"agent_id"`
	TxHash        string `json:"tx_hash"`
	ClientAddress string `json:"client_address"`
	Amount        string `json:"amount"`
	Status        string `json:"status,omitempty" enum:"completed,failed"`
}

type FeedbackRequest struct {
	AgentID       string `json:"agent_id"`
	ClientAddress string `json:"client_address"`
	Score         int    `json:"score" minimum:"0" maximum:"100"`
	Tag1          string `json:"tag1,omitempty"`
	Tag2          string `json:"tag2,omitempty"`
}

type CreditRequest struct {
	RewardType     string `json:"reward_type" enum:"honest_forward,cycle_report,long_term_reliability,network_contribution"`
	Points         int    `json:"points" minimum:"0"`
	MonetaryReward string `json:"monetary_reward,omitempty"`
	Reference      string `json:"reference,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type HopResponse struct {
	ID            string `json:"id"`
	RootTx        string `json:"root_tx"`
	FromAgent     string `json:"from_agent"`
	ToAgent       string `json:"to_agent"`
	HopNumber     int    `json:"hop_number"`
	Amount        string `json:"amount"`
	DetectedCycle bool   `json:"detected_cycle"`
	CycleDepth    *int   `json:"cycle_depth,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type CycleResponse struct {
	HasCycle   bool     `json:"has_cycle"`
	CyclePath  []string `json:"cycle_path"`
	CycleDepth int      `json:"cycle_depth"`
}

type ChainResponse struct {
	RootTx string        `json:"root_tx"`
	Hops   []HopResponse `json:"hops"`
	Path   []string      `json:"path"`
	Cycle  CycleResponse `json:"cycle"`
}

type PenaltyResponse struct {
	AgentID        string `json:"agent_id"`
	RootInitiator  bool   `json:"root_initiator"`
	PenaltyPoints  int    `json:"penalty_points"`
	SlashedAmount  string `json:"slashed_amount"`
	AlreadyApplied bool   `json:"already_applied"`
}

type ReconcileResponse struct {
	RootTx    string            `json:"root_tx"`
	Cycle     CycleResponse     `json:"cycle"`
	Penalties []PenaltyResponse `json:"penalties"`
}

type CycleReportResponse struct {
	RootTx          string            `json:"root_tx"`
	Reporter        string            `json:"reporter"`
	PointsAwarded   int               `json:"points_awarded"`
	AlreadyReported bool              `json:"already_reported"`
	Reconcile       ReconcileResponse `json:"reconcile"`
}

type CycleHistoryResponse struct {
	Hops   []HopResponse    `json:"hops"`
	Cycle  *CycleResponse   `json:"cycle,omitempty"`
	Cycles []CycleRootEntry `json:"cycles"`
}

type CycleRootEntry struct {
	RootTx     string `json:"root_tx"`
	CycleDepth int    `json:"cycle_depth"`
	HopCount   int    `json:"hop_count"`
	LastHopAt  string `json:"last_hop_at" format:"date-time"`
}

type StakeResponse struct {
	AgentID       string `json:"agent_id"`
	StakedAmount  string `json:"staked_amount"`
	SlashedAmount string `json:"slashed_amount"`
	Available     string `json:"available"`
	StakeTier     string `json:"stake_tier" enum:"none,bronze,silver,gold,platinum"`
	LockedUntil   string `json:"locked_until,omitempty" format:"date-time"`
	Version       int64  `json:"version"`
}

type ViolationResponse struct {
	ID            string `json:"id"`
	RootTx        string `json:"root_tx"`
	AgentID       string `json:"agent_id"`
	Severity      int    `json:"severity"`
	SlashedAmount string `json:"slashed_amount"`
	ReportedBy    string `json:"reported_by"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type PaymentResponse struct {
	ID            string `json:"id"`
	AgentID       string `json:"agent_id"`
	TxHash        string `json:"tx_hash"`
	ClientAddress string `json:"client_address"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type CreditResponse struct {
	ID             string `json:"id"`
	AgentID        string `json:"agent_id"`
	RewardType     string `json:"reward_type"`
	Points         int    `json:"points"`
	MonetaryReward string `json:"monetary_reward,omitempty"`
	Reference      string `json:"reference,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type RewardsResponse struct {
	AgentID           string           `json:"agent_id"`
	TotalPoints       int              `json:"total_points"`
	TotalMonetary     string           `json:"total_monetary"`
	CreditCount       int              `json:"credit_count"`
	UniqueRewardTypes int              `json:"unique_reward_types"`
	Credits           []CreditResponse `json:"credits"`
}

type TrustResponse struct {
	AgentID    string         `json:"agent_id"`
	TrustLevel string         `json:"trust_level" enum:"excellent,good,fair,poor,new,sybil_risk,untrusted"`
	Breakdown  BreakdownEntry `json:"score_breakdown"`
}

type BreakdownEntry struct {
	SuccessRate         float64           `json:"success_rate"`
	AvgFeedbackScore    float64           `json:"avg_feedback_score"`
	CycleViolationCount int               `json:"cycle_violation_count"`
	SybilScore          float64           `json:"sybil_score"`
	StakeTier           string            `json:"stake_tier"`
	TotalPayments       int               `json:"total_payments"`
	CompletedPayments   int               `json:"completed_payments"`
	TotalFeedback       int               `json:"total_feedback"`
	ReputationScore     int               `json:"reputation_score"`
	Sybil               trust.SybilReport `json:"sybil"`
	StakedAmount        string            `json:"staked_amount"`
	SlashedAmount       string            `json:"slashed_amount"`
	CooperationPoints   int               `json:"cooperation_points"`
	DecayEvents         int               `json:"decay_events"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type APIKeyResponse struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	Scopes    []string `json:"scopes"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	// Key is only returned on creation.
	Key string `json:"key,omitempty"`
}

func hopResponse(h domain.ForwardHop) HopResponse {
	return HopResponse{
		ID:            h.ID,
		RootTx:        h.RootTx,
		FromAgent:     h.FromAgent,
		ToAgent:       h.ToAgent,
		HopNumber:     h.HopNumber,
		Amount:        h.Amount.String(),
		DetectedCycle: h.DetectedCycle,
		CycleDepth:    h.CycleDepth,
		CreatedAt:     h.CreatedAt,
	}
}

func mapHops(items []domain.ForwardHop) []HopResponse {
	out := make([]HopResponse, 0, len(items))
	for _, h := range items {
		out = append(out, hopResponse(h))
	}
	return out
}

func cycleResponse(r cycle.Result) CycleResponse {
	return CycleResponse{HasCycle: r.HasCycle, CyclePath: nonNilSlice(r.CyclePath), CycleDepth: r.CycleDepth}
}

func reconcileResponse(r engine.ReconcileReport) ReconcileResponse {
	resp := ReconcileResponse{RootTx: r.RootTx, Cycle: cycleResponse(r.Cycle), Penalties: []PenaltyResponse{}}
	for _, p := range r.Penalties {
		resp.Penalties = append(resp.Penalties, PenaltyResponse{
			AgentID:        p.AgentID,
			RootInitiator:  p.RootInitiator,
			PenaltyPoints:  p.PenaltyPoints,
			SlashedAmount:  p.SlashedAmount.String(),
			AlreadyApplied: p.AlreadyApplied,
		})
	}
	return resp
}

func stakeResponse(p domain.StakePosition) StakeResponse {
	return StakeResponse{
		AgentID:       p.AgentID,
		StakedAmount:  p.StakedAmount.String(),
		SlashedAmount: p.SlashedAmount.String(),
		Available:     p.Available().String(),
		StakeTier:     p.StakeTier,
		LockedUntil:   p.LockedUntil,
		Version:       p.Version,
	}
}

func violationResponse(v domain.Violation) ViolationResponse {
	return ViolationResponse{
		ID:            v.ID,
		RootTx:        v.RootTx,
		AgentID:       v.AgentID,
		Severity:      v.Severity,
		SlashedAmount: v.SlashedAmount.String(),
		ReportedBy:    v.ReportedBy,
		CreatedAt:     v.CreatedAt,
	}
}

func paymentResponse(p domain.PaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		AgentID:       p.AgentID,
		TxHash:        p.TxHash,
		ClientAddress: p.ClientAddress,
		Amount:        p.Amount.String(),
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
	}
}

func creditResponse(c domain.CooperationCredit) CreditResponse {
	resp := CreditResponse{
		ID:         c.ID,
		AgentID:    c.AgentID,
		RewardType: c.RewardType,
		Points:     c.Points,
		Reference:  c.Reference,
		CreatedAt:  c.CreatedAt,
	}
	if c.MonetaryReward != nil {
		resp.MonetaryReward = c.MonetaryReward.String()
	}
	return resp
}

func trustResponse(r engine.TrustReport) TrustResponse {
	b := r.Breakdown
	return TrustResponse{
		AgentID:    r.AgentID,
		TrustLevel: r.TrustLevel,
		Breakdown: BreakdownEntry{
			SuccessRate:         b.SuccessRate,
			AvgFeedbackScore:    b.AvgFeedbackScore,
			CycleViolationCount: b.CycleViolationCount,
			SybilScore:          b.SybilScore,
			StakeTier:           b.StakeTier,
			TotalPayments:       b.TotalPayments,
			CompletedPayments:   b.CompletedPayments,
			TotalFeedback:       b.TotalFeedback,
			ReputationScore:     b.ReputationScore,
			Sybil:               b.Sybil,
			StakedAmount:        b.StakedAmount.String(),
			SlashedAmount:       b.SlashedAmount.String(),
			CooperationPoints:   b.CooperationPoints,
			DecayEvents:         b.DecayEvents,
		},
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		Scopes:    nonNilSlice(k.Scopes),
		CreatedAt: k.CreatedAt,
	}
}

// parseAmount reads a decimal request field; empty means zero.
func parseAmount(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, newAPIError(400, "bad_request", "invalid "+field, map[string]any{field: v})
	}
	return d, nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
