package domain

import "github.com/shopspring/decimal"

const (
	AgentActive    = "active"
	AgentSuspended = "suspended"
	AgentRevoked   = "revoked"
)

// MaxChainDepth bounds hop numbers and cycle traversal.
const MaxChainDepth = 10

type Agent struct {
	ID             string `json:"id"`
	OwnerAddress   string `json:"owner_address"`
	Status         string `json:"status" enum:"active,suspended,revoked"`
	LastActivityAt string `json:"last_activity_at" format:"date-time"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

type ForwardHop struct {
	ID            string          `json:"id"`
	RootTx        string          `json:"root_tx"`
	FromAgent     string          `json:"from_agent"`
	ToAgent       string          `json:"to_agent"`
	HopNumber     int             `json:"hop_number"`
	Amount        decimal.Decimal `json:"amount"`
	DetectedCycle bool            `json:"detected_cycle"`
	CycleDepth    *int            `json:"cycle_depth,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// Safety verdict reasons.
const (
	ReasonSafe             = "safe"
	ReasonSelfForward      = "self_forward"
	ReasonExistingCycle    = "existing_cycle"
	ReasonWouldCreateCycle = "would_create_cycle"
	ReasonDuplicateHop     = "duplicate_hop"
)

type SafetyResult struct {
	Safe             bool     `json:"safe"`
	Reason           string   `json:"reason"`
	ImplicatedAgents []string `json:"implicated_agents,omitempty"`
}

const (
	TierNone     = "none"
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// TierThresholds are the minimum staked amounts for each tier.
type TierThresholds struct {
	Bronze   decimal.Decimal `json:"bronze"`
	Silver   decimal.Decimal `json:"silver"`
	Gold     decimal.Decimal `json:"gold"`
	Platinum decimal.Decimal `json:"platinum"`
}

func DefaultTierThresholds() TierThresholds {
	return TierThresholds{
		Bronze:   decimal.NewFromInt(100),
		Silver:   decimal.NewFromInt(1000),
		Gold:     decimal.NewFromInt(5000),
		Platinum: decimal.NewFromInt(10000),
	}
}

// Tier maps a staked amount to its tier.
func (t TierThresholds) Tier(staked decimal.Decimal) string {
	switch {
	case staked.GreaterThanOrEqual(t.Platinum):
		return TierPlatinum
	case staked.GreaterThanOrEqual(t.Gold):
		return TierGold
	case staked.GreaterThanOrEqual(t.Silver):
		return TierSilver
	case staked.GreaterThanOrEqual(t.Bronze):
		return TierBronze
	}
	return TierNone
}

type StakePosition struct {
	AgentID       string          `json:"agent_id"`
	StakedAmount  decimal.Decimal `json:"staked_amount"`
	SlashedAmount decimal.Decimal `json:"slashed_amount"`
	StakeTier     string          `json:"stake_tier"`
	LockedUntil   string          `json:"locked_until"`
	Version       int64           `json:"version"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

// Available is the withdrawable part of the position.
func (s StakePosition) Available() decimal.Decimal {
	return s.StakedAmount.Sub(s.SlashedAmount)
}

const (
	RewardHonestForward       = "honest_forward"
	RewardCycleReport         = "cycle_report"
	RewardLongTermReliability = "long_term_reliability"
	RewardNetworkContribution = "network_contribution"
)

// ValidRewardType reports whether t is a known reward type.
func ValidRewardType(t string) bool {
	switch t {
	case RewardHonestForward, RewardCycleReport, RewardLongTermReliability, RewardNetworkContribution:
		return true
	}
	return false
}

type CooperationCredit struct {
	ID             string           `json:"id"`
	AgentID        string           `json:"agent_id"`
	RewardType     string           `json:"reward_type"`
	Points         int              `json:"points"`
	MonetaryReward *decimal.Decimal `json:"monetary_reward,omitempty"`
	Reference      string           `json:"reference,omitempty"`
	CreatedAt      string           `json:"created_at"`
}

type CooperationSummary struct {
	AgentID           string          `json:"agent_id"`
	TotalPoints       int             `json:"total_points"`
	TotalMonetary     decimal.Decimal `json:"total_monetary"`
	CreditCount       int             `json:"credit_count"`
	UniqueRewardTypes int             `json:"unique_reward_types"`
}

const (
	TrustExcellent = "excellent"
	TrustGood      = "good"
	TrustFair      = "fair"
	TrustPoor      = "poor"
	TrustNew       = "new"
	TrustSybilRisk = "sybil_risk"
	TrustUntrusted = "untrusted"
)

type ReputationSnapshot struct {
	ID              string `json:"id"`
	AgentID         string `json:"agent_id"`
	ReputationScore int    `json:"reputation_score"`
	TrustLevel      string `json:"trust_level"`
	DecayApplied    bool   `json:"decay_applied"`
	WindowStart     string `json:"window_start,omitempty"`
	SnapshotAt      string `json:"snapshot_at"`
}

const (
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

type PaymentRecord struct {
	ID            string          `json:"id"`
	AgentID       string          `json:"agent_id"`
	TxHash        string          `json:"tx_hash"`
	ClientAddress string          `json:"client_address"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
}

type FeedbackRecord struct {
	ID            string `json:"id"`
	AgentID       string `json:"agent_id"`
	ClientAddress string `json:"client_address"`
	Score         int    `json:"score"`
	Tag1          string `json:"tag1,omitempty"`
	Tag2          string `json:"tag2,omitempty"`
	Revoked       bool   `json:"revoked"`
	CreatedAt     string `json:"created_at"`
}

// TagPaymentCycle marks penalty feedback written by cycle reconciliation.
const TagPaymentCycle = "payment_cycle"

// PenaltyClientAddress is the client address recorded on system penalty feedback.
const PenaltyClientAddress = "0x0000000000000000000000000000000000000000"

type Violation struct {
	ID            string          `json:"id"`
	RootTx        string          `json:"root_tx"`
	AgentID       string          `json:"agent_id"`
	Severity      int             `json:"severity"`
	SlashedAmount decimal.Decimal `json:"slashed_amount"`
	ReportedBy    string          `json:"reported_by"`
	CreatedAt     string          `json:"created_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Name      string   `json:"name,omitempty"`
	KeyHash   string   `json:"key_hash"`
	Scopes    []string `json:"scopes,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
