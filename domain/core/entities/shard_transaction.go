package entities

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TxDebit        TransactionType = "DEBIT"
	TxCredit       TransactionType = "CREDIT"
	TxMonthlyReset TransactionType = "MONTHLY_RESET"
	TxPurchase     TransactionType = "PURCHASE"
	TxWelcomeBonus TransactionType = "WELCOME_BONUS"
)

// UsageMetadata describes the LLM call a debit paid for.
type UsageMetadata struct {
	Model          string `json:"model,omitempty"`
	InputTokens    int    `json:"inputTokens,omitempty"`
	OutputTokens   int    `json:"outputTokens,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ShardTransaction is an append-only ledger row. ShardAmount is signed:
// negative for debits.
type ShardTransaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Type         TransactionType `json:"type"`
	ShardAmount  float64         `json:"shardAmount"`
	BalanceAfter float64         `json:"balanceAfter"`
	Reason       string          `json:"reason,omitempty"`
	Usage        *UsageMetadata  `json:"usage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (t *ShardTransaction) RecordKind() Kind { return KindShardTransaction }
func (t *ShardTransaction) RecordID() string { return t.ID }
func (t *ShardTransaction) Owner() string    { return t.UserID }

// NewShardTransaction builds a ledger row. IDs are ULIDs so lexical order
// of IDs follows creation time.
func NewShardTransaction(userID string, txType TransactionType, amount, balanceAfter float64, reason string, usage *UsageMetadata, now time.Time) *ShardTransaction {
	return &ShardTransaction{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		UserID:       userID,
		Type:         txType,
		ShardAmount:  amount,
		BalanceAfter: balanceAfter,
		Reason:       reason,
		Usage:        usage,
		CreatedAt:    now.UTC(),
	}
}

// ModelPricing is the stored per-million-token price of a model, in shards.
type ModelPricing struct {
	ModelID          string    `json:"modelId"`
	InputPerMillion  float64   `json:"inputPerMillion"`
	OutputPerMillion float64   `json:"outputPerMillion"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (p *ModelPricing) RecordKind() Kind { return KindModelPricing }
func (p *ModelPricing) RecordID() string { return p.ModelID }

// Cost prices a call's token usage.
func (p *ModelPricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputPerMillion/1e6 + float64(outputTokens)*p.OutputPerMillion/1e6
}
