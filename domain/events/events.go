package events

import (
	"time"
)

// DomainEvent is published after the unit of work that produced it commits.
type DomainEvent interface {
	EventType() string
	AggregateID() string
	OccurredAt() time.Time
}

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	Type      string    `json:"type"`
	Aggregate string    `json:"aggregateId"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) AggregateID() string   { return e.Aggregate }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

const (
	TypeShardsDebited       = "ShardsDebited"
	TypeShardsCredited      = "ShardsCredited"
	TypeAllowanceReset      = "AllowanceReset"
	TypeWelcomeBonusGranted = "WelcomeBonusGranted"
	TypeContainerDeleted    = "ContainerDeleted"
)

// LedgerEvent reports a balance change.
type LedgerEvent struct {
	BaseEvent
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Balance       float64 `json:"balance"`
}

// NewLedgerEvent builds a ledger event of the given type.
func NewLedgerEvent(eventType, userID, transactionID string, amount, balance float64, now time.Time) LedgerEvent {
	return LedgerEvent{
		BaseEvent: BaseEvent{
			Type:      eventType,
			Aggregate: userID,
			UserID:    userID,
			Timestamp: now.UTC(),
		},
		TransactionID: transactionID,
		Amount:        amount,
		Balance:       balance,
	}
}

// ContainerDeleted reports a completed cascade.
type ContainerDeleted struct {
	BaseEvent
	Kind         string `json:"kind"`
	RecordsCount int    `json:"recordsCount"`
}

// NewContainerDeleted builds a cascade completion event.
func NewContainerDeleted(kind, id, userID string, records int, now time.Time) ContainerDeleted {
	return ContainerDeleted{
		BaseEvent: BaseEvent{
			Type:      TypeContainerDeleted,
			Aggregate: id,
			UserID:    userID,
			Timestamp: now.UTC(),
		},
		Kind:         kind,
		RecordsCount: records,
	}
}
