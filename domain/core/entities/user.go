package entities

import (
	"time"

	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// User carries the shard balance cache and placement preferences.
// ShardBalance is derived from the ledger and is only ever changed in the
// same unit of work that appends a ShardTransaction.
type User struct {
	ID                    string  `json:"id"`
	Email                 string  `json:"email,omitempty"`
	ShardBalance          float64 `json:"shardBalance"`
	MonthlyShardAllowance float64 `json:"monthlyShardAllowance"`
	// LastAllowanceResetDate is epoch milliseconds at the start of the month
	// the allowance was last granted for.
	LastAllowanceResetDate int64   `json:"lastAllowanceResetDate"`
	PurchasedShards        float64 `json:"purchasedShards"`

	PlacementPreferences map[valueobjects.PlacementCategory]valueobjects.Placement `json:"placementPreferences,omitempty"`

	// Version is the optimistic-concurrency version as read from the store.
	Version int `json:"version"`
	Timestamps
}

func (u *User) RecordKind() Kind { return KindUser }
func (u *User) RecordID() string { return u.ID }
func (u *User) Owner() string    { return u.ID }

// NewUser builds a user with an empty balance. The welcome bonus is applied
// by the ledger so it is recorded as a transaction.
func NewUser(id, email string, monthlyAllowance float64, now time.Time) (*User, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("user id is required")
	}
	return &User{
		ID:                     id,
		Email:                  email,
		MonthlyShardAllowance:  monthlyAllowance,
		LastAllowanceResetDate: StartOfMonth(now).UnixMilli(),
		PlacementPreferences:   map[valueobjects.PlacementCategory]valueobjects.Placement{},
		Version:                1,
		Timestamps:             newTimestamps(now),
	}, nil
}

// PlacementFor returns the user's placement for a category, defaulting to top.
func (u *User) PlacementFor(category valueobjects.PlacementCategory) valueobjects.Placement {
	if p, ok := u.PlacementPreferences[category]; ok && p != "" {
		return p
	}
	return valueobjects.DefaultPlacement
}

// SetPlacement records a preference.
func (u *User) SetPlacement(category valueobjects.PlacementCategory, placement valueobjects.Placement, now time.Time) {
	if u.PlacementPreferences == nil {
		u.PlacementPreferences = map[valueobjects.PlacementCategory]valueobjects.Placement{}
	}
	u.PlacementPreferences[category] = placement
	u.touch(now)
}

// Debit removes cost from the balance. It leaves the user untouched and
// returns InsufficientFunds when the balance cannot cover the cost.
func (u *User) Debit(cost float64, now time.Time) error {
	if u.ShardBalance < cost {
		return pkgerrors.NewInsufficientFundsError(u.ID, u.ShardBalance, cost)
	}
	u.ShardBalance -= cost
	u.touch(now)
	return nil
}

// Purchase credits bought shards.
func (u *User) Purchase(amount float64, now time.Time) {
	u.ShardBalance += amount
	u.PurchasedShards += amount
	u.touch(now)
}

// Grant adds shards that were not bought (bonus, allowance).
func (u *User) Grant(amount float64, now time.Time) {
	u.ShardBalance += amount
	u.touch(now)
}

// NeedsAllowanceReset reports whether the monthly allowance is due at now.
func (u *User) NeedsAllowanceReset(now time.Time) bool {
	if u.MonthlyShardAllowance <= 0 {
		return false
	}
	return u.LastAllowanceResetDate < StartOfMonth(now).UnixMilli()
}

// ApplyAllowance grants the monthly allowance and stamps the reset marker.
func (u *User) ApplyAllowance(now time.Time) float64 {
	amount := u.MonthlyShardAllowance
	u.ShardBalance += amount
	u.LastAllowanceResetDate = StartOfMonth(now).UnixMilli()
	u.touch(now)
	return amount
}

func (u *User) touch(now time.Time) {
	u.UpdatedAt = now.UTC()
}

// StartOfMonth returns midnight UTC on the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
