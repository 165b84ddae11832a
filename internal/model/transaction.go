package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypePurchase     TransactionType = "purchase"
	TypeInGame       TransactionType = "in-game"
	TypeSubscription TransactionType = "subscription"
)

// TransactionTypes lists the recognised types in report order.
var TransactionTypes = []TransactionType{TypePurchase, TypeInGame, TypeSubscription}

// Valid reports whether t is one of the recognised types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypePurchase, TypeInGame, TypeSubscription:
		return true
	}
	return false
}

// TransactionEvent is a record that passed validation. GameID and LocationID
// are zero until the dimension resolver fills them.
type TransactionEvent struct {
	EventID         string
	GameKey         string
	LocationKey     string
	UserID          string
	Type            TransactionType
	Amount          decimal.Decimal
	Currency        string
	TransactionDate time.Time
	Platform        string
	SessionDuration *int
	ItemsPurchased  int
	Source          string

	GameID     int64
	LocationID int64
}

// FactTransaction is one row of the fact table.
type FactTransaction struct {
	ID              uint64          `gorm:"primaryKey"`
	EventID         string          `gorm:"size:64;not null;index"`
	GameID          int64           `gorm:"not null;index"`
	LocationID      int64           `gorm:"not null;index"`
	UserID          string          `gorm:"size:64;not null"`
	TransactionType string          `gorm:"size:32;not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency        string          `gorm:"size:3;not null;default:'USD'"`
	TransactionDate time.Time       `gorm:"not null;index"`
	Platform        string          `gorm:"size:32"`
	SessionDuration *int
	ItemsPurchased  int       `gorm:"not null;default:1"`
	Source          string    `gorm:"size:32"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (FactTransaction) TableName() string { return "fact_transactions" }

// Fact converts a resolved event into its fact row.
func (e TransactionEvent) Fact() FactTransaction {
	return FactTransaction{
		EventID:         e.EventID,
		GameID:          e.GameID,
		LocationID:      e.LocationID,
		UserID:          e.UserID,
		TransactionType: string(e.Type),
		Amount:          e.Amount,
		Currency:        e.Currency,
		TransactionDate: e.TransactionDate,
		Platform:        e.Platform,
		SessionDuration: e.SessionDuration,
		ItemsPurchased:  e.ItemsPurchased,
		Source:          e.Source,
	}
}

// DailyGameMetric is the daily aggregate keyed by (day, game, location).
// On Postgres the same shape is served by a materialized view.
type DailyGameMetric struct {
	Day                 time.Time       `gorm:"type:date;primaryKey"`
	GameID              int64           `gorm:"primaryKey"`
	LocationID          int64           `gorm:"primaryKey"`
	TotalTransactions   int64           `gorm:"not null"`
	TotalRevenue        decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	UniqueUsers         int64           `gorm:"not null"`
	AvgTransactionValue decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	PurchaseRevenue     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	InGameRevenue       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	SubscriptionRevenue decimal.Decimal `gorm:"type:numeric(14,2);not null"`
}

func (DailyGameMetric) TableName() string { return "daily_game_metrics" }
