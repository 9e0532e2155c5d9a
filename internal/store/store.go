// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"stock-alert/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Symbols
	AddSymbol(ctx context.Context, ticker string, group models.Group) (*models.Symbol, error)
	GetSymbol(ctx context.Context, id int64) (*models.Symbol, error)
	GetSymbolByTicker(ctx context.Context, ticker string) (*models.Symbol, error)
	ListSymbols(ctx context.Context, filter SymbolFilter) ([]models.Symbol, error)
	ListWatchedSymbols(ctx context.Context) ([]models.Symbol, error)
	MoveSymbol(ctx context.Context, id int64, group models.Group) error
	SetNote(ctx context.Context, id int64, note string) error
	SetRating(ctx context.Context, id int64, rating int) error
	DeleteSymbol(ctx context.Context, id int64) error

	// Alert rules
	GetAlertRules(ctx context.Context, symbolID int64) ([]models.AlertRule, error)
	AddAlertRule(ctx context.Context, rule models.AlertRule) error
	ReplaceAlertRules(ctx context.Context, symbolID int64, rules []models.AlertRule) error

	// Quotes
	SaveQuote(ctx context.Context, symbolID int64, q models.Quote) error
	LoadQuotes(ctx context.Context) (map[int64]models.Quote, error)
	DeleteQuote(ctx context.Context, symbolID int64) error
	LastUpdateEpoch(ctx context.Context) (int64, error)

	// Notification records
	GetNotificationRecord(ctx context.Context, symbolID int64, sig models.RuleSignature) (*models.NotificationRecord, error)
	UpsertNotificationRecord(ctx context.Context, rec models.NotificationRecord) error

	// Run status
	LoadRunStatus(ctx context.Context) (models.RunStatus, error)
	SaveRunStatus(ctx context.Context, rs models.RunStatus) error

	Ping(ctx context.Context) error
	Close() error
}

// SymbolFilter narrows symbol listings.
type SymbolFilter struct {
	Query     string       // ticker substring, case-insensitive
	Group     models.Group // empty means all groups
	MinRating int
}
