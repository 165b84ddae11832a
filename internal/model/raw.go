package model

import (
	"fmt"
	"strings"
)

// RawRecord is the typed boundary shape every source produces. All values are
// the trimmed textual form of the input; empty means absent.
type RawRecord struct {
	EventID         string `json:"event_id,omitempty"`
	GameKey         string `json:"game_key,omitempty"`
	LocationKey     string `json:"location_key,omitempty"`
	UserID          string `json:"user_id,omitempty"`
	TransactionType string `json:"transaction_type,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
	TransactionDate string `json:"transaction_date,omitempty"`
	Platform        string `json:"platform,omitempty"`
	SessionDuration string `json:"session_duration,omitempty"`
	ItemsPurchased  string `json:"items_purchased,omitempty"`
	Source          string `json:"source,omitempty"`

	// Line is the 1-based input line (or message offset) for diagnostics.
	Line int64 `json:"line,omitempty"`
}

var (
	gameAliases     = []string{"game_key", "game_name", "game", "game_id"}
	locationAliases = []string{"location_key", "country_code", "country", "location_id"}
)

// RawFromFields maps named input fields onto a RawRecord. Names are expected
// in lower_snake form; the first non-empty alias wins.
func RawFromFields(fields map[string]string) RawRecord {
	get := func(names ...string) string {
		for _, n := range names {
			if v := strings.TrimSpace(fields[n]); v != "" {
				return v
			}
		}
		return ""
	}
	return RawRecord{
		EventID:         get("event_id"),
		GameKey:         get(gameAliases...),
		LocationKey:     get(locationAliases...),
		UserID:          get("user_id"),
		TransactionType: get("transaction_type"),
		Amount:          get("amount"),
		Currency:        get("currency"),
		TransactionDate: get("transaction_date"),
		Platform:        get("platform"),
		SessionDuration: get("session_duration"),
		ItemsPurchased:  get("items_purchased"),
		Source:          get("source"),
	}
}

// Stringify renders a decoded JSON value as RawRecord text. Numbers are
// expected as json.Number (or any fmt.Stringer) so they keep their precision.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
