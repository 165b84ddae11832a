package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/gaming-ingest/internal/model"
	"github.com/shopspring/decimal"
)

// Reason classifies a rejected record.
type Reason string

const (
	ReasonMissingField Reason = "missing_field"
	ReasonBadAmount    Reason = "bad_amount"
	ReasonBadEnum      Reason = "bad_enum"
	ReasonBadDate      Reason = "bad_date"
	ReasonDuplicateID  Reason = "duplicate_id"
	ReasonUnparseable  Reason = "unparseable"
)

// Rejection is a per-record, non-fatal validation failure.
type Rejection struct {
	Reason Reason          `json:"reason"`
	Detail string          `json:"detail"`
	Record model.RawRecord `json:"record"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected (%s): %s", r.Reason, r.Detail)
}

const (
	defaultCurrency = "USD"
	defaultPlatform = "web"
)

// Amounts must fit the fact table's numeric(12,2) column.
const amountScale = 2

var (
	maxAmount = decimal.New(1, 12-amountScale)
	minUnit   = decimal.New(1, -amountScale)
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Validator classifies raw records. It remembers accepted event ids, so one
// Validator must serve exactly one pipeline run.
type Validator struct {
	seen  map[string]struct{}
	newID func() string
}

func New() *Validator {
	return &Validator{seen: make(map[string]struct{}), newID: uuid.NewString}
}

// Validate returns the normalised event, or a rejection for the first rule
// the record breaks.
func (v *Validator) Validate(raw model.RawRecord) (model.TransactionEvent, *Rejection) {
	reject := func(reason Reason, format string, args ...any) (model.TransactionEvent, *Rejection) {
		return model.TransactionEvent{}, &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...), Record: raw}
	}

	for _, f := range []struct{ name, val string }{
		{"user_id", raw.UserID},
		{"amount", raw.Amount},
		{"transaction_type", raw.TransactionType},
		{"transaction_date", raw.TransactionDate},
	} {
		if strings.TrimSpace(f.val) == "" {
			return reject(ReasonMissingField, "%s is required", f.name)
		}
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(raw.Amount))
	if err != nil {
		return reject(ReasonBadAmount, "amount %q is not a number", raw.Amount)
	}
	if amount.IsNegative() {
		return reject(ReasonBadAmount, "amount %s is negative", amount)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return reject(ReasonBadAmount, "amount %s exceeds %s", amount, maxAmount.Sub(minUnit))
	}
	if !amount.Equal(amount.Round(amountScale)) {
		return reject(ReasonBadAmount, "amount %s has more than %d decimal places", amount, amountScale)
	}

	tt := model.TransactionType(strings.ToLower(strings.TrimSpace(raw.TransactionType)))
	if !tt.Valid() {
		return reject(ReasonBadEnum, "unknown transaction_type %q", raw.TransactionType)
	}

	ts, ok := parseTime(raw.TransactionDate)
	if !ok {
		return reject(ReasonBadDate, "transaction_date %q is not a timestamp", raw.TransactionDate)
	}

	ev := model.TransactionEvent{
		EventID:         strings.TrimSpace(raw.EventID),
		GameKey:         raw.GameKey,
		LocationKey:     raw.LocationKey,
		UserID:          strings.TrimSpace(raw.UserID),
		Type:            tt,
		Amount:          amount,
		Currency:        currency(raw.Currency),
		TransactionDate: ts,
		Platform:        platform(raw.Platform),
		SessionDuration: nil,
		ItemsPurchased:  1,
		Source:          strings.TrimSpace(raw.Source),
	}
	if n, ok := nonNegativeInt(raw.SessionDuration); ok {
		ev.SessionDuration = &n
	}
	if n, ok := nonNegativeInt(raw.ItemsPurchased); ok && n > 0 {
		ev.ItemsPurchased = n
	}

	if ev.EventID == "" {
		ev.EventID = v.newID()
		return ev, nil
	}
	if _, dup := v.seen[ev.EventID]; dup {
		return reject(ReasonDuplicateID, "event_id %s already seen in this run", ev.EventID)
	}
	v.seen[ev.EventID] = struct{}{}
	return ev, nil
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// nonNegativeInt accepts "3" and "3.0" (pandas writes integer columns with
// gaps as floats).
func nonNegativeInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() || d.IsNegative() {
		return 0, false
	}
	return int(d.IntPart()), true
}

func currency(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return defaultCurrency
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return defaultCurrency
		}
	}
	return s
}

func platform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return defaultPlatform
	}
	return s
}
