package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

const (
	StatusActive       CommitmentStatus = "active"
	StatusEnded        CommitmentStatus = "ended"
	StatusNotRecurring CommitmentStatus = "not_recurring"
)

type (
	Direction string

	// CommitmentStatus is the user-declared lifecycle state of a merchant.
	// Active is the default: an active merchant has no persisted status row.
	CommitmentStatus string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Transaction is a categorized bank transaction as produced by the
	// upstream statement-import pipeline. Merchant is the normalized
	// merchant identity; it is empty when normalization failed.
	Transaction struct {
		ID            string
		Date          Date
		Description   string
		Merchant      string
		Amount        Money
		Direction     Direction
		Category      string
		CategoryColor string
	}

	// StatusEntry is a persisted status record keyed by merchant name.
	StatusEntry struct {
		Merchant  string
		Status    CommitmentStatus
		ChangedAt Date
		Notes     string
	}

	// Override is a user correction of the detected cadence and/or the
	// estimated monthly amount. Either field may be nil independently.
	Override struct {
		Merchant           string
		Frequency          *Frequency
		MonthlyAmountCents *int64
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidDate      = errors.New("invalid date")
	ErrEmptyID          = errors.New("empty transaction id")
)

// ValidationError marks caller-facing input errors. Handlers map these to
// 4xx responses and surface the message verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Invalidf builds a ValidationError from a format string.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func (d Direction) Valid() bool {
	return d == DirectionDebit || d == DirectionCredit
}

func (s CommitmentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusEnded, StatusNotRecurring:
		return true
	}
	return false
}

// ParseStatus parses a user-supplied status string.
func ParseStatus(s string) (CommitmentStatus, error) {
	st := CommitmentStatus(strings.TrimSpace(strings.ToLower(s)))
	if !st.Valid() {
		return "", Invalidf("invalid status %q (want active, ended or not_recurring)", s)
	}
	return st, nil
}

const dateLayout = "2006-01-02"

// NewDate creates a Date at UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO calendar date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(dateLayout)
}

// MonthKey renders the date at YYYY-MM granularity.
func (d Date) MonthKey() string {
	return d.Format("2006-01")
}

// DaysUntil returns the whole number of calendar days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.Time.Sub(d.Time).Hours() / 24)
}

// MarshalJSON renders the date as a quoted YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses a quoted YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Direction.Valid() {
		return ErrInvalidDirection
	}
	return nil
}

func (e StatusEntry) Validate() error {
	if strings.TrimSpace(e.Merchant) == "" {
		return Invalidf("empty merchant name")
	}
	// Active entries are never persisted; only the two explicit states are.
	if e.Status != StatusEnded && e.Status != StatusNotRecurring {
		return Invalidf("invalid persisted status %q", e.Status)
	}
	if err := e.ChangedAt.Validate(); err != nil {
		return Invalidf("invalid status date")
	}
	return nil
}

func (o Override) Validate() error {
	if strings.TrimSpace(o.Merchant) == "" {
		return Invalidf("empty merchant name")
	}
	if o.Frequency == nil && o.MonthlyAmountCents == nil {
		return Invalidf("override must set a frequency or a monthly amount")
	}
	if o.Frequency != nil && !o.Frequency.Valid() {
		return Invalidf("invalid frequency %q", *o.Frequency)
	}
	if o.MonthlyAmountCents != nil && *o.MonthlyAmountCents < 0 {
		return Invalidf("monthly amount override cannot be negative")
	}
	return nil
}
