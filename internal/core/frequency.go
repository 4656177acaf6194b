package core

import "strings"

// Frequency is the inferred billing cadence of a commitment group. It is a
// closed set: the classifier and the monthly-cost estimator switch over it
// exhaustively.
type Frequency string

const (
	Weekly     Frequency = "weekly"
	Monthly    Frequency = "monthly"
	Quarterly  Frequency = "quarterly"
	SemiAnnual Frequency = "semi_annual"
	Yearly     Frequency = "yearly"
	Irregular  Frequency = "irregular"
)

func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Monthly, Quarterly, SemiAnnual, Yearly, Irregular:
		return true
	}
	return false
}

// ParseFrequency parses a user-supplied frequency string.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.TrimSpace(strings.ToLower(s)))
	if !f.Valid() {
		return "", Invalidf("invalid frequency %q", s)
	}
	return f, nil
}
