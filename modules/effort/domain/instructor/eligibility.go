// Package instructor holds the employment checks shared by the term harvest and
// the live clinical import.
package instructor

import (
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

var (
	ErrNoEmployment        = errors.New("no employment record for term")
	ErrAmbiguousEmployment = errors.New("more than one employment record for term")
	ErrUnknownTitle        = errors.New("title code not recognized")
)

// Employment is one appointment of a person in the employment registry.
type Employment struct {
	PersonKey string
	TitleCode string
	DeptCode  string
	Primary   bool
}

// ExactlyOne accepts a person only when the registry holds a single appointment
// for them; anything else is ambiguous and must not be guessed.
func ExactlyOne(records []Employment) (Employment, error) {
	switch len(records) {
	case 0:
		return Employment{}, ErrNoEmployment
	case 1:
		return records[0], nil
	default:
		return Employment{}, ErrAmbiguousEmployment
	}
}

// PreferPrimary accepts any appointment, taking the primary one first and then
// the lowest title code.
func PreferPrimary(records []Employment) (Employment, error) {
	if len(records) == 0 {
		return Employment{}, ErrNoEmployment
	}
	return byPreference(records)[0], nil
}

// ValidateClinical picks the appointment a clinical instructor is attributed to:
// primary appointments first, then ascending title code, skipping titles that
// are not in the title registry.
func ValidateClinical(records []Employment, titles map[string]string) (Employment, error) {
	if len(records) == 0 {
		return Employment{}, ErrNoEmployment
	}
	for _, e := range byPreference(records) {
		if _, ok := titles[strings.TrimSpace(e.TitleCode)]; ok {
			return e, nil
		}
	}
	return Employment{}, ErrUnknownTitle
}

func byPreference(records []Employment) []Employment {
	sorted := make([]Employment, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Primary != sorted[j].Primary {
			return sorted[i].Primary
		}
		return sorted[i].TitleCode < sorted[j].TitleCode
	})
	return sorted
}
