package term

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

var ErrInvalidCode = errors.New("invalid term code")

// Code is a six-digit YYYYNN academic term identifier.
type Code int

const (
	winterQuarter  = 1
	springSemester = 2
	springQuarter  = 3
	summerSemester = 4
	summerSession1 = 5
	specialSession = 6
	summerSession2 = 7
	summerQuarter  = 8
	fallSemester   = 9
	fallQuarter    = 10
	minYear        = 1900
	maxYear        = 2999
)

var termNames = map[int]string{
	winterQuarter:  "Winter Quarter",
	springSemester: "Spring Semester",
	springQuarter:  "Spring Quarter",
	summerSemester: "Summer Semester",
	summerSession1: "Summer Session 1",
	specialSession: "Special Session",
	summerSession2: "Summer Session 2",
	summerQuarter:  "Summer Quarter",
	fallSemester:   "Fall Semester",
	fallQuarter:    "Fall Quarter",
}

func Parse(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	c := Code(n)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	return c, nil
}

func (c Code) Year() int   { return int(c) / 100 }
func (c Code) Suffix() int { return int(c) % 100 }

func (c Code) Valid() bool {
	if c.Year() < minYear || c.Year() > maxYear {
		return false
	}
	_, ok := termNames[c.Suffix()]
	return ok
}

// IsSemester reports whether the term runs on the semester calendar used by
// clinical rotations.
func (c Code) IsSemester() bool {
	switch c.Suffix() {
	case springSemester, summerSemester, fallSemester:
		return true
	default:
		return false
	}
}

func (c Code) Description() string {
	name, ok := termNames[c.Suffix()]
	if !ok {
		return c.String()
	}
	return fmt.Sprintf("%s %d", name, c.Year())
}

func (c Code) String() string { return strconv.Itoa(int(c)) }
