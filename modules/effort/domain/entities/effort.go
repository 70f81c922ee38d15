package entities

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/effort/modules/effort/domain/term"
)

type EffortType string

const (
	EffortTypeClinical EffortType = "CLI"
	EffortTypeResearch EffortType = "RES"
	EffortTypeVariable EffortType = "VAR"
)

type Role string

const (
	RoleDirector   Role = "Director"
	RoleInstructor Role = "Instructor"
)

// Person is an instructor (or guest account) as stored for one term. PersonID is
// the directory's internal identifier; PersonKey is the cross-system natural key.
type Person struct {
	PersonID         int
	PersonKey        string
	TermCode         term.Code
	FirstName        string
	LastName         string
	TitleCode        string
	TitleDescription string
	DeptCode         string
	DeptName         string
}

func (p Person) FullName() string {
	return strings.TrimSpace(p.LastName + ", " + p.FirstName)
}

type Course struct {
	ID         int
	TermCode   term.Code
	CRN        string
	Subject    string
	Number     string
	Section    string
	Units      float64
	Enrollment int
	DeptCode   string
}

func (c Course) NaturalKey() string {
	return CourseKey(c.Subject, c.Number, c.Section, c.Units)
}

func (c Course) Code() string {
	return CourseCode(c.Subject, c.Number)
}

// CourseKey builds the composite natural key used when no CRN is available.
func CourseKey(subject, number, section string, units float64) string {
	return CourseKeyPrefix(subject, number, section) + strconv.FormatFloat(units, 'f', -1, 64)
}

// CourseKeyPrefix is CourseKey without the unit count; effort records fall back
// to it when the exact key is unknown.
func CourseKeyPrefix(subject, number, section string) string {
	return fmt.Sprintf("%s|%s|%s|", norm(subject), norm(number), norm(section))
}

// CourseCode is the display code ("VET 410") used by rotation schedules.
func CourseCode(subject, number string) string {
	return norm(subject) + " " + norm(number)
}

type EffortRecord struct {
	ID         int
	TermCode   term.Code
	PersonID   int
	CourseID   int
	EffortType EffortType
	Role       Role
	Hours      *int
	Weeks      *int
}

func (r EffortRecord) Key() RecordKey {
	return RecordKey{PersonID: r.PersonID, CourseID: r.CourseID, EffortType: r.EffortType, Role: r.Role}
}

// RecordKey is the uniqueness tuple of an effort record inside a term.
type RecordKey struct {
	PersonID   int
	CourseID   int
	EffortType EffortType
	Role       Role
}

type AuditEntry struct {
	TermCode  term.Code
	RunID     uuid.UUID
	Actor     uuid.UUID
	Action    string
	Entity    string
	EntityKey string
	Detail    map[string]any
	At        time.Time
}

func norm(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
