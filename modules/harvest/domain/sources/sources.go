// Package sources describes the read-only source systems a term harvest pulls from.
package sources

import (
	"context"
	"time"

	"github.com/iota-uz/effort/modules/effort/domain/instructor"
	"github.com/iota-uz/effort/modules/effort/domain/term"
)

// CourseOffering is a course section as published by the scheduling system or the catalog.
type CourseOffering struct {
	CRN        string
	Subject    string
	Number     string
	Section    string
	Units      float64
	Enrollment int
	DeptCode   string
}

// Session is one meeting of a course taught by one instructor.
type Session struct {
	Ref         string
	CRN         string
	PersonKey   string
	SessionType string
	Date        time.Time
	StartTime   string
	EndTime     string
}

type CourseDirector struct {
	CRN       string
	PersonKey string
}

type InstructorOfRecord struct {
	CRN       string
	PersonKey string
}

// RotationWeek is one week of one clinical rotation a person is scheduled to.
type RotationWeek struct {
	PersonKey string
	Subject   string
	Number    string
	WeekStart time.Time
}

type DirectoryPerson struct {
	PersonID  int
	PersonKey string
	FirstName string
	LastName  string
}

type SchedulingSource interface {
	ListCourses(ctx context.Context, termCode term.Code) ([]CourseOffering, error)
	ListSessions(ctx context.Context, termCode term.Code, crns []string) ([]Session, error)
	ListCourseDirectors(ctx context.Context, termCode term.Code, crns []string) ([]CourseDirector, error)
}

type CatalogSource interface {
	ListCatalogCourses(ctx context.Context, termCode term.Code) ([]CourseOffering, error)
	ListInstructorsOfRecord(ctx context.Context, termCode term.Code) ([]InstructorOfRecord, error)
}

type RotationSource interface {
	ListRotationWeeks(ctx context.Context, termCode term.Code) ([]RotationWeek, error)
}

type EmploymentRegistry interface {
	ListEmployments(ctx context.Context, termCode term.Code, personKeys []string) ([]instructor.Employment, error)
	ListTitleCodes(ctx context.Context) (map[string]string, error)
	ListDepartments(ctx context.Context) (map[string]string, error)
}

type PersonDirectory interface {
	// ResolvePeople returns the directory entries found for keys; unknown keys are absent from the map.
	ResolvePeople(ctx context.Context, keys []string) (map[string]DirectoryPerson, error)
}

// Set bundles every source a harvest reads from.
type Set struct {
	Scheduling SchedulingSource
	Catalog    CatalogSource
	Rotation   RotationSource
	Registry   EmploymentRegistry
	Directory  PersonDirectory
}
