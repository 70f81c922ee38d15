package entities

import (
	"context"
	"errors"

	"github.com/iota-uz/effort/modules/effort/domain/term"
)

var (
	ErrDuplicate      = errors.New("already stored for term")
	ErrRecordNotFound = errors.New("effort record not found")
)

// Repository is the write side the harvest targets. Every Create is expected to
// fail on a uniqueness violation rather than silently duplicate.
type Repository interface {
	// LockTerm serializes harvest runs for one term until the surrounding transaction ends.
	LockTerm(ctx context.Context, termCode term.Code) error

	ListPeople(ctx context.Context, termCode term.Code) ([]Person, error)
	ListCourses(ctx context.Context, termCode term.Code) ([]Course, error)
	ListRecords(ctx context.Context, termCode term.Code) ([]EffortRecord, error)

	PersonExists(ctx context.Context, termCode term.Code, personID int) (bool, error)
	// PersonIDByKey returns the id stored under a natural key, if any.
	PersonIDByKey(ctx context.Context, termCode term.Code, personKey string) (int, bool, error)
	CreatePerson(ctx context.Context, p Person) error

	FindCourseByCRN(ctx context.Context, termCode term.Code, crn string) (Course, bool, error)
	FindCoursesByKeyPrefix(ctx context.Context, termCode term.Code, prefix string) ([]Course, error)
	CreateCourse(ctx context.Context, c Course) (int, error)

	FindRecord(ctx context.Context, termCode term.Code, key RecordKey) (EffortRecord, bool, error)
	CreateRecord(ctx context.Context, r EffortRecord) (int, error)
	AddRecordEffort(ctx context.Context, recordID int, hours, weeks int) error

	AppendAudit(ctx context.Context, entry AuditEntry) error
}
