package testhelpers

import (
	"context"
	"strings"
	"sync"

	"github.com/iota-uz/effort/modules/effort/domain/instructor"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/domain/sources"
)

// Sources serves every source system from in-memory slices. Err injects an
// error into the named method.
type Sources struct {
	mu sync.Mutex

	ScheduledCourses    []sources.CourseOffering
	Sessions            []sources.Session
	Directors           []sources.CourseDirector
	CatalogCourses      []sources.CourseOffering
	InstructorsOfRecord []sources.InstructorOfRecord
	Rotations           []sources.RotationWeek
	Employments         []instructor.Employment
	Titles              map[string]string
	Departments         map[string]string
	People              map[string]sources.DirectoryPerson

	Err map[string]error
}

func NewSources() *Sources {
	return &Sources{
		Titles:      map[string]string{},
		Departments: map[string]string{},
		People:      map[string]sources.DirectoryPerson{},
		Err:         map[string]error{},
	}
}

// Set exposes s as every collaborator of a harvest.
func (s *Sources) Set() sources.Set {
	return sources.Set{Scheduling: s, Catalog: s, Rotation: s, Registry: s, Directory: s}
}

// AddPerson registers a directory entry together with its employment records.
func (s *Sources) AddPerson(id int, key, first, last string, employments ...instructor.Employment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.People[key] = sources.DirectoryPerson{PersonID: id, PersonKey: key, FirstName: first, LastName: last}
	for _, e := range employments {
		e.PersonKey = key
		s.Employments = append(s.Employments, e)
	}
}

func (s *Sources) err(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err[name]
}

func (s *Sources) ListCourses(_ context.Context, _ term.Code) ([]sources.CourseOffering, error) {
	if err := s.err("ListCourses"); err != nil {
		return nil, err
	}
	return append([]sources.CourseOffering(nil), s.ScheduledCourses...), nil
}

func (s *Sources) ListSessions(_ context.Context, _ term.Code, crns []string) ([]sources.Session, error) {
	if err := s.err("ListSessions"); err != nil {
		return nil, err
	}
	want := toSet(crns)
	var out []sources.Session
	for _, ss := range s.Sessions {
		if want[ss.CRN] {
			out = append(out, ss)
		}
	}
	return out, nil
}

func (s *Sources) ListCourseDirectors(_ context.Context, _ term.Code, crns []string) ([]sources.CourseDirector, error) {
	if err := s.err("ListCourseDirectors"); err != nil {
		return nil, err
	}
	want := toSet(crns)
	var out []sources.CourseDirector
	for _, d := range s.Directors {
		if want[d.CRN] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Sources) ListCatalogCourses(_ context.Context, _ term.Code) ([]sources.CourseOffering, error) {
	if err := s.err("ListCatalogCourses"); err != nil {
		return nil, err
	}
	return append([]sources.CourseOffering(nil), s.CatalogCourses...), nil
}

func (s *Sources) ListInstructorsOfRecord(_ context.Context, _ term.Code) ([]sources.InstructorOfRecord, error) {
	if err := s.err("ListInstructorsOfRecord"); err != nil {
		return nil, err
	}
	return append([]sources.InstructorOfRecord(nil), s.InstructorsOfRecord...), nil
}

func (s *Sources) ListRotationWeeks(_ context.Context, _ term.Code) ([]sources.RotationWeek, error) {
	if err := s.err("ListRotationWeeks"); err != nil {
		return nil, err
	}
	return append([]sources.RotationWeek(nil), s.Rotations...), nil
}

func (s *Sources) ListEmployments(_ context.Context, _ term.Code, personKeys []string) ([]instructor.Employment, error) {
	if err := s.err("ListEmployments"); err != nil {
		return nil, err
	}
	want := toSet(personKeys)
	var out []instructor.Employment
	for _, e := range s.Employments {
		if want[strings.ToUpper(e.PersonKey)] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Sources) ListTitleCodes(_ context.Context) (map[string]string, error) {
	if err := s.err("ListTitleCodes"); err != nil {
		return nil, err
	}
	return copyMap(s.Titles), nil
}

func (s *Sources) ListDepartments(_ context.Context) (map[string]string, error) {
	if err := s.err("ListDepartments"); err != nil {
		return nil, err
	}
	return copyMap(s.Departments), nil
}

func (s *Sources) ResolvePeople(_ context.Context, keys []string) (map[string]sources.DirectoryPerson, error) {
	if err := s.err("ResolvePeople"); err != nil {
		return nil, err
	}
	out := make(map[string]sources.DirectoryPerson, len(keys))
	for _, k := range keys {
		if p, ok := s.People[k]; ok {
			out[k] = p
		}
	}
	return out, nil
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.ToUpper(strings.TrimSpace(v))] = true
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
