// Package testhelpers provides in-memory stand-ins for the harvest target store
// and source systems.
package testhelpers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
)

// MemoryStore is an entities.Repository that enforces the same uniqueness rules
// as the database schema. Fail injects an error into the named method.
type MemoryStore struct {
	mu sync.Mutex

	People  []entities.Person
	Courses []entities.Course
	Records []entities.EffortRecord
	Audits  []entities.AuditEntry
	Locks   []term.Code

	Fail map[string]error

	// Calls counts every method invocation by name.
	Calls map[string]int

	nextCourseID int
	nextRecordID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Fail:         map[string]error{},
		Calls:        map[string]int{},
		nextCourseID: 1,
		nextRecordID: 1,
	}
}

// Writes counts calls that modify the store, audits excluded.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls["CreatePerson"] + s.Calls["CreateCourse"] + s.Calls["CreateRecord"] + s.Calls["AddRecordEffort"]
}

func (s *MemoryStore) enter(name string) error {
	s.Calls[name]++
	return s.Fail[name]
}

func (s *MemoryStore) LockTerm(_ context.Context, termCode term.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("LockTerm"); err != nil {
		return err
	}
	s.Locks = append(s.Locks, termCode)
	return nil
}

func (s *MemoryStore) ListPeople(_ context.Context, termCode term.Code) ([]entities.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListPeople"); err != nil {
		return nil, err
	}
	var out []entities.Person
	for _, p := range s.People {
		if p.TermCode == termCode {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListCourses(_ context.Context, termCode term.Code) ([]entities.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListCourses"); err != nil {
		return nil, err
	}
	var out []entities.Course
	for _, c := range s.Courses {
		if c.TermCode == termCode {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, termCode term.Code) ([]entities.EffortRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListRecords"); err != nil {
		return nil, err
	}
	var out []entities.EffortRecord
	for _, r := range s.Records {
		if r.TermCode == termCode {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) PersonExists(_ context.Context, termCode term.Code, personID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PersonExists"); err != nil {
		return false, err
	}
	for _, p := range s.People {
		if p.TermCode == termCode && p.PersonID == personID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) PersonIDByKey(_ context.Context, termCode term.Code, personKey string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PersonIDByKey"); err != nil {
		return 0, false, err
	}
	for _, p := range s.People {
		if p.TermCode == termCode && p.PersonKey == personKey {
			return p.PersonID, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) CreatePerson(_ context.Context, p entities.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreatePerson"); err != nil {
		return err
	}
	for _, existing := range s.People {
		if existing.TermCode != p.TermCode {
			continue
		}
		if existing.PersonID == p.PersonID {
			return fmt.Errorf("person %d in term %s: %w", p.PersonID, p.TermCode, entities.ErrDuplicate)
		}
		if existing.PersonKey == p.PersonKey {
			return fmt.Errorf("person key %s in term %s: %w", p.PersonKey, p.TermCode, entities.ErrDuplicate)
		}
	}
	s.People = append(s.People, p)
	return nil
}

func (s *MemoryStore) FindCourseByCRN(_ context.Context, termCode term.Code, crn string) (entities.Course, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindCourseByCRN"); err != nil {
		return entities.Course{}, false, err
	}
	for _, c := range s.Courses {
		if c.TermCode == termCode && c.CRN != "" && c.CRN == crn {
			return c, true, nil
		}
	}
	return entities.Course{}, false, nil
}

func (s *MemoryStore) FindCoursesByKeyPrefix(_ context.Context, termCode term.Code, prefix string) ([]entities.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindCoursesByKeyPrefix"); err != nil {
		return nil, err
	}
	var out []entities.Course
	for _, c := range s.Courses {
		if c.TermCode == termCode && strings.HasPrefix(c.NaturalKey(), prefix) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateCourse(_ context.Context, c entities.Course) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateCourse"); err != nil {
		return 0, err
	}
	for _, existing := range s.Courses {
		if existing.TermCode != c.TermCode {
			continue
		}
		if c.CRN != "" && existing.CRN == c.CRN {
			return 0, fmt.Errorf("course reference %s: %w", c.CRN, entities.ErrDuplicate)
		}
		if existing.NaturalKey() == c.NaturalKey() {
			return 0, fmt.Errorf("course %s: %w", c.NaturalKey(), entities.ErrDuplicate)
		}
	}
	c.ID = s.nextCourseID
	s.nextCourseID++
	s.Courses = append(s.Courses, c)
	return c.ID, nil
}

func (s *MemoryStore) FindRecord(_ context.Context, termCode term.Code, key entities.RecordKey) (entities.EffortRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindRecord"); err != nil {
		return entities.EffortRecord{}, false, err
	}
	for _, r := range s.Records {
		if r.TermCode == termCode && r.Key() == key {
			return r, true, nil
		}
	}
	return entities.EffortRecord{}, false, nil
}

func (s *MemoryStore) CreateRecord(_ context.Context, r entities.EffortRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateRecord"); err != nil {
		return 0, err
	}
	for _, existing := range s.Records {
		if existing.TermCode == r.TermCode && existing.Key() == r.Key() {
			return 0, fmt.Errorf("effort record %+v: %w", r.Key(), entities.ErrDuplicate)
		}
	}
	r.ID = s.nextRecordID
	s.nextRecordID++
	s.Records = append(s.Records, r)
	return r.ID, nil
}

func (s *MemoryStore) AddRecordEffort(_ context.Context, recordID int, hours, weeks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AddRecordEffort"); err != nil {
		return err
	}
	for i := range s.Records {
		if s.Records[i].ID != recordID {
			continue
		}
		if s.Records[i].Hours != nil || hours != 0 {
			h := hours
			if s.Records[i].Hours != nil {
				h += *s.Records[i].Hours
			}
			s.Records[i].Hours = &h
		}
		if s.Records[i].Weeks != nil || weeks != 0 {
			w := weeks
			if s.Records[i].Weeks != nil {
				w += *s.Records[i].Weeks
			}
			s.Records[i].Weeks = &w
		}
		return nil
	}
	return fmt.Errorf("%w: %d", entities.ErrRecordNotFound, recordID)
}

func (s *MemoryStore) AppendAudit(_ context.Context, entry entities.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AppendAudit"); err != nil {
		return err
	}
	s.Audits = append(s.Audits, entry)
	return nil
}

// PersonKeys returns the sorted natural keys stored for termCode.
func (s *MemoryStore) PersonKeys(termCode term.Code) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for _, p := range s.People {
		if p.TermCode == termCode {
			keys = append(keys, p.PersonKey)
		}
	}
	sort.Strings(keys)
	return keys
}

// CourseByID looks a stored course up by id.
func (s *MemoryStore) CourseByID(id int) (entities.Course, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Courses {
		if c.ID == id {
			return c, true
		}
	}
	return entities.Course{}, false
}
