package services

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/effort/modules/effort/domain/instructor"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/domain/sources"
	"github.com/iota-uz/effort/modules/harvest/testhelpers"
	"github.com/iota-uz/effort/pkg/eventbus"
	"github.com/iota-uz/effort/pkg/logging"
)

const fallTerm = term.Code(202409)

var testActor = uuid.MustParse("7d3c1a52-3f7e-4c55-9b0e-2f1a7c6d9e10")

const fixturePolicy = `
clinical_courses:
  - subject: VET
    number: '^4\d\d[A-Z]?$'
research_number: '^\d{3}R$'
clinical_priority: ["VET 410", "VET 420"]
guest_title_code: GUEST
guest_accounts:
  - department: VME
    person_key: VMEGUEST
  - department: APC
    person_key: APCGUEST
`

func week(day int) time.Time {
	return time.Date(2024, 9, day, 0, 0, 0, 0, time.UTC)
}

// newFixtureSources builds one fall term touching every phase:
//
//	AKIM   teaches 10001 (LEC + LAB) and directs 10002
//	BLEE   has two appointments and is excluded from scheduling
//	CDIAZ  teaches 10002 and is instructor of record of research course 20001
//	DPARK  is instructor of record of 20002 and rotates VET 410 weeks 1-3, VET 420 week 2
//	EUNK   rotates VET 420 but has no appointment
func newFixtureSources() *testhelpers.Sources {
	src := testhelpers.NewSources()
	src.Titles = map[string]string{"1100": "PROFESSOR", "3200": "LECTURER", "GUEST": "GUEST ACCOUNT"}
	src.Departments = map[string]string{"VME": "MEDICINE & EPIDEMIOLOGY", "PMI": "PATHOLOGY"}

	src.AddPerson(101, "AKIM", "Ada", "Kim", instructor.Employment{TitleCode: "1100", DeptCode: "VME", Primary: true})
	src.AddPerson(102, "BLEE", "Bo", "Lee",
		instructor.Employment{TitleCode: "1100", DeptCode: "VME"},
		instructor.Employment{TitleCode: "3200", DeptCode: "PMI"},
	)
	src.AddPerson(103, "CDIAZ", "Cy", "Diaz", instructor.Employment{TitleCode: "3200", DeptCode: "PMI"})
	src.AddPerson(104, "DPARK", "Di", "Park", instructor.Employment{TitleCode: "1100", DeptCode: "VME", Primary: true})
	src.AddPerson(105, "EUNK", "Eli", "Unk")
	src.AddPerson(900, "VMEGUEST", "Guest", "VME")

	src.ScheduledCourses = []sources.CourseOffering{
		{CRN: "10002", Subject: "PMI", Number: "310", Section: "001", Units: 3, Enrollment: 20, DeptCode: "PMI"},
		{CRN: "10001", Subject: "VME", Number: "401", Section: "001", Units: 4, Enrollment: 30, DeptCode: "VME"},
		{CRN: "10003", Subject: "VET", Number: "410", Section: "001", Units: 6, Enrollment: 12, DeptCode: "VME"},
	}
	day := week(9)
	src.Sessions = []sources.Session{
		{Ref: "s1", CRN: "10001", PersonKey: "AKIM", SessionType: "lec", Date: day, StartTime: "8:00 AM", EndTime: "9:30 AM"},
		{Ref: "s2", CRN: "10001", PersonKey: "AKIM", SessionType: "LEC", Date: day, StartTime: "1430", EndTime: "1600"},
		{Ref: "s3", CRN: "10001", PersonKey: "AKIM", SessionType: "LAB", Date: day, StartTime: "1600", EndTime: "1400"},
		{Ref: "s4", CRN: "10001", PersonKey: "BLEE", SessionType: "LEC", Date: day, StartTime: "0900", EndTime: "1000"},
		{Ref: "s5", CRN: "10002", PersonKey: "CDIAZ", SessionType: "LEC", Date: day, StartTime: "1000", EndTime: "1150"},
		{Ref: "s6", CRN: "10002", PersonKey: "AKIM", SessionType: "LEC", Date: day, StartTime: "1300", EndTime: "1330"},
		{Ref: "s7", CRN: "10003", PersonKey: "DPARK", SessionType: "CLI", Date: day, StartTime: "0800", EndTime: "1700"},
	}
	src.Directors = []sources.CourseDirector{{CRN: "10002", PersonKey: "AKIM"}}

	src.CatalogCourses = []sources.CourseOffering{
		{CRN: "10001", Subject: "VME", Number: "401", Section: "001", Units: 4, Enrollment: 30, DeptCode: "VME"},
		{CRN: "20001", Subject: "VME", Number: "299R", Section: "001", DeptCode: "VME"},
		{CRN: "20002", Subject: "PMI", Number: "199", Section: "002", Units: 2, Enrollment: 3, DeptCode: "PMI"},
		{CRN: "20003", Subject: "PMI", Number: "198", Section: "001", Enrollment: 5, DeptCode: "PMI"},
		{CRN: "20004", Subject: "VET", Number: "430", Section: "001", Units: 4, Enrollment: 8, DeptCode: "VME"},
	}
	src.InstructorsOfRecord = []sources.InstructorOfRecord{
		{CRN: "10001", PersonKey: "AKIM"},
		{CRN: "20001", PersonKey: "CDIAZ"},
		{CRN: "20002", PersonKey: "DPARK"},
		{CRN: "20003", PersonKey: "CDIAZ"},
		{CRN: "20004", PersonKey: "DPARK"},
	}

	src.Rotations = []sources.RotationWeek{
		{PersonKey: "DPARK", Subject: "VET", Number: "410", WeekStart: week(2)},
		{PersonKey: "DPARK", Subject: "VET", Number: "410", WeekStart: week(9)},
		{PersonKey: "DPARK", Subject: "VET", Number: "420", WeekStart: week(11)},
		{PersonKey: "DPARK", Subject: "VET", Number: "410", WeekStart: week(16)},
		{PersonKey: "EUNK", Subject: "VET", Number: "420", WeekStart: week(2)},
	}
	return src
}

type fixture struct {
	src   *testhelpers.Sources
	store *testhelpers.MemoryStore
	bus   eventbus.EventBus
	svc   *HarvestService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	policy, err := ParsePolicy([]byte(fixturePolicy))
	require.NoError(t, err)

	f := &fixture{
		src:   newFixtureSources(),
		store: testhelpers.NewMemoryStore(),
		bus:   eventbus.NewEventPublisher(logging.NopLogger()),
	}
	f.svc, err = NewHarvestService(f.src.Set(), f.store, policy, f.bus, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) execute(t *testing.T) *Summary {
	t.Helper()
	summary, err := f.svc.Execute(context.Background(), ExecuteRequest{TermCode: fallTerm, Actor: testActor}, nil)
	require.NoError(t, err)
	return summary
}

// storedRecords renders the store's effort records the way previews name them.
func (f *fixture) storedRecords(t *testing.T) []string {
	t.Helper()
	keys := make(map[int]string)
	for _, p := range f.store.People {
		keys[p.PersonID] = p.PersonKey
	}
	out := make([]string, 0, len(f.store.Records))
	for _, r := range f.store.Records {
		c, ok := f.store.CourseByID(r.CourseID)
		require.True(t, ok)
		out = append(out, recordLine(keys[r.PersonID], c.Code(), string(r.EffortType), string(r.Role), r.Hours, r.Weeks))
	}
	sort.Strings(out)
	return out
}

func newPreviewRecords(p *Preview) []string {
	var out []string
	for _, s := range p.Sources {
		for _, r := range s.Records {
			if r.IsNew {
				out = append(out, recordLine(r.PersonKey, r.CourseCode, string(r.EffortType), string(r.Role), r.Hours, r.Weeks))
			}
		}
	}
	sort.Strings(out)
	return out
}

func recordLine(person, course, effortType, role string, hours, weeks *int) string {
	show := func(v *int) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprint(*v)
	}
	return fmt.Sprintf("%s|%s|%s|%s|h=%s|w=%s", person, course, effortType, role, show(hours), show(weeks))
}

func instructorKeys(s *SourcePreview) []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Instructors))
	for _, i := range s.Instructors {
		out = append(out, i.PersonKey)
	}
	return out
}

func findSource(p *Preview, name string) *SourcePreview {
	for _, s := range p.Sources {
		if s.Name == name {
			return s
		}
	}
	return nil
}
