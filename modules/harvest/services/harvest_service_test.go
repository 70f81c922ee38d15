package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/testhelpers"
)

var fixtureRecords = []string{
	"AKIM|PMI 310|LEC|Director|h=1|w=-",
	"AKIM|VME 401|LAB|Instructor|h=0|w=-",
	"AKIM|VME 401|LEC|Instructor|h=3|w=-",
	"CDIAZ|PMI 310|LEC|Instructor|h=2|w=-",
	"CDIAZ|VME 299R|RES|Instructor|h=0|w=0",
	"DPARK|PMI 199|VAR|Instructor|h=0|w=0",
	"DPARK|VET 430|VAR|Instructor|h=0|w=0",
	"DPARK|VET 410|CLI|Instructor|h=-|w=3",
}

func TestHarvestService_Execute(t *testing.T) {
	f := newFixture(t)
	summary := f.execute(t)

	assert.Equal(t, 4, summary.InstructorsCreated)
	assert.Equal(t, 7, summary.CoursesCreated)
	assert.Equal(t, 8, summary.RecordsCreated)
	assert.Equal(t, 0, summary.RecordsMerged)
	assert.Equal(t, testActor, summary.Actor)
	require.Len(t, summary.Phases, 4)

	assert.Equal(t, []string{"AKIM", "CDIAZ", "DPARK", "VMEGUEST"}, f.store.PersonKeys(fallTerm))
	if diff := cmp.Diff(fixtureRecords, f.storedRecords(t)); diff != "" {
		t.Fatalf("stored records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []term.Code{fallTerm}, f.store.Locks)

	require.Len(t, summary.Warnings, 4)
	assert.Contains(t, summary.Warnings[0], "[scheduling]")
	assert.Contains(t, summary.Warnings[0], "BLEE")
	assert.Contains(t, summary.Warnings[1], "[scheduling] session s3 of AKIM on 10001 counted as 0 minutes")
	assert.Contains(t, summary.Warnings[2], "[clinical]")
	assert.Contains(t, summary.Warnings[2], "EUNK")
	assert.Contains(t, summary.Warnings[3], "APCGUEST")

	last := f.store.Audits[len(f.store.Audits)-1]
	assert.Equal(t, "harvest", last.Action)
	assert.Equal(t, summary.RunID, last.RunID)
	assert.Equal(t, 4+7+8+1, len(f.store.Audits))
}

func TestHarvestService_ExecuteDescribesPeople(t *testing.T) {
	f := newFixture(t)
	f.execute(t)

	var akim entities.Person
	for _, p := range f.store.People {
		if p.PersonKey == "AKIM" {
			akim = p
		}
	}
	assert.Equal(t, "Professor", akim.TitleDescription)
	assert.Equal(t, "Medicine & Epidemiology", akim.DeptName)
	assert.Equal(t, "Kim, Ada", akim.FullName())
	assert.Equal(t, fallTerm, akim.TermCode)
}

func TestHarvestService_ExecuteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.execute(t)
	people, courses, records := len(f.store.People), len(f.store.Courses), len(f.store.Records)

	second := f.execute(t)
	assert.Zero(t, second.InstructorsCreated)
	assert.Zero(t, second.CoursesCreated)
	assert.Zero(t, second.RecordsCreated)
	assert.Zero(t, second.RecordsMerged)
	assert.Len(t, f.store.People, people)
	assert.Len(t, f.store.Courses, courses)
	assert.Len(t, f.store.Records, records)
}

func TestHarvestService_PreviewForecastsExecute(t *testing.T) {
	f := newFixture(t)

	preview, err := f.svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)
	require.Zero(t, f.store.Writes())
	require.Empty(t, f.store.Audits)
	assert.Equal(t, "Fall Semester 2024", preview.TermName)

	again, err := f.svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)
	assert.Equal(t, newPreviewRecords(preview), newPreviewRecords(again))

	summary := f.execute(t)
	totals := preview.Totals()
	assert.Equal(t, summary.InstructorsCreated, totals.NewInstructors)
	assert.Equal(t, summary.CoursesCreated, totals.NewCourses)
	assert.Equal(t, summary.RecordsCreated, totals.NewRecords)
	if diff := cmp.Diff(newPreviewRecords(preview), f.storedRecords(t)); diff != "" {
		t.Fatalf("execute wrote something the preview did not forecast (-preview +stored):\n%s", diff)
	}
	assert.Equal(t, summary.Warnings, preview.Warnings)
	assert.Contains(t, strings.Join(preview.Warnings, "\n"), "session s3 of AKIM")

	after, err := f.svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)
	assert.Zero(t, after.Totals())
	assert.Empty(t, after.RemovedInstructors)
	assert.Empty(t, after.RemovedCourses)
}

func TestHarvestService_PreviewExcludesAmbiguousEmployment(t *testing.T) {
	f := newFixture(t)
	preview, err := f.svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)

	scheduling := findSource(preview, PhaseScheduling)
	require.NotNil(t, scheduling)
	assert.Equal(t, []string{"AKIM", "CDIAZ"}, instructorKeys(scheduling))
	for _, r := range scheduling.Records {
		assert.NotEqual(t, "BLEE", r.PersonKey)
	}
}

func TestHarvestService_CrossPhaseDeduplication(t *testing.T) {
	f := newFixture(t)
	preview, err := f.svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)

	// CDIAZ is found by scheduling and again by catalog; DPARK by catalog and clinical.
	assert.Equal(t, []string{"DPARK"}, instructorKeys(findSource(preview, PhaseCatalog)))
	assert.Empty(t, instructorKeys(findSource(preview, PhaseClinical)))

	summary := f.execute(t)
	byPhase := map[string]PhaseSummary{}
	for _, p := range summary.Phases {
		byPhase[p.Name] = p
	}
	assert.Equal(t, 2, byPhase[PhaseScheduling].InstructorsCreated)
	assert.Equal(t, 1, byPhase[PhaseCatalog].InstructorsCreated)
	assert.Equal(t, 0, byPhase[PhaseClinical].InstructorsCreated)
	assert.Equal(t, 1, byPhase[PhaseGuest].InstructorsCreated)
}

func TestHarvestService_CatalogCoverage(t *testing.T) {
	f := newFixture(t)
	preview, err := f.svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)

	catalog := findSource(preview, PhaseCatalog)
	require.NotNil(t, catalog)
	got := map[string]PreviewCourse{}
	for _, c := range catalog.Courses {
		got[c.CRN] = c
	}
	require.Len(t, got, 4)
	assert.True(t, got["10001"].AlreadyCovered)
	assert.Equal(t, PhaseScheduling, got["10001"].CoveredBy)
	assert.False(t, got["10001"].IsNew)
	assert.True(t, got["20001"].IsNew)
	assert.True(t, got["20002"].IsNew)
	assert.NotContains(t, got, "20003")

	// a unit-bearing catalog section of a rotation number is still reported
	rotationNumber := got["20004"]
	assert.Equal(t, "VET 430", rotationNumber.Code())
	assert.True(t, rotationNumber.IsNew)
	assert.False(t, rotationNumber.AlreadyCovered)
}

func TestHarvestService_ClinicalPriority(t *testing.T) {
	f := newFixture(t)
	f.execute(t)

	var clinical []string
	for _, line := range f.storedRecords(t) {
		if strings.Contains(line, "|CLI|") {
			clinical = append(clinical, line)
		}
	}
	assert.Equal(t, []string{"DPARK|VET 410|CLI|Instructor|h=-|w=3"}, clinical)
}

func TestHarvestService_ClinicalSkippedOutsideSemesters(t *testing.T) {
	f := newFixture(t)
	quarter := term.Code(202410)

	preview, err := f.svc.Preview(context.Background(), quarter)
	require.NoError(t, err)
	assert.Nil(t, findSource(preview, PhaseClinical))
	require.Len(t, preview.Notices, 1)
	assert.Contains(t, preview.Notices[0], "Fall Quarter 2024")

	summary, err := f.svc.Execute(context.Background(), ExecuteRequest{TermCode: quarter, Actor: testActor}, nil)
	require.NoError(t, err)
	require.Len(t, summary.Phases, 3)
	for _, r := range f.store.Records {
		assert.NotEqual(t, entities.EffortTypeClinical, r.EffortType)
	}
}

func TestHarvestService_PreviewListsRemovals(t *testing.T) {
	f := newFixture(t)
	f.store.People = append(f.store.People, entities.Person{PersonID: 150, PersonKey: "ZOLD", TermCode: fallTerm, LastName: "Old"})
	_, err := f.store.CreateCourse(context.Background(), entities.Course{TermCode: fallTerm, Subject: "OLD", Number: "100", Section: "001", Units: 1})
	require.NoError(t, err)

	preview, err := f.svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)
	require.Len(t, preview.RemovedInstructors, 1)
	assert.Equal(t, "ZOLD", preview.RemovedInstructors[0].PersonKey)
	require.Len(t, preview.RemovedCourses, 1)
	assert.Equal(t, "OLD 100", preview.RemovedCourses[0].Code())
}

func TestHarvestService_AmbiguousCourseMatchIsSkipped(t *testing.T) {
	f := newFixture(t)
	for _, units := range []float64{0, 2} {
		_, err := f.store.CreateCourse(context.Background(), entities.Course{TermCode: fallTerm, Subject: "VET", Number: "410", Section: ClinicalSection, Units: units})
		require.NoError(t, err)
	}

	summary := f.execute(t)
	assert.Equal(t, 7, summary.RecordsCreated)
	found := false
	for _, w := range summary.Warnings {
		if strings.Contains(w, "2 courses match VET|410|CLN") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", summary.Warnings)
}

func TestHarvestService_ProgressEvents(t *testing.T) {
	f := newFixture(t, WithProgressEvery(5))

	var fromBus []ProgressEvent
	unsubscribe := f.bus.Subscribe(func(ev ProgressEvent) { fromBus = append(fromBus, ev) })
	defer unsubscribe()

	var events []ProgressEvent
	summary, err := f.svc.Execute(context.Background(), ExecuteRequest{TermCode: fallTerm, Actor: testActor}, func(ev ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Equal(t, events, fromBus)

	require.NotEmpty(t, events)
	assert.Equal(t, EventPhaseStarted, events[0].Type)
	assert.Equal(t, PhaseScheduling, events[0].Phase)

	final := events[len(events)-1]
	assert.Equal(t, EventCompleted, final.Type)
	require.NotNil(t, final.Summary)
	assert.Equal(t, summary.RunID, final.Summary.RunID)

	var started []string
	for _, ev := range events[:len(events)-1] {
		assert.NotEqual(t, EventCompleted, ev.Type)
		assert.NotEqual(t, EventFailed, ev.Type)
		assert.Equal(t, summary.RunID, ev.RunID)
		if ev.Type == EventPhaseStarted {
			started = append(started, ev.Phase)
		}
	}
	assert.Equal(t, []string{PhaseScheduling, PhaseCatalog, PhaseClinical, PhaseGuest}, started)
	assert.Equal(t, final.Counters.RecordsTotal, final.Counters.RecordsImported)
	assert.Equal(t, final.Counters.CoursesTotal, final.Counters.CoursesImported)
}

func TestHarvestService_WriteFailureAbortsRun(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.store.Fail["CreateRecord"] = boom

	var events []ProgressEvent
	summary, err := f.svc.Execute(context.Background(), ExecuteRequest{TermCode: fallTerm, Actor: testActor}, func(ev ProgressEvent) {
		events = append(events, ev)
	})
	require.ErrorIs(t, err, boom)
	require.Nil(t, summary)

	final := events[len(events)-1]
	assert.Equal(t, EventFailed, final.Type)
	assert.Equal(t, PhaseScheduling, final.Phase)
	assert.Contains(t, final.Error, "boom")
	for _, ev := range events {
		if ev.Type == EventPhaseStarted {
			assert.Equal(t, PhaseScheduling, ev.Phase)
		}
	}
}

func TestHarvestService_SourceFailureAbortsPreview(t *testing.T) {
	f := newFixture(t)
	f.src.Err["ListRotationWeeks"] = errors.New("rotation scheduler unreachable")

	_, err := f.svc.Preview(context.Background(), fallTerm)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase clinical")
	assert.Contains(t, err.Error(), "rotation scheduler unreachable")
}

func TestHarvestService_CancellationStopsMidPhase(t *testing.T) {
	f := newFixture(t, WithProgressEvery(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.svc.Execute(ctx, ExecuteRequest{TermCode: fallTerm, Actor: testActor}, func(ev ProgressEvent) {
		if ev.Type == EventProgress {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.store.Writes())
}

func TestHarvestService_ExecuteValidatesRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Execute(context.Background(), ExecuteRequest{TermCode: fallTerm}, nil)
	require.Error(t, err)

	_, err = f.svc.Execute(context.Background(), ExecuteRequest{TermCode: 202411, Actor: testActor}, nil)
	require.ErrorIs(t, err, term.ErrInvalidCode)

	_, err = f.svc.Preview(context.Background(), 12)
	require.ErrorIs(t, err, term.ErrInvalidCode)
	require.Zero(t, f.store.Calls["LockTerm"])
}

func TestNewHarvestService_RejectsDuplicateOrders(t *testing.T) {
	src := testhelpers.NewSources()
	store := testhelpers.NewMemoryStore()
	policy := DefaultPolicy()

	_, err := NewHarvestService(src.Set(), store, policy, nil, WithPhases(
		NewCatalogPhase(store, src.Set(), policy),
		&scriptedPhase{phaseBase: phaseBase{name: "other", order: OrderCatalog}},
	))
	require.ErrorIs(t, err, ErrDuplicatePhaseOrder)

	svc, err := NewHarvestService(src.Set(), store, policy, nil, WithPhases(
		NewGuestPhase(store, src.Set(), policy),
		NewSchedulingPhase(store, src.Set(), policy),
	))
	require.NoError(t, err)
	phases := svc.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, PhaseScheduling, phases[0].Name())
	assert.Equal(t, PhaseGuest, phases[1].Name())
}

// scriptedPhase feeds fixed candidates through the shared import helpers.
type scriptedPhase struct {
	phaseBase
	people  []entities.Person
	courses []entities.Course
	records []recordCandidate
}

func (p *scriptedPhase) ShouldExecute(term.Code) bool { return true }

func (p *scriptedPhase) GeneratePreview(ctx context.Context, hc *HarvestContext) error {
	return p.run(ctx, hc)
}

func (p *scriptedPhase) Execute(ctx context.Context, hc *HarvestContext) error {
	return p.run(ctx, hc)
}

func (p *scriptedPhase) run(ctx context.Context, hc *HarvestContext) error {
	hc.expect(len(p.people), len(p.courses), len(p.records))
	for _, c := range p.courses {
		if _, err := p.importCourse(ctx, hc, c); err != nil {
			return err
		}
	}
	for _, person := range p.people {
		if err := p.importPerson(ctx, hc, person); err != nil {
			return err
		}
	}
	for _, rc := range p.records {
		if err := p.importRecord(ctx, hc, rc); err != nil {
			return err
		}
	}
	return nil
}

func TestPhaseBase_MergesDuplicateRecordsWithinRun(t *testing.T) {
	src := newFixtureSources()
	store := testhelpers.NewMemoryStore()
	policy := DefaultPolicy()

	course := entities.Course{CRN: "30001", Subject: "VME", Number: "500", Section: "001", Units: 2, Enrollment: 4}
	person := entities.Person{PersonID: 101, PersonKey: "akim", LastName: "Kim", FirstName: "Ada"}
	first := &scriptedPhase{
		phaseBase: phaseBase{name: "first", order: 1, repo: store, sources: src.Set(), policy: policy},
		people:    []entities.Person{person},
		courses:   []entities.Course{course},
		records: []recordCandidate{
			{PersonKey: "AKIM", CRN: "30001", Subject: "VME", Number: "500", Section: "001", EffortType: "LEC", Role: entities.RoleInstructor, Hours: intPtr(2)},
			{PersonKey: "NOBODY", CRN: "30001", EffortType: "LEC", Role: entities.RoleInstructor, Hours: intPtr(9)},
			{PersonKey: "AKIM", Subject: "VME", Number: "999", Section: "001", EffortType: "LEC", Role: entities.RoleInstructor, Hours: intPtr(9)},
		},
	}
	second := &scriptedPhase{
		phaseBase: phaseBase{name: "second", order: 2, repo: store, sources: src.Set(), policy: policy},
		people:    []entities.Person{person},
		records: []recordCandidate{
			{PersonKey: "AKIM", Subject: "vme", Number: "500", Section: "001", EffortType: "LEC", Role: entities.RoleInstructor, Hours: intPtr(3)},
		},
	}
	svc, err := NewHarvestService(src.Set(), store, policy, nil, WithPhases(second, first))
	require.NoError(t, err)

	preview, err := svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)
	require.Equal(t, []string{"AKIM|VME 500|LEC|Instructor|h=5|w=-"}, newPreviewRecords(preview))
	assert.Len(t, preview.Warnings, 2)
	assert.Contains(t, preview.Warnings[0], "NOBODY")
	assert.Contains(t, preview.Warnings[1], "VME|999|001")

	summary, err := svc.Execute(context.Background(), ExecuteRequest{TermCode: fallTerm, Actor: testActor}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RecordsCreated)
	assert.Equal(t, 1, summary.RecordsMerged)
	require.Len(t, store.Records, 1)
	assert.Equal(t, 5, *store.Records[0].Hours)
	assert.Equal(t, 1, store.Calls["AddRecordEffort"])

	// a rerun finds the record in place and adds nothing to it
	summary, err = svc.Execute(context.Background(), ExecuteRequest{TermCode: fallTerm, Actor: testActor}, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.RecordsCreated)
	assert.Zero(t, summary.RecordsMerged)
	assert.Equal(t, 5, *store.Records[0].Hours)
}

func TestHarvestService_ReissuedPersonIDIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.store.People = append(f.store.People, entities.Person{PersonID: 999, PersonKey: "CDIAZ", TermCode: fallTerm, LastName: "Diaz"})

	preview, err := f.svc.Preview(context.Background(), fallTerm)
	require.NoError(t, err)
	assert.Equal(t, []string{"AKIM"}, instructorKeys(findSource(preview, PhaseScheduling)))
	for _, r := range newPreviewRecords(preview) {
		assert.NotContains(t, r, "CDIAZ")
	}

	summary := f.execute(t)
	assert.Equal(t, 3, summary.InstructorsCreated)
	assert.Equal(t, summary.Warnings, preview.Warnings)
	joined := strings.Join(summary.Warnings, "\n")
	assert.Contains(t, joined, "person CDIAZ is stored with id 999 but the directory now reports id 103")
	for _, line := range f.storedRecords(t) {
		assert.NotContains(t, line, "CDIAZ")
	}
}
