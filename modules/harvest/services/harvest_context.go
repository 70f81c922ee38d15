package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
)

type Mode string

const (
	ModePreview Mode = "preview"
	ModeExecute Mode = "execute"
)

const defaultProgressEvery = 10

// recordSlot remembers where a record tuple went the first time it was seen in
// this run. Only tuples created by the run absorb later duplicates.
type recordSlot struct {
	id      int
	created bool
	source  *SourcePreview
	index   int
}

func (s *recordSlot) item() *PreviewRecord {
	return &s.source.Records[s.index]
}

// HarvestContext is the mutable state of one harvest run. Phases run strictly
// in order against it and later phases read what earlier ones recorded; it is
// not safe for concurrent use.
type HarvestContext struct {
	TermCode  term.Code
	Actor     uuid.UUID
	RunID     uuid.UUID
	Mode      Mode
	StartedAt time.Time

	Preview *Preview

	// ImportedPeople maps the natural key of every person handled in this run
	// to their directory id. The first phase to see a person owns them.
	ImportedPeople map[string]int
	// CourseIDs maps course natural keys to target course ids.
	CourseIDs map[string]int

	TitleCodes  map[string]string
	Departments map[string]string

	Warnings []string
	Notices  []string
	Counters Counters
	Progress ProgressFunc

	courseRefs     map[string]int
	claimedCourses map[string]string
	records        map[entities.RecordKey]*recordSlot
	phaseSummaries []*PhaseSummary

	view          termView
	progressEvery int
	sinceReport   int
	currentPhase  string
	log           *logrus.Entry
}

func NewHarvestContext(termCode term.Code, actor uuid.UUID, mode Mode, log *logrus.Entry) *HarvestContext {
	runID := uuid.New()
	return &HarvestContext{
		TermCode:       termCode,
		Actor:          actor,
		RunID:          runID,
		Mode:           mode,
		StartedAt:      time.Now().UTC(),
		Preview:        newPreview(termCode),
		ImportedPeople: make(map[string]int),
		CourseIDs:      make(map[string]int),
		TitleCodes:     make(map[string]string),
		Departments:    make(map[string]string),
		courseRefs:     make(map[string]int),
		claimedCourses: make(map[string]string),
		records:        make(map[entities.RecordKey]*recordSlot),
		progressEvery:  defaultProgressEvery,
		log: log.WithFields(logrus.Fields{
			"run_id": runID.String(),
			"term":   termCode.String(),
			"mode":   string(mode),
		}),
	}
}

func (hc *HarvestContext) Logger() *logrus.Entry {
	if hc.currentPhase == "" {
		return hc.log
	}
	return hc.log.WithField("phase", hc.currentPhase)
}

func (hc *HarvestContext) Dry() bool { return hc.Mode == ModePreview }

func (hc *HarvestContext) Phase() string { return hc.currentPhase }

// Warn records a data-quality problem against the run and logs it.
func (hc *HarvestContext) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if hc.currentPhase != "" {
		msg = "[" + hc.currentPhase + "] " + msg
	}
	hc.Warnings = append(hc.Warnings, msg)
	getMetrics().warningsTotal.WithLabelValues(hc.currentPhase).Inc()
	hc.Logger().Warn(msg)
}

func (hc *HarvestContext) Notice(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	hc.Notices = append(hc.Notices, msg)
	hc.Logger().Info(msg)
}

func (hc *HarvestContext) beginPhase(name string) {
	hc.currentPhase = name
	hc.phaseSummaries = append(hc.phaseSummaries, &PhaseSummary{Name: name})
	hc.emit(EventPhaseStarted)
}

func (hc *HarvestContext) endPhase() {
	hc.flush()
	hc.currentPhase = ""
}

func (hc *HarvestContext) phaseSummary() *PhaseSummary {
	if len(hc.phaseSummaries) == 0 {
		hc.phaseSummaries = append(hc.phaseSummaries, &PhaseSummary{Name: hc.currentPhase})
	}
	return hc.phaseSummaries[len(hc.phaseSummaries)-1]
}

// expect grows the totals once a phase knows how many candidates it holds.
func (hc *HarvestContext) expect(instructors, courses, records int) {
	hc.Counters.InstructorsTotal += instructors
	hc.Counters.CoursesTotal += courses
	hc.Counters.RecordsTotal += records
}

type itemKind int

const (
	kindInstructor itemKind = iota
	kindCourse
	kindRecord
)

func (hc *HarvestContext) tick(kind itemKind) {
	switch kind {
	case kindInstructor:
		hc.Counters.InstructorsImported++
	case kindCourse:
		hc.Counters.CoursesImported++
	case kindRecord:
		hc.Counters.RecordsImported++
	}
	hc.sinceReport++
	if hc.sinceReport >= hc.progressEvery {
		hc.flush()
	}
}

// flush reports progress now, whatever the granularity.
func (hc *HarvestContext) flush() {
	hc.sinceReport = 0
	hc.emit(EventProgress)
}

func (hc *HarvestContext) emit(t EventType) {
	if hc.Progress == nil {
		return
	}
	hc.Progress(ProgressEvent{
		RunID:    hc.RunID,
		TermCode: hc.TermCode,
		Type:     t,
		Phase:    hc.currentPhase,
		Counters: hc.Counters,
	})
}

// claimCourse marks a course as derived by the current phase so later phases
// can report overlaps instead of importing them twice.
func (hc *HarvestContext) claimCourse(c entities.Course) {
	if c.CRN != "" {
		if _, ok := hc.claimedCourses["crn:"+c.CRN]; !ok {
			hc.claimedCourses["crn:"+c.CRN] = hc.currentPhase
		}
	}
	if _, ok := hc.claimedCourses["key:"+c.NaturalKey()]; !ok {
		hc.claimedCourses["key:"+c.NaturalKey()] = hc.currentPhase
	}
}

// claimedBy returns the phase that already derived c, if any.
func (hc *HarvestContext) claimedBy(c entities.Course) (string, bool) {
	if c.CRN != "" {
		if phase, ok := hc.claimedCourses["crn:"+c.CRN]; ok {
			return phase, true
		}
	}
	phase, ok := hc.claimedCourses["key:"+c.NaturalKey()]
	return phase, ok
}

func (hc *HarvestContext) registerCourse(c entities.Course, id int) {
	hc.CourseIDs[c.NaturalKey()] = id
	if c.CRN != "" {
		hc.courseRefs[c.CRN] = id
	}
}

// courseIDsWithPrefix lists registered course ids whose natural key starts with prefix.
func (hc *HarvestContext) courseIDsWithPrefix(prefix string) []int {
	var ids []int
	for key, id := range hc.CourseIDs {
		if strings.HasPrefix(key, prefix) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (hc *HarvestContext) Summary() *Summary {
	s := &Summary{
		RunID:      hc.RunID,
		TermCode:   hc.TermCode,
		Actor:      hc.Actor,
		Warnings:   append([]string(nil), hc.Warnings...),
		StartedAt:  hc.StartedAt,
		FinishedAt: time.Now().UTC(),
	}
	for _, p := range hc.phaseSummaries {
		s.InstructorsCreated += p.InstructorsCreated
		s.CoursesCreated += p.CoursesCreated
		s.RecordsCreated += p.RecordsCreated
		s.RecordsMerged += p.RecordsMerged
		s.Phases = append(s.Phases, *p)
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// finish emits the terminal event of a run.
func (hc *HarvestContext) finish(summary *Summary, err error) {
	if hc.Progress == nil {
		return
	}
	ev := ProgressEvent{
		RunID:    hc.RunID,
		TermCode: hc.TermCode,
		Type:     EventCompleted,
		Phase:    hc.currentPhase,
		Counters: hc.Counters,
		Summary:  summary,
	}
	if err != nil {
		ev.Type = EventFailed
		ev.Error = err.Error()
	}
	hc.Progress(ev)
}
