package services

import (
	"context"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/instructor"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/domain/sources"
)

const (
	PhaseScheduling = "scheduling"
	OrderScheduling = 10
)

// SchedulingPhase imports the primary scheduling system: its non-clinical
// courses, the people teaching their sessions, and hours summed per session type.
type SchedulingPhase struct {
	phaseBase
}

func NewSchedulingPhase(repo entities.Repository, src sources.Set, policy *Policy) *SchedulingPhase {
	return &SchedulingPhase{phaseBase{name: PhaseScheduling, order: OrderScheduling, repo: repo, sources: src, policy: policy}}
}

func (p *SchedulingPhase) ShouldExecute(term.Code) bool { return true }

func (p *SchedulingPhase) GeneratePreview(ctx context.Context, hc *HarvestContext) error {
	if err := p.checkMode(hc, ModePreview); err != nil {
		return err
	}
	return p.run(ctx, hc)
}

func (p *SchedulingPhase) Execute(ctx context.Context, hc *HarvestContext) error {
	if err := p.checkMode(hc, ModeExecute); err != nil {
		return err
	}
	return p.run(ctx, hc)
}

type sessionEffortKey struct {
	personKey   string
	crn         string
	sessionType string
	role        entities.Role
}

func (p *SchedulingPhase) run(ctx context.Context, hc *HarvestContext) error {
	log := hc.Logger()

	courses, err := p.masterCourses(ctx, hc)
	if err != nil {
		return err
	}
	crns := make([]string, 0, len(courses))
	byCRN := make(map[string]sources.CourseOffering, len(courses))
	for _, c := range courses {
		crns = append(crns, c.CRN)
		byCRN[c.CRN] = c
	}

	sessions, err := p.sources.Scheduling.ListSessions(ctx, hc.TermCode, crns)
	if err != nil {
		return errors.Wrap(err, "list sessions")
	}
	directorRows, err := p.sources.Scheduling.ListCourseDirectors(ctx, hc.TermCode, crns)
	if err != nil {
		return errors.Wrap(err, "list course directors")
	}

	directors := make(map[string]map[string]bool)
	keys := make([]string, 0, len(sessions)+len(directorRows))
	for _, d := range directorRows {
		crn := strings.TrimSpace(d.CRN)
		if _, ok := byCRN[crn]; !ok {
			continue
		}
		key := normalizeKey(d.PersonKey)
		if directors[crn] == nil {
			directors[crn] = make(map[string]bool)
		}
		directors[crn][key] = true
		keys = append(keys, key)
	}
	inScope := sessions[:0:0]
	for _, s := range sessions {
		if _, ok := byCRN[strings.TrimSpace(s.CRN)]; !ok {
			continue
		}
		inScope = append(inScope, s)
		keys = append(keys, s.PersonKey)
	}

	people, excluded, err := p.resolveInstructors(ctx, hc, keys, instructor.ExactlyOne)
	if err != nil {
		return err
	}
	warnExcluded(hc, excluded)
	eligible := make(map[string]bool, len(people))
	for _, person := range people {
		eligible[person.PersonKey] = true
	}

	minutes := make(map[sessionEffortKey]int)
	for _, s := range inScope {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := normalizeKey(s.PersonKey)
		if !eligible[key] {
			continue
		}
		sessionType := strings.ToUpper(strings.TrimSpace(s.SessionType))
		if sessionType == "" {
			hc.Warn("session %s of %s has no session type; skipped", s.Ref, key)
			continue
		}
		crn := strings.TrimSpace(s.CRN)
		role := entities.RoleInstructor
		if directors[crn][key] {
			role = entities.RoleDirector
		}
		ek := sessionEffortKey{personKey: key, crn: crn, sessionType: sessionType, role: role}
		m, err := SessionMinutes(log, s.Ref, s.Date, s.StartTime, s.EndTime)
		if err != nil {
			hc.Warn("session %s of %s on %s counted as 0 minutes: %v", s.Ref, key, crn, err)
		}
		minutes[ek] += m
	}

	efforts := make([]sessionEffortKey, 0, len(minutes))
	for ek := range minutes {
		efforts = append(efforts, ek)
	}
	sort.Slice(efforts, func(i, j int) bool {
		a, b := efforts[i], efforts[j]
		if a.personKey != b.personKey {
			return a.personKey < b.personKey
		}
		if a.crn != b.crn {
			return a.crn < b.crn
		}
		if a.sessionType != b.sessionType {
			return a.sessionType < b.sessionType
		}
		return a.role < b.role
	})

	hc.expect(len(people), len(courses), len(efforts))
	log.WithFields(logrus.Fields{
		"courses":     len(courses),
		"sessions":    len(inScope),
		"instructors": len(people),
		"excluded":    len(excluded),
		"records":     len(efforts),
	}).Info("harvest.scheduling.loaded")

	for _, c := range courses {
		if _, err := p.importCourse(ctx, hc, courseFromOffering(c)); err != nil {
			return err
		}
	}
	for _, person := range people {
		if err := p.importPerson(ctx, hc, person); err != nil {
			return err
		}
	}
	for _, ek := range efforts {
		c := byCRN[ek.crn]
		if err := p.importRecord(ctx, hc, recordCandidate{
			PersonKey:  ek.personKey,
			CRN:        ek.crn,
			Subject:    c.Subject,
			Number:     c.Number,
			Section:    c.Section,
			EffortType: entities.EffortType(ek.sessionType),
			Role:       ek.role,
			Hours:      intPtr(minutesToHours(minutes[ek])),
		}); err != nil {
			return err
		}
	}
	return nil
}

// masterCourses is the course list every later query of the phase is restricted
// to: one entry per reference number, clinical courses left to the rotation phase.
func (p *SchedulingPhase) masterCourses(ctx context.Context, hc *HarvestContext) ([]sources.CourseOffering, error) {
	offerings, err := p.sources.Scheduling.ListCourses(ctx, hc.TermCode)
	if err != nil {
		return nil, errors.Wrap(err, "list scheduled courses")
	}
	seen := make(map[string]bool, len(offerings))
	out := make([]sources.CourseOffering, 0, len(offerings))
	for _, o := range offerings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.CRN = strings.TrimSpace(o.CRN)
		switch {
		case o.CRN == "":
			hc.Warn("course %s has no reference number; skipped", entities.CourseCode(o.Subject, o.Number))
			continue
		case seen[o.CRN]:
			continue
		case p.policy.IsClinicalCourse(o.Subject, o.Number):
			continue
		}
		seen[o.CRN] = true
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CRN < out[j].CRN })
	return out, nil
}

func courseFromOffering(o sources.CourseOffering) entities.Course {
	return entities.Course{
		CRN:        strings.TrimSpace(o.CRN),
		Subject:    strings.ToUpper(strings.TrimSpace(o.Subject)),
		Number:     strings.ToUpper(strings.TrimSpace(o.Number)),
		Section:    strings.ToUpper(strings.TrimSpace(o.Section)),
		Units:      o.Units,
		Enrollment: o.Enrollment,
		DeptCode:   strings.ToUpper(strings.TrimSpace(o.DeptCode)),
	}
}
