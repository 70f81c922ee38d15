package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/instructor"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/domain/sources"
)

const (
	PhaseClinical = "clinical"
	OrderClinical = 30

	ClinicalSection = "CLN"
)

// ClinicalPhase turns weekly rotation assignments into effort measured in weeks.
// A person accrues at most one week per calendar week, for the course the
// policy ranks first among those they were scheduled to that week.
type ClinicalPhase struct {
	phaseBase
}

func NewClinicalPhase(repo entities.Repository, src sources.Set, policy *Policy) *ClinicalPhase {
	return &ClinicalPhase{phaseBase{name: PhaseClinical, order: OrderClinical, repo: repo, sources: src, policy: policy}}
}

// ShouldExecute limits rotations to semester terms.
func (p *ClinicalPhase) ShouldExecute(termCode term.Code) bool { return termCode.IsSemester() }

func (p *ClinicalPhase) GeneratePreview(ctx context.Context, hc *HarvestContext) error {
	if err := p.checkMode(hc, ModePreview); err != nil {
		return err
	}
	return p.run(ctx, hc)
}

func (p *ClinicalPhase) Execute(ctx context.Context, hc *HarvestContext) error {
	if err := p.checkMode(hc, ModeExecute); err != nil {
		return err
	}
	return p.run(ctx, hc)
}

type rotationCourse struct {
	subject string
	number  string
}

func (p *ClinicalPhase) run(ctx context.Context, hc *HarvestContext) error {
	rotations, err := p.sources.Rotation.ListRotationWeeks(ctx, hc.TermCode)
	if err != nil {
		return errors.Wrap(err, "list rotation weeks")
	}

	courses := make(map[string]rotationCourse)
	keys := make([]string, 0, len(rotations))
	for _, r := range rotations {
		code := entities.CourseCode(r.Subject, r.Number)
		courses[code] = rotationCourse{
			subject: strings.ToUpper(strings.TrimSpace(r.Subject)),
			number:  strings.ToUpper(strings.TrimSpace(r.Number)),
		}
		keys = append(keys, r.PersonKey)
	}

	people, excluded, err := p.resolveInstructors(ctx, hc, keys, func(records []instructor.Employment) (instructor.Employment, error) {
		return instructor.ValidateClinical(records, hc.TitleCodes)
	})
	if err != nil {
		return err
	}
	warnExcluded(hc, excluded)
	eligible := make(map[string]bool, len(people))
	for _, person := range people {
		eligible[person.PersonKey] = true
	}

	weeks, err := AccrueRotationWeeks(ctx, rotations, p.policy, func(key string) bool { return eligible[key] })
	if err != nil {
		return err
	}

	records := make([]recordCandidate, 0, len(weeks))
	for _, w := range weeks {
		c := courses[w.CourseCode]
		records = append(records, recordCandidate{
			PersonKey:  w.PersonKey,
			Subject:    c.subject,
			Number:     c.number,
			Section:    ClinicalSection,
			EffortType: entities.EffortTypeClinical,
			Role:       entities.RoleInstructor,
			Weeks:      intPtr(w.Weeks),
		})
	}

	codes := sortedKeys(courses)
	hc.expect(len(people), len(codes), len(records))
	hc.Logger().WithFields(logrus.Fields{
		"rotation_weeks": len(rotations),
		"courses":        len(codes),
		"instructors":    len(people),
		"excluded":       len(excluded),
		"records":        len(records),
	}).Info("harvest.clinical.loaded")

	for _, code := range codes {
		c := courses[code]
		if _, err := p.importCourse(ctx, hc, entities.Course{
			Subject: c.subject,
			Number:  c.number,
			Section: ClinicalSection,
		}); err != nil {
			return err
		}
	}
	for _, person := range people {
		if err := p.importPerson(ctx, hc, person); err != nil {
			return err
		}
	}
	for _, rc := range records {
		if err := p.importRecord(ctx, hc, rc); err != nil {
			return err
		}
	}
	return nil
}

// RotationEffort is the number of weeks one person accrues on one course.
type RotationEffort struct {
	PersonKey  string
	CourseCode string
	Weeks      int
}

// AccrueRotationWeeks buckets rotations by person and calendar week (Monday
// start) and credits each bucket to the single course chosen by
// Policy.PriorityCourse. include filters people by natural key; nil keeps all.
// The result is sorted by person then course code.
func AccrueRotationWeeks(ctx context.Context, rotations []sources.RotationWeek, policy *Policy, include func(personKey string) bool) ([]RotationEffort, error) {
	type bucket struct {
		personKey string
		week      time.Time
	}
	scheduled := make(map[bucket]map[string]struct{})
	for _, r := range rotations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := normalizeKey(r.PersonKey)
		if key == "" || (include != nil && !include(key)) {
			continue
		}
		b := bucket{personKey: key, week: weekStart(r.WeekStart)}
		if scheduled[b] == nil {
			scheduled[b] = make(map[string]struct{})
		}
		scheduled[b][entities.CourseCode(r.Subject, r.Number)] = struct{}{}
	}

	type credit struct {
		personKey string
		code      string
	}
	totals := make(map[credit]int)
	for b, codes := range scheduled {
		winner := policy.PriorityCourse(sortedKeys(codes))
		totals[credit{personKey: b.personKey, code: winner}]++
	}

	out := make([]RotationEffort, 0, len(totals))
	for c, n := range totals {
		out = append(out, RotationEffort{PersonKey: c.personKey, CourseCode: c.code, Weeks: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PersonKey != out[j].PersonKey {
			return out[i].PersonKey < out[j].PersonKey
		}
		return out[i].CourseCode < out[j].CourseCode
	})
	return out, nil
}

// weekStart returns the Monday of the calendar week holding t.
func weekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
