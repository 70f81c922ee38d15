package services

import (
	"context"
	"fmt"
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

var errNotInDirectory = errors.New("not found in person directory")

// Phase imports one source system into the target term. Implementations hold no
// run state; everything a run accumulates lives in the HarvestContext.
type Phase interface {
	Name() string
	Order() int
	// ShouldExecute must depend on the term alone.
	ShouldExecute(termCode term.Code) bool
	GeneratePreview(ctx context.Context, hc *HarvestContext) error
	Execute(ctx context.Context, hc *HarvestContext) error
}

type phaseBase struct {
	name    string
	order   int
	repo    entities.Repository
	sources sources.Set
	policy  *Policy
}

func (b *phaseBase) Name() string { return b.name }

func (b *phaseBase) Order() int { return b.order }

// checkMode guards the two entry points against being handed the wrong kind of run.
func (b *phaseBase) checkMode(hc *HarvestContext, want Mode) error {
	if hc.Mode != want {
		return fmt.Errorf("phase %s: %s called with a %s context", b.name, want, hc.Mode)
	}
	if hc.view == nil {
		return fmt.Errorf("phase %s: context has no term view", b.name)
	}
	return nil
}

// importPerson creates p in the target term unless an earlier phase already
// handled the same natural key or the person is already there.
func (b *phaseBase) importPerson(ctx context.Context, hc *HarvestContext, p entities.Person) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := normalizeKey(p.PersonKey)
	defer hc.tick(kindInstructor)

	if _, seen := hc.ImportedPeople[key]; seen {
		hc.Logger().WithField("person_key", key).Debug("harvest.person.already_imported")
		return nil
	}

	exists, err := hc.view.personExists(ctx, p.PersonID)
	if err != nil {
		return errors.Wrapf(err, "check person %s", key)
	}
	if !exists {
		owner, taken, err := hc.view.personIDByKey(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "check person key %s", key)
		}
		if taken {
			hc.Warn("person %s is stored with id %d but the directory now reports id %d; skipped", key, owner, p.PersonID)
			return nil
		}
	}
	p.PersonKey = key
	p.TermCode = hc.TermCode

	section := hc.Preview.Source(b.name)
	section.Instructors = append(section.Instructors, PreviewPerson{
		PersonKey:        key,
		PersonID:         p.PersonID,
		Name:             p.FullName(),
		TitleCode:        p.TitleCode,
		TitleDescription: p.TitleDescription,
		DeptCode:         p.DeptCode,
		DeptName:         p.DeptName,
		Source:           b.name,
		IsNew:            !exists,
	})

	if !exists {
		if hc.Dry() {
			hc.view.plannedPerson(p.PersonID)
		} else {
			if err := b.repo.CreatePerson(ctx, p); err != nil {
				return errors.Wrapf(err, "create person %s", key)
			}
			if err := b.audit(ctx, hc, "create", "person", key, map[string]any{
				"person_id": p.PersonID,
				"title":     p.TitleCode,
				"dept":      p.DeptCode,
			}); err != nil {
				return err
			}
			hc.phaseSummary().InstructorsCreated++
			getMetrics().createdTotal.WithLabelValues("person", b.name).Inc()
		}
	}
	hc.ImportedPeople[key] = p.PersonID
	return nil
}

// importCourse returns the target id of c, creating the course when neither its
// reference number nor its natural key is present in the term.
func (b *phaseBase) importCourse(ctx context.Context, hc *HarvestContext, c entities.Course) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.TermCode = hc.TermCode
	c.CRN = strings.TrimSpace(c.CRN)
	key := c.NaturalKey()

	var (
		id    int
		found bool
		err   error
	)
	if c.CRN != "" {
		id, found, err = hc.view.courseByCRN(ctx, c.CRN)
	}
	if err == nil && !found {
		id, found, err = hc.view.courseByKey(ctx, key, entities.CourseKeyPrefix(c.Subject, c.Number, c.Section))
	}
	if err != nil {
		return 0, errors.Wrapf(err, "find course %s", key)
	}

	if !found {
		if hc.Dry() {
			id = hc.view.plannedCourse(c)
		} else {
			id, err = b.repo.CreateCourse(ctx, c)
			if err != nil {
				return 0, errors.Wrapf(err, "create course %s", key)
			}
			if err := b.audit(ctx, hc, "create", "course", key, map[string]any{
				"course_id": id,
				"crn":       c.CRN,
			}); err != nil {
				return 0, err
			}
			hc.phaseSummary().CoursesCreated++
			getMetrics().createdTotal.WithLabelValues("course", b.name).Inc()
		}
	}

	section := hc.Preview.Source(b.name)
	section.Courses = append(section.Courses, previewCourse(c, b.name, !found))
	hc.registerCourse(c, id)
	hc.claimCourse(c)
	hc.tick(kindCourse)
	return id, nil
}

func previewCourse(c entities.Course, source string, isNew bool) PreviewCourse {
	return PreviewCourse{
		CRN:        c.CRN,
		Subject:    strings.ToUpper(strings.TrimSpace(c.Subject)),
		Number:     strings.ToUpper(strings.TrimSpace(c.Number)),
		Section:    strings.ToUpper(strings.TrimSpace(c.Section)),
		Units:      c.Units,
		Enrollment: c.Enrollment,
		DeptCode:   c.DeptCode,
		Source:     source,
		IsNew:      isNew,
	}
}

// recordCandidate is an effort record before its person and course are resolved
// to target ids. CRN wins when set; otherwise Subject/Number/Section select
// courses by natural-key prefix.
type recordCandidate struct {
	PersonKey  string
	CRN        string
	Subject    string
	Number     string
	Section    string
	EffortType entities.EffortType
	Role       entities.Role
	Hours      *int
	Weeks      *int
}

func (rc recordCandidate) courseCode() string {
	if rc.Subject == "" {
		return rc.CRN
	}
	return entities.CourseCode(rc.Subject, rc.Number)
}

// importRecord writes one effort record. Unresolvable people or courses are
// skipped with a warning; a tuple this run already created absorbs the effort.
func (b *phaseBase) importRecord(ctx context.Context, hc *HarvestContext, rc recordCandidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer hc.tick(kindRecord)

	personKey := normalizeKey(rc.PersonKey)
	personID, ok := hc.ImportedPeople[personKey]
	if !ok {
		hc.Warn("%s effort for %s on %s skipped: instructor was not imported", rc.EffortType, personKey, rc.courseCode())
		return nil
	}

	courseID, ok, err := b.resolveCourse(ctx, hc, rc)
	if err != nil || !ok {
		return err
	}

	key := entities.RecordKey{PersonID: personID, CourseID: courseID, EffortType: rc.EffortType, Role: rc.Role}
	log := hc.Logger().WithFields(logrus.Fields{
		"person_key":  personKey,
		"course_id":   courseID,
		"effort_type": string(rc.EffortType),
		"role":        string(rc.Role),
	})

	if slot, seen := hc.records[key]; seen {
		if !slot.created {
			log.Debug("harvest.record.already_present")
			return nil
		}
		item := slot.item()
		item.Hours = addEffort(item.Hours, rc.Hours)
		item.Weeks = addEffort(item.Weeks, rc.Weeks)
		if !hc.Dry() {
			if err := b.repo.AddRecordEffort(ctx, slot.id, deref(rc.Hours), deref(rc.Weeks)); err != nil {
				return errors.Wrapf(err, "merge effort record %d", slot.id)
			}
			getMetrics().mergedTotal.WithLabelValues(b.name).Inc()
		}
		hc.phaseSummary().RecordsMerged++
		log.WithField("record_id", slot.id).Debug("harvest.record.merged")
		return nil
	}

	existingID, exists, err := hc.view.recordByKey(ctx, key)
	if err != nil {
		return errors.Wrap(err, "find effort record")
	}

	section := hc.Preview.Source(b.name)
	section.Records = append(section.Records, PreviewRecord{
		PersonKey:  personKey,
		CourseCode: rc.courseCode(),
		CRN:        rc.CRN,
		EffortType: rc.EffortType,
		Role:       rc.Role,
		Hours:      copyEffort(rc.Hours),
		Weeks:      copyEffort(rc.Weeks),
		Source:     b.name,
		IsNew:      !exists,
	})
	slot := &recordSlot{id: existingID, created: !exists, source: section, index: len(section.Records) - 1}
	hc.records[key] = slot

	if exists || hc.Dry() {
		return nil
	}
	slot.id, err = b.repo.CreateRecord(ctx, entities.EffortRecord{
		TermCode:   hc.TermCode,
		PersonID:   personID,
		CourseID:   courseID,
		EffortType: rc.EffortType,
		Role:       rc.Role,
		Hours:      copyEffort(rc.Hours),
		Weeks:      copyEffort(rc.Weeks),
	})
	if err != nil {
		return errors.Wrapf(err, "create effort record for %s on %s", personKey, rc.courseCode())
	}
	if err := b.audit(ctx, hc, "create", "effort_record", fmt.Sprintf("%s/%s/%s/%s", personKey, rc.courseCode(), rc.EffortType, rc.Role), map[string]any{
		"record_id": slot.id,
		"course_id": courseID,
		"hours":     rc.Hours,
		"weeks":     rc.Weeks,
	}); err != nil {
		return err
	}
	hc.phaseSummary().RecordsCreated++
	getMetrics().createdTotal.WithLabelValues("effort_record", b.name).Inc()
	return nil
}

// resolveCourse finds the course of rc: exact reference number first, then a
// natural-key prefix that must match exactly one course.
func (b *phaseBase) resolveCourse(ctx context.Context, hc *HarvestContext, rc recordCandidate) (int, bool, error) {
	if crn := strings.TrimSpace(rc.CRN); crn != "" {
		if id, ok := hc.courseRefs[crn]; ok {
			return id, true, nil
		}
		id, found, err := hc.view.courseByCRN(ctx, crn)
		if err != nil {
			return 0, false, errors.Wrapf(err, "find course %s", crn)
		}
		if found {
			return id, true, nil
		}
		if rc.Subject == "" {
			hc.Warn("%s effort for %s skipped: no course with reference %s", rc.EffortType, normalizeKey(rc.PersonKey), crn)
			return 0, false, nil
		}
	}

	prefix := entities.CourseKeyPrefix(rc.Subject, rc.Number, rc.Section)
	stored, err := hc.view.coursesByPrefix(ctx, prefix)
	if err != nil {
		return 0, false, errors.Wrapf(err, "find courses %s", prefix)
	}
	matches := make(map[int]struct{}, len(stored))
	for _, id := range stored {
		matches[id] = struct{}{}
	}
	for _, id := range hc.courseIDsWithPrefix(prefix) {
		matches[id] = struct{}{}
	}

	switch len(matches) {
	case 0:
		hc.Warn("%s effort for %s skipped: no course matches %s", rc.EffortType, normalizeKey(rc.PersonKey), strings.TrimSuffix(prefix, "|"))
		return 0, false, nil
	case 1:
		for id := range matches {
			return id, true, nil
		}
	}
	hc.Warn("%s effort for %s skipped: %d courses match %s", rc.EffortType, normalizeKey(rc.PersonKey), len(matches), strings.TrimSuffix(prefix, "|"))
	return 0, false, nil
}

type eligibilityRule func(records []instructor.Employment) (instructor.Employment, error)

// resolveInstructors turns natural keys into target people. Keys that fail the
// eligibility rule or are missing from the directory come back in excluded.
func (b *phaseBase) resolveInstructors(ctx context.Context, hc *HarvestContext, keys []string, rule eligibilityRule) ([]entities.Person, map[string]error, error) {
	keys = uniqueKeys(keys)
	excluded := make(map[string]error)
	if len(keys) == 0 {
		return nil, excluded, nil
	}

	employments, err := b.sources.Registry.ListEmployments(ctx, hc.TermCode, keys)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list employments")
	}
	byKey := make(map[string][]instructor.Employment, len(keys))
	for _, e := range employments {
		k := normalizeKey(e.PersonKey)
		byKey[k] = append(byKey[k], e)
	}

	directory, err := b.sources.Directory.ResolvePeople(ctx, keys)
	if err != nil {
		return nil, nil, errors.Wrap(err, "resolve people")
	}
	found := make(map[string]sources.DirectoryPerson, len(directory))
	for k, dp := range directory {
		found[normalizeKey(k)] = dp
	}

	people := make([]entities.Person, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		emp, err := rule(byKey[k])
		if err != nil {
			excluded[k] = err
			continue
		}
		dp, ok := found[k]
		if !ok {
			excluded[k] = errNotInDirectory
			continue
		}
		people = append(people, b.buildPerson(hc, k, dp, emp.TitleCode, emp.DeptCode))
	}
	return people, excluded, nil
}

func (b *phaseBase) buildPerson(hc *HarvestContext, key string, dp sources.DirectoryPerson, titleCode, deptCode string) entities.Person {
	titleCode = strings.TrimSpace(titleCode)
	deptCode = strings.ToUpper(strings.TrimSpace(deptCode))
	return entities.Person{
		PersonID:         dp.PersonID,
		PersonKey:        key,
		TermCode:         hc.TermCode,
		FirstName:        strings.TrimSpace(dp.FirstName),
		LastName:         strings.TrimSpace(dp.LastName),
		TitleCode:        titleCode,
		TitleDescription: describe(hc.TitleCodes, titleCode),
		DeptCode:         deptCode,
		DeptName:         describe(hc.Departments, deptCode),
	}
}

func (b *phaseBase) audit(ctx context.Context, hc *HarvestContext, action, entity, key string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["phase"] = b.name
	if err := b.repo.AppendAudit(ctx, entities.AuditEntry{
		TermCode:  hc.TermCode,
		RunID:     hc.RunID,
		Actor:     hc.Actor,
		Action:    action,
		Entity:    entity,
		EntityKey: key,
		Detail:    detail,
		At:        time.Now().UTC(),
	}); err != nil {
		return errors.Wrapf(err, "audit %s %s", entity, key)
	}
	return nil
}

// warnExcluded folds every excluded person of a phase into a single warning.
func warnExcluded(hc *HarvestContext, excluded map[string]error) {
	if len(excluded) == 0 {
		return
	}
	keys := sortedKeys(excluded)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s (%v)", k, excluded[k]))
	}
	hc.Warn("%d instructor(s) excluded: %s", len(keys), strings.Join(parts, ", "))
}

func describe(lookup map[string]string, code string) string {
	if d, ok := lookup[code]; ok && d != "" {
		return d
	}
	return code
}

func normalizeKey(k string) string {
	return strings.ToUpper(strings.TrimSpace(k))
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = normalizeKey(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func addEffort(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	sum := deref(a) + deref(b)
	return &sum
}

func copyEffort(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func intPtr(v int) *int { return &v }
