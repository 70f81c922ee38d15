package services

import (
	"context"
	"strings"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
)

// termView answers "is this already in the target term?". Preview runs against
// a snapshot read once; execute asks the repository every time so it never
// trusts an earlier preview.
type termView interface {
	personExists(ctx context.Context, personID int) (bool, error)
	personIDByKey(ctx context.Context, key string) (int, bool, error)
	courseByCRN(ctx context.Context, crn string) (int, bool, error)
	courseByKey(ctx context.Context, key, prefix string) (int, bool, error)
	coursesByPrefix(ctx context.Context, prefix string) ([]int, error)
	recordByKey(ctx context.Context, key entities.RecordKey) (int, bool, error)

	// planned* make candidates visible to later lookups of a dry run.
	plannedPerson(personID int)
	plannedCourse(c entities.Course) int
}

type storeView struct {
	repo     entities.Repository
	termCode term.Code
}

func (v *storeView) personExists(ctx context.Context, personID int) (bool, error) {
	return v.repo.PersonExists(ctx, v.termCode, personID)
}

func (v *storeView) personIDByKey(ctx context.Context, key string) (int, bool, error) {
	return v.repo.PersonIDByKey(ctx, v.termCode, key)
}

func (v *storeView) courseByCRN(ctx context.Context, crn string) (int, bool, error) {
	c, found, err := v.repo.FindCourseByCRN(ctx, v.termCode, crn)
	if err != nil || !found {
		return 0, false, err
	}
	return c.ID, true, nil
}

func (v *storeView) courseByKey(ctx context.Context, key, prefix string) (int, bool, error) {
	courses, err := v.repo.FindCoursesByKeyPrefix(ctx, v.termCode, prefix)
	if err != nil {
		return 0, false, err
	}
	for _, c := range courses {
		if c.NaturalKey() == key {
			return c.ID, true, nil
		}
	}
	return 0, false, nil
}

func (v *storeView) coursesByPrefix(ctx context.Context, prefix string) ([]int, error) {
	courses, err := v.repo.FindCoursesByKeyPrefix(ctx, v.termCode, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(courses))
	for _, c := range courses {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (v *storeView) recordByKey(ctx context.Context, key entities.RecordKey) (int, bool, error) {
	r, found, err := v.repo.FindRecord(ctx, v.termCode, key)
	if err != nil || !found {
		return 0, false, err
	}
	return r.ID, true, nil
}

func (v *storeView) plannedPerson(int) {}

func (v *storeView) plannedCourse(entities.Course) int { return 0 }

type snapshotView struct {
	people          map[int]entities.Person
	existingCourses []entities.Course
	courses         []entities.Course
	records         map[entities.RecordKey]int

	plannedPeople map[int]bool
	nextPseudoID  int
}

func loadSnapshot(ctx context.Context, repo entities.Repository, termCode term.Code) (*snapshotView, error) {
	people, err := repo.ListPeople(ctx, termCode)
	if err != nil {
		return nil, err
	}
	courses, err := repo.ListCourses(ctx, termCode)
	if err != nil {
		return nil, err
	}
	records, err := repo.ListRecords(ctx, termCode)
	if err != nil {
		return nil, err
	}

	v := &snapshotView{
		people:          make(map[int]entities.Person, len(people)),
		existingCourses: courses,
		courses:         append([]entities.Course(nil), courses...),
		records:         make(map[entities.RecordKey]int, len(records)),
		plannedPeople:   make(map[int]bool),
	}
	for _, p := range people {
		v.people[p.PersonID] = p
	}
	for _, r := range records {
		v.records[r.Key()] = r.ID
	}
	return v, nil
}

func (v *snapshotView) personExists(_ context.Context, personID int) (bool, error) {
	_, ok := v.people[personID]
	return ok || v.plannedPeople[personID], nil
}

func (v *snapshotView) personIDByKey(_ context.Context, key string) (int, bool, error) {
	for id, p := range v.people {
		if p.PersonKey == key {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (v *snapshotView) courseByCRN(_ context.Context, crn string) (int, bool, error) {
	for _, c := range v.courses {
		if c.CRN == crn {
			return c.ID, true, nil
		}
	}
	return 0, false, nil
}

func (v *snapshotView) courseByKey(_ context.Context, key, _ string) (int, bool, error) {
	for _, c := range v.courses {
		if c.NaturalKey() == key {
			return c.ID, true, nil
		}
	}
	return 0, false, nil
}

func (v *snapshotView) coursesByPrefix(_ context.Context, prefix string) ([]int, error) {
	var ids []int
	for _, c := range v.courses {
		if strings.HasPrefix(c.NaturalKey(), prefix) {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (v *snapshotView) recordByKey(_ context.Context, key entities.RecordKey) (int, bool, error) {
	id, ok := v.records[key]
	return id, ok, nil
}

func (v *snapshotView) plannedPerson(personID int) {
	v.plannedPeople[personID] = true
}

// plannedCourse hands out negative ids so dry-run records can still be keyed.
func (v *snapshotView) plannedCourse(c entities.Course) int {
	v.nextPseudoID--
	c.ID = v.nextPseudoID
	v.courses = append(v.courses, c)
	return c.ID
}
