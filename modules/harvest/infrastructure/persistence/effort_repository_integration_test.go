package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/infrastructure/persistence"
	"github.com/iota-uz/effort/pkg/composables"
	"github.com/iota-uz/effort/pkg/itf"
)

const fallTerm = term.Code(202409)

func intPtr(v int) *int { return &v }

func TestEffortRepository_RoundTrip(t *testing.T) {
	env := itf.Setup(t)
	ctx := env.Ctx
	repo := persistence.NewEffortRepository()

	require.NoError(t, repo.LockTerm(ctx, fallTerm))

	person := entities.Person{PersonID: 101, PersonKey: "AKIM", TermCode: fallTerm, FirstName: "Ada", LastName: "Kim", TitleCode: "1100", DeptCode: "VME"}
	require.NoError(t, repo.CreatePerson(ctx, person))
	err := repo.CreatePerson(ctx, person)
	require.ErrorIs(t, err, entities.ErrDuplicate)
}

func TestEffortRepository_CoursesAndRecords(t *testing.T) {
	env := itf.Setup(t)
	ctx := env.Ctx
	repo := persistence.NewEffortRepository()

	require.NoError(t, repo.CreatePerson(ctx, entities.Person{PersonID: 101, PersonKey: "AKIM", TermCode: fallTerm}))
	ok, err := repo.PersonExists(ctx, fallTerm, 101)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.PersonExists(ctx, fallTerm+1, 101)
	require.NoError(t, err)
	assert.False(t, ok)
	personID, stored, err := repo.PersonIDByKey(ctx, fallTerm, "AKIM")
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, 101, personID)
	_, stored, err = repo.PersonIDByKey(ctx, fallTerm, "NOBODY")
	require.NoError(t, err)
	assert.False(t, stored)

	lecture := entities.Course{TermCode: fallTerm, CRN: "10001", Subject: "VME", Number: "401", Section: "001", Units: 4, Enrollment: 30, DeptCode: "VME"}
	lectureID, err := repo.CreateCourse(ctx, lecture)
	require.NoError(t, err)
	rotation := entities.Course{TermCode: fallTerm, Subject: "VET", Number: "410", Section: "CLN"}
	rotationID, err := repo.CreateCourse(ctx, rotation)
	require.NoError(t, err)

	_, err = repo.CreateCourse(ctx, entities.Course{TermCode: fallTerm, CRN: "10001", Subject: "X", Number: "1", Section: "1"})
	require.ErrorIs(t, err, entities.ErrDuplicate)

	found, ok, err := repo.FindCourseByCRN(ctx, fallTerm, "10001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lectureID, found.ID)
	assert.Equal(t, 4.0, found.Units)

	_, ok, err = repo.FindCourseByCRN(ctx, fallTerm, "99999")
	require.NoError(t, err)
	assert.False(t, ok)

	byPrefix, err := repo.FindCoursesByKeyPrefix(ctx, fallTerm, entities.CourseKeyPrefix("VET", "410", "CLN"))
	require.NoError(t, err)
	require.Len(t, byPrefix, 1)
	assert.Equal(t, rotationID, byPrefix[0].ID)
	assert.Empty(t, byPrefix[0].CRN)

	// LIKE metacharacters in the prefix match literally
	byPrefix, err = repo.FindCoursesByKeyPrefix(ctx, fallTerm, "VET|4_0|")
	require.NoError(t, err)
	assert.Empty(t, byPrefix)

	rec := entities.EffortRecord{TermCode: fallTerm, PersonID: 101, CourseID: rotationID, EffortType: entities.EffortTypeClinical, Role: entities.RoleInstructor, Weeks: intPtr(2)}
	recID, err := repo.CreateRecord(ctx, rec)
	require.NoError(t, err)
	_, err = repo.CreateRecord(ctx, rec)
	require.ErrorIs(t, err, entities.ErrDuplicate)

	require.NoError(t, repo.AddRecordEffort(ctx, recID, 0, 3))
	got, ok, err := repo.FindRecord(ctx, fallTerm, rec.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.Hours)
	require.NotNil(t, got.Weeks)
	assert.Equal(t, 5, *got.Weeks)

	require.ErrorIs(t, repo.AddRecordEffort(ctx, recID+100, 1, 0), entities.ErrRecordNotFound)

	people, err := repo.ListPeople(ctx, fallTerm)
	require.NoError(t, err)
	require.Len(t, people, 1)
	courses, err := repo.ListCourses(ctx, fallTerm)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	records, err := repo.ListRecords(ctx, fallTerm)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, repo.AppendAudit(ctx, entities.AuditEntry{
		TermCode:  fallTerm,
		RunID:     uuid.New(),
		Actor:     uuid.New(),
		Action:    "create",
		Entity:    "record",
		EntityKey: "AKIM|VET 410",
		Detail:    map[string]any{"phase": "clinical"},
		At:        time.Now(),
	}))
	var audits int
	require.NoError(t, env.Tx.QueryRow(ctx, `SELECT count(*) FROM effort_audits WHERE detail->>'phase' = 'clinical'`).Scan(&audits))
	assert.Equal(t, 1, audits)
}

func TestEffortRepository_LockTermNeedsTransaction(t *testing.T) {
	env := itf.Setup(t)
	ctx := composables.WithPool(context.Background(), env.Pool)
	err := persistence.NewEffortRepository().LockTerm(ctx, fallTerm)
	require.ErrorIs(t, err, composables.ErrNoTx)
}
