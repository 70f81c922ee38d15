package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/iota-uz/effort/modules/effort/domain/instructor"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/domain/sources"
	"github.com/iota-uz/effort/pkg/composables"
)

// Schemas names the schema each source system is replicated into.
type Schemas struct {
	Scheduling string
	Catalog    string
	Rotation   string
	Registry   string
	Directory  string
}

func DefaultSchemas() Schemas {
	return Schemas{
		Scheduling: "scheduling",
		Catalog:    "catalog",
		Rotation:   "rotation",
		Registry:   "registry",
		Directory:  "directory",
	}
}

// SourceRepository reads every source system from one database. Source reads
// never join the harvest transaction.
type SourceRepository struct {
	db      composables.Tx
	schemas Schemas
}

func NewSourceRepository(db composables.Tx, schemas Schemas) *SourceRepository {
	return &SourceRepository{db: db, schemas: schemas}
}

// Set exposes the repository as every source a harvest needs.
func (r *SourceRepository) Set() sources.Set {
	return sources.Set{
		Scheduling: r,
		Catalog:    r,
		Rotation:   r,
		Registry:   r,
		Directory:  r,
	}
}

var (
	_ sources.SchedulingSource   = (*SourceRepository)(nil)
	_ sources.CatalogSource      = (*SourceRepository)(nil)
	_ sources.RotationSource     = (*SourceRepository)(nil)
	_ sources.EmploymentRegistry = (*SourceRepository)(nil)
	_ sources.PersonDirectory    = (*SourceRepository)(nil)
)

func table(schema, name string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

func (r *SourceRepository) ListCourses(ctx context.Context, termCode term.Code) ([]sources.CourseOffering, error) {
	return r.listOfferings(ctx, table(r.schemas.Scheduling, "courses"), termCode)
}

func (r *SourceRepository) ListCatalogCourses(ctx context.Context, termCode term.Code) ([]sources.CourseOffering, error) {
	return r.listOfferings(ctx, table(r.schemas.Catalog, "courses"), termCode)
}

func (r *SourceRepository) listOfferings(ctx context.Context, from string, termCode term.Code) ([]sources.CourseOffering, error) {
	rows, err := r.db.Query(ctx, `
	SELECT crn, subject, number, section, units, enrollment, dept_code
	FROM `+from+`
	WHERE term_code = $1
	ORDER BY crn
	`, int(termCode))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", from, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (sources.CourseOffering, error) {
		var c sources.CourseOffering
		err := row.Scan(&c.CRN, &c.Subject, &c.Number, &c.Section, &c.Units, &c.Enrollment, &c.DeptCode)
		return c, err
	})
}

func (r *SourceRepository) ListSessions(ctx context.Context, termCode term.Code, crns []string) ([]sources.Session, error) {
	if len(crns) == 0 {
		return nil, nil
	}
	from := table(r.schemas.Scheduling, "sessions")
	rows, err := r.db.Query(ctx, `
	SELECT ref, crn, person_key, session_type, session_date, start_time, end_time
	FROM `+from+`
	WHERE term_code = $1 AND crn = ANY($2)
	ORDER BY crn, session_date, ref
	`, int(termCode), crns)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", from, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (sources.Session, error) {
		var s sources.Session
		var day time.Time
		if err := row.Scan(&s.Ref, &s.CRN, &s.PersonKey, &s.SessionType, &day, &s.StartTime, &s.EndTime); err != nil {
			return s, err
		}
		s.Date = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		return s, nil
	})
}

func (r *SourceRepository) ListCourseDirectors(ctx context.Context, termCode term.Code, crns []string) ([]sources.CourseDirector, error) {
	if len(crns) == 0 {
		return nil, nil
	}
	from := table(r.schemas.Scheduling, "course_directors")
	rows, err := r.db.Query(ctx, `
	SELECT crn, person_key
	FROM `+from+`
	WHERE term_code = $1 AND crn = ANY($2)
	ORDER BY crn, person_key
	`, int(termCode), crns)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", from, err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[sources.CourseDirector])
}

func (r *SourceRepository) ListInstructorsOfRecord(ctx context.Context, termCode term.Code) ([]sources.InstructorOfRecord, error) {
	from := table(r.schemas.Catalog, "instructors_of_record")
	rows, err := r.db.Query(ctx, `
	SELECT crn, person_key
	FROM `+from+`
	WHERE term_code = $1
	ORDER BY crn, person_key
	`, int(termCode))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", from, err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[sources.InstructorOfRecord])
}

func (r *SourceRepository) ListRotationWeeks(ctx context.Context, termCode term.Code) ([]sources.RotationWeek, error) {
	from := table(r.schemas.Rotation, "rotation_weeks")
	rows, err := r.db.Query(ctx, `
	SELECT person_key, subject, number, week_start
	FROM `+from+`
	WHERE term_code = $1
	ORDER BY person_key, week_start, subject, number
	`, int(termCode))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", from, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (sources.RotationWeek, error) {
		var w sources.RotationWeek
		var day time.Time
		if err := row.Scan(&w.PersonKey, &w.Subject, &w.Number, &day); err != nil {
			return w, err
		}
		w.WeekStart = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		return w, nil
	})
}

func (r *SourceRepository) ListEmployments(ctx context.Context, termCode term.Code, personKeys []string) ([]instructor.Employment, error) {
	if len(personKeys) == 0 {
		return nil, nil
	}
	from := table(r.schemas.Registry, "employments")
	rows, err := r.db.Query(ctx, `
	SELECT person_key, title_code, dept_code, is_primary
	FROM `+from+`
	WHERE term_code = $1 AND upper(person_key) = ANY($2)
	ORDER BY person_key, title_code
	`, int(termCode), upperAll(personKeys))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", from, err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[instructor.Employment])
}

func (r *SourceRepository) ListTitleCodes(ctx context.Context) (map[string]string, error) {
	return r.lookup(ctx, table(r.schemas.Registry, "title_codes"), "code", "description")
}

func (r *SourceRepository) ListDepartments(ctx context.Context) (map[string]string, error) {
	return r.lookup(ctx, table(r.schemas.Registry, "departments"), "code", "name")
}

func (r *SourceRepository) lookup(ctx context.Context, from, key, value string) (map[string]string, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s, %s FROM %s`, pq.QuoteIdentifier(key), pq.QuoteIdentifier(value), from))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", from, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (r *SourceRepository) ResolvePeople(ctx context.Context, keys []string) (map[string]sources.DirectoryPerson, error) {
	out := make(map[string]sources.DirectoryPerson)
	if len(keys) == 0 {
		return out, nil
	}
	from := table(r.schemas.Directory, "people")
	rows, err := r.db.Query(ctx, `
	SELECT person_id, person_key, first_name, last_name
	FROM `+from+`
	WHERE upper(person_key) = ANY($1)
	`, upperAll(keys))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", from, err)
	}
	people, err := pgx.CollectRows(rows, pgx.RowToStructByPos[sources.DirectoryPerson])
	if err != nil {
		return nil, err
	}
	for _, p := range people {
		out[strings.ToUpper(p.PersonKey)] = p
	}
	return out, nil
}

func upperAll(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.ToUpper(strings.TrimSpace(k))
	}
	return out
}
