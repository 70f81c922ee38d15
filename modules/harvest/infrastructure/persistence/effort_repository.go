package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/pkg/composables"
)

const lockNamespace = "effort_harvest:"

// EffortRepository stores harvested people, courses and effort records. It runs
// every statement on the transaction carried by the context.
type EffortRepository struct{}

func NewEffortRepository() *EffortRepository {
	return &EffortRepository{}
}

var _ entities.Repository = (*EffortRepository)(nil)

func (r *EffortRepository) LockTerm(ctx context.Context, termCode term.Code) error {
	tx, err := composables.UseStrictTx(ctx)
	if err != nil {
		return fmt.Errorf("lock term %s: %w", termCode, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockNamespace+termCode.String()); err != nil {
		return fmt.Errorf("lock term %s: %w", termCode, err)
	}
	return nil
}

func (r *EffortRepository) ListPeople(ctx context.Context, termCode term.Code) ([]entities.Person, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
	SELECT person_id, person_key, first_name, last_name, title_code, title_description, dept_code, dept_name
	FROM effort_persons
	WHERE term_code = $1
	ORDER BY person_id
	`, int(termCode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Person
	for rows.Next() {
		p := entities.Person{TermCode: termCode}
		if err := rows.Scan(&p.PersonID, &p.PersonKey, &p.FirstName, &p.LastName, &p.TitleCode, &p.TitleDescription, &p.DeptCode, &p.DeptName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *EffortRepository) ListCourses(ctx context.Context, termCode term.Code) ([]entities.Course, error) {
	return r.queryCourses(ctx, `WHERE term_code = $1 ORDER BY id`, int(termCode))
}

func (r *EffortRepository) ListRecords(ctx context.Context, termCode term.Code) ([]entities.EffortRecord, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
	SELECT id, person_id, course_id, effort_type, role, hours, weeks
	FROM effort_records
	WHERE term_code = $1
	ORDER BY id
	`, int(termCode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.EffortRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.TermCode = termCode
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *EffortRepository) PersonExists(ctx context.Context, termCode term.Code, personID int) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `
	SELECT EXISTS (SELECT 1 FROM effort_persons WHERE term_code = $1 AND person_id = $2)
	`, int(termCode), personID).Scan(&exists)
	return exists, err
}

func (r *EffortRepository) PersonIDByKey(ctx context.Context, termCode term.Code, personKey string) (int, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, false, err
	}
	var id int
	err = tx.QueryRow(ctx, `
	SELECT person_id FROM effort_persons WHERE term_code = $1 AND person_key = $2
	`, int(termCode), personKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *EffortRepository) CreatePerson(ctx context.Context, p entities.Person) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
	INSERT INTO effort_persons (term_code, person_id, person_key, first_name, last_name, title_code, title_description, dept_code, dept_name)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, int(p.TermCode), p.PersonID, p.PersonKey, p.FirstName, p.LastName, p.TitleCode, p.TitleDescription, p.DeptCode, p.DeptName)
	if err != nil {
		return mapWriteError(fmt.Sprintf("create person %s", p.PersonKey), err)
	}
	return nil
}

func (r *EffortRepository) FindCourseByCRN(ctx context.Context, termCode term.Code, crn string) (entities.Course, bool, error) {
	courses, err := r.queryCourses(ctx, `WHERE term_code = $1 AND crn = $2`, int(termCode), crn)
	if err != nil || len(courses) == 0 {
		return entities.Course{}, false, err
	}
	return courses[0], true, nil
}

func (r *EffortRepository) FindCoursesByKeyPrefix(ctx context.Context, termCode term.Code, prefix string) ([]entities.Course, error) {
	return r.queryCourses(ctx, `WHERE term_code = $1 AND left(natural_key, length($2)) = $2 ORDER BY id`, int(termCode), prefix)
}

func (r *EffortRepository) CreateCourse(ctx context.Context, c entities.Course) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	crn := pgtype.Text{String: c.CRN, Valid: c.CRN != ""}
	var id int
	err = tx.QueryRow(ctx, `
	INSERT INTO effort_courses (term_code, crn, subject, number, section, units, enrollment, dept_code, natural_key)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id
	`, int(c.TermCode), crn, c.Subject, c.Number, c.Section, c.Units, c.Enrollment, c.DeptCode, c.NaturalKey()).Scan(&id)
	if err != nil {
		return 0, mapWriteError(fmt.Sprintf("create course %s", c.NaturalKey()), err)
	}
	return id, nil
}

func (r *EffortRepository) FindRecord(ctx context.Context, termCode term.Code, key entities.RecordKey) (entities.EffortRecord, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return entities.EffortRecord{}, false, err
	}
	row := tx.QueryRow(ctx, `
	SELECT id, person_id, course_id, effort_type, role, hours, weeks
	FROM effort_records
	WHERE term_code = $1 AND person_id = $2 AND course_id = $3 AND effort_type = $4 AND role = $5
	`, int(termCode), key.PersonID, key.CourseID, string(key.EffortType), string(key.Role))
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.EffortRecord{}, false, nil
	}
	if err != nil {
		return entities.EffortRecord{}, false, err
	}
	rec.TermCode = termCode
	return rec, true, nil
}

func (r *EffortRepository) CreateRecord(ctx context.Context, rec entities.EffortRecord) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var id int
	err = tx.QueryRow(ctx, `
	INSERT INTO effort_records (term_code, person_id, course_id, effort_type, role, hours, weeks)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id
	`, int(rec.TermCode), rec.PersonID, rec.CourseID, string(rec.EffortType), string(rec.Role), rec.Hours, rec.Weeks).Scan(&id)
	if err != nil {
		return 0, mapWriteError(fmt.Sprintf("create effort record %+v", rec.Key()), err)
	}
	return id, nil
}

// AddRecordEffort adds to a record's hours and weeks. A NULL column stays NULL
// unless a non-zero amount is added to it.
func (r *EffortRepository) AddRecordEffort(ctx context.Context, recordID int, hours, weeks int) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
	UPDATE effort_records SET
		hours = CASE WHEN hours IS NULL AND $2 = 0 THEN NULL ELSE COALESCE(hours, 0) + $2 END,
		weeks = CASE WHEN weeks IS NULL AND $3 = 0 THEN NULL ELSE COALESCE(weeks, 0) + $3 END,
		updated_at = now()
	WHERE id = $1
	`, recordID, hours, weeks)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %d", entities.ErrRecordNotFound, recordID)
	}
	return nil
}

func (r *EffortRepository) AppendAudit(ctx context.Context, entry entities.AuditEntry) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	detail := entry.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = tx.Exec(ctx, `
	INSERT INTO effort_audits (term_code, run_id, actor_id, action, entity, entity_key, detail, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`, int(entry.TermCode), pgUUID(entry.RunID), pgUUID(entry.Actor), entry.Action, entry.Entity, entry.EntityKey, detailJSON, pgTimestamptz(entry.At))
	return err
}

func (r *EffortRepository) queryCourses(ctx context.Context, where string, args ...any) ([]entities.Course, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
	SELECT id, term_code, crn, subject, number, section, units, enrollment, dept_code
	FROM effort_courses
	`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Course
	for rows.Next() {
		var (
			c        entities.Course
			termCode int
			crn      pgtype.Text
		)
		if err := rows.Scan(&c.ID, &termCode, &crn, &c.Subject, &c.Number, &c.Section, &c.Units, &c.Enrollment, &c.DeptCode); err != nil {
			return nil, err
		}
		c.TermCode = term.Code(termCode)
		c.CRN = crn.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (entities.EffortRecord, error) {
	var (
		rec              entities.EffortRecord
		effortType, role string
		hours, weeks     pgtype.Int4
	)
	if err := row.Scan(&rec.ID, &rec.PersonID, &rec.CourseID, &effortType, &role, &hours, &weeks); err != nil {
		return entities.EffortRecord{}, err
	}
	rec.EffortType = entities.EffortType(effortType)
	rec.Role = entities.Role(role)
	rec.Hours = intFromPg(hours)
	rec.Weeks = intFromPg(weeks)
	return rec, nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w (%s)", op, entities.ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}
