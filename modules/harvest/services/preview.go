package services

import (
	"time"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
)

type PreviewPerson struct {
	PersonKey        string `json:"person_key"`
	PersonID         int    `json:"person_id"`
	Name             string `json:"name"`
	TitleCode        string `json:"title_code"`
	TitleDescription string `json:"title_description"`
	DeptCode         string `json:"dept_code"`
	DeptName         string `json:"dept_name"`
	Source           string `json:"source"`
	IsNew            bool   `json:"is_new"`
}

type PreviewCourse struct {
	CRN            string  `json:"crn,omitempty"`
	Subject        string  `json:"subject"`
	Number         string  `json:"number"`
	Section        string  `json:"section"`
	Units          float64 `json:"units"`
	Enrollment     int     `json:"enrollment"`
	DeptCode       string  `json:"dept_code,omitempty"`
	Source         string  `json:"source"`
	IsNew          bool    `json:"is_new"`
	AlreadyCovered bool    `json:"already_covered,omitempty"`
	CoveredBy      string  `json:"covered_by,omitempty"`
}

func (c PreviewCourse) Code() string { return entities.CourseCode(c.Subject, c.Number) }

type PreviewRecord struct {
	PersonKey  string              `json:"person_key"`
	CourseCode string              `json:"course_code"`
	CRN        string              `json:"crn,omitempty"`
	EffortType entities.EffortType `json:"effort_type"`
	Role       entities.Role       `json:"role"`
	Hours      *int                `json:"hours,omitempty"`
	Weeks      *int                `json:"weeks,omitempty"`
	Source     string              `json:"source"`
	IsNew      bool                `json:"is_new"`
}

// SourcePreview is what one phase would write.
type SourcePreview struct {
	Name        string          `json:"name"`
	Instructors []PreviewPerson `json:"instructors"`
	Courses     []PreviewCourse `json:"courses"`
	Records     []PreviewRecord `json:"records"`
}

// Preview forecasts every write of an execute run over the same source data.
type Preview struct {
	TermCode    term.Code        `json:"term_code"`
	TermName    string           `json:"term_name"`
	GeneratedAt time.Time        `json:"generated_at"`
	Sources     []*SourcePreview `json:"sources"`

	// Present in the term but not derived by this run.
	RemovedInstructors []PreviewPerson `json:"removed_instructors"`
	RemovedCourses     []PreviewCourse `json:"removed_courses"`

	Warnings []string `json:"warnings"`
	Notices  []string `json:"notices"`
}

func newPreview(termCode term.Code) *Preview {
	return &Preview{
		TermCode:    termCode,
		TermName:    termCode.Description(),
		GeneratedAt: time.Now().UTC(),
	}
}

// Source returns the section for name, creating it on first use.
func (p *Preview) Source(name string) *SourcePreview {
	for _, s := range p.Sources {
		if s.Name == name {
			return s
		}
	}
	s := &SourcePreview{Name: name}
	p.Sources = append(p.Sources, s)
	return s
}

type PreviewTotals struct {
	NewInstructors int `json:"new_instructors"`
	NewCourses     int `json:"new_courses"`
	NewRecords     int `json:"new_records"`
}

func (p *Preview) Totals() PreviewTotals {
	var t PreviewTotals
	for _, s := range p.Sources {
		for _, i := range s.Instructors {
			if i.IsNew {
				t.NewInstructors++
			}
		}
		for _, c := range s.Courses {
			if c.IsNew {
				t.NewCourses++
			}
		}
		for _, r := range s.Records {
			if r.IsNew {
				t.NewRecords++
			}
		}
	}
	return t
}
