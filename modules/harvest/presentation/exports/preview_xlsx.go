// Package exports renders harvest previews for review outside the CLI.
package exports

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/effort/modules/harvest/services"
)

const (
	summarySheet  = "Summary"
	removalsSheet = "Removals"
	messagesSheet = "Warnings"
)

var (
	instructorHeader = []any{"Person key", "Person ID", "Name", "Title", "Department", "New"}
	courseHeader     = []any{"CRN", "Course", "Section", "Units", "Enrollment", "Department", "New", "Covered by"}
	recordHeader     = []any{"Person key", "Course", "CRN", "Effort type", "Role", "Hours", "Weeks", "New"}
)

// WritePreviewXLSX writes one sheet per source plus a summary, the removals and
// the warnings of p.
func WritePreviewXLSX(w io.Writer, p *services.Preview) error {
	if p == nil {
		return errors.New("nil preview")
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	wb := &workbook{f: f}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "create header style")
	}
	wb.header = bold

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return errors.Wrap(err, "rename default sheet")
	}
	wb.writeSummary(p)
	for _, s := range p.Sources {
		wb.writeSource(s)
	}
	wb.writeRemovals(p)
	wb.writeMessages(p)
	if wb.err != nil {
		return wb.err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "write workbook")
	}
	return nil
}

// workbook keeps the first error so the writers can be called unconditionally.
type workbook struct {
	f      *excelize.File
	header int
	err    error
}

func (wb *workbook) newSheet(name string) string {
	if wb.err != nil {
		return name
	}
	if _, err := wb.f.NewSheet(name); err != nil {
		wb.err = errors.Wrapf(err, "create sheet %s", name)
	}
	return name
}

func (wb *workbook) row(sheet string, n int, values []any) {
	if wb.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err == nil {
		err = wb.f.SetSheetRow(sheet, cell, &values)
	}
	if err != nil {
		wb.err = errors.Wrapf(err, "write %s row %d", sheet, n)
	}
}

func (wb *workbook) headerRow(sheet string, n int, values []any) {
	wb.row(sheet, n, values)
	if wb.err != nil {
		return
	}
	if err := wb.f.SetRowStyle(sheet, n, n, wb.header); err != nil {
		wb.err = errors.Wrapf(err, "style %s row %d", sheet, n)
	}
}

func (wb *workbook) writeSummary(p *services.Preview) {
	totals := p.Totals()
	rows := [][]any{
		{"Term", p.TermCode.String(), p.TermName},
		{"Generated at", p.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		{"New instructors", totals.NewInstructors},
		{"New courses", totals.NewCourses},
		{"New records", totals.NewRecords},
		{"Warnings", len(p.Warnings)},
	}
	for i, r := range rows {
		wb.row(summarySheet, i+1, r)
	}
}

func (wb *workbook) writeSource(s *services.SourcePreview) {
	sheet := wb.newSheet(sheetName(s.Name))
	n := 1
	section := func(title string, header []any) {
		if n > 1 {
			n++
		}
		wb.headerRow(sheet, n, []any{title})
		wb.headerRow(sheet, n+1, header)
		n += 2
	}

	section("Instructors", instructorHeader)
	for _, i := range s.Instructors {
		wb.row(sheet, n, []any{i.PersonKey, i.PersonID, i.Name, i.TitleDescription, i.DeptName, yesNo(i.IsNew)})
		n++
	}
	section("Courses", courseHeader)
	for _, c := range s.Courses {
		wb.row(sheet, n, courseRow(c))
		n++
	}
	section("Effort records", recordHeader)
	for _, r := range s.Records {
		wb.row(sheet, n, []any{r.PersonKey, r.CourseCode, r.CRN, string(r.EffortType), string(r.Role), optional(r.Hours), optional(r.Weeks), yesNo(r.IsNew)})
		n++
	}
}

func (wb *workbook) writeRemovals(p *services.Preview) {
	sheet := wb.newSheet(removalsSheet)
	wb.headerRow(sheet, 1, []any{"Instructors no longer derived"})
	wb.headerRow(sheet, 2, instructorHeader)
	n := 3
	for _, i := range p.RemovedInstructors {
		wb.row(sheet, n, []any{i.PersonKey, i.PersonID, i.Name, i.TitleDescription, i.DeptName, yesNo(i.IsNew)})
		n++
	}
	n++
	wb.headerRow(sheet, n, []any{"Courses no longer derived"})
	wb.headerRow(sheet, n+1, courseHeader)
	n += 2
	for _, c := range p.RemovedCourses {
		wb.row(sheet, n, courseRow(c))
		n++
	}
}

func (wb *workbook) writeMessages(p *services.Preview) {
	sheet := wb.newSheet(messagesSheet)
	wb.headerRow(sheet, 1, []any{"Kind", "Message"})
	n := 2
	for _, w := range p.Warnings {
		wb.row(sheet, n, []any{"warning", w})
		n++
	}
	for _, m := range p.Notices {
		wb.row(sheet, n, []any{"notice", m})
		n++
	}
}

func courseRow(c services.PreviewCourse) []any {
	return []any{c.CRN, c.Code(), c.Section, c.Units, c.Enrollment, c.DeptCode, yesNo(c.IsNew), c.CoveredBy}
}

// sheetName makes a source name usable as a sheet title (max 31 chars, no []:*?/\).
func sheetName(name string) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, name)
	if clean == "" {
		clean = "source"
	}
	if len(clean) > 31 {
		clean = clean[:31]
	}
	return strings.ToUpper(clean[:1]) + clean[1:]
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func optional(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(*v)
}
