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
	PhaseCatalog = "catalog"
	OrderCatalog = 20
)

// CatalogPhase picks up catalog courses the scheduling system does not track,
// such as independent study and variable-unit courses. It knows who teaches
// them but not how much, so its records carry zero effort.
type CatalogPhase struct {
	phaseBase
}

func NewCatalogPhase(repo entities.Repository, src sources.Set, policy *Policy) *CatalogPhase {
	return &CatalogPhase{phaseBase{name: PhaseCatalog, order: OrderCatalog, repo: repo, sources: src, policy: policy}}
}

func (p *CatalogPhase) ShouldExecute(term.Code) bool { return true }

func (p *CatalogPhase) GeneratePreview(ctx context.Context, hc *HarvestContext) error {
	if err := p.checkMode(hc, ModePreview); err != nil {
		return err
	}
	return p.run(ctx, hc)
}

func (p *CatalogPhase) Execute(ctx context.Context, hc *HarvestContext) error {
	if err := p.checkMode(hc, ModeExecute); err != nil {
		return err
	}
	return p.run(ctx, hc)
}

// qualifies reports whether a catalog course carries teaching effort. Rotation
// numbers are not excluded here: a unit-bearing catalog section of one is still
// taught by its instructor of record.
func (p *CatalogPhase) qualifies(o sources.CourseOffering) bool {
	if o.Enrollment > 0 && o.Units > 0 {
		return true
	}
	return p.policy.IsResearchCourse(o.Number)
}

func (p *CatalogPhase) effortType(o sources.CourseOffering) entities.EffortType {
	if p.policy.IsResearchCourse(o.Number) {
		return entities.EffortTypeResearch
	}
	return entities.EffortTypeVariable
}

func (p *CatalogPhase) run(ctx context.Context, hc *HarvestContext) error {
	log := hc.Logger()

	offerings, err := p.sources.Catalog.ListCatalogCourses(ctx, hc.TermCode)
	if err != nil {
		return errors.Wrap(err, "list catalog courses")
	}
	sort.SliceStable(offerings, func(i, j int) bool {
		return courseFromOffering(offerings[i]).NaturalKey() < courseFromOffering(offerings[j]).NaturalKey()
	})

	section := hc.Preview.Source(p.name)
	included := make(map[string]sources.CourseOffering)
	var courses []entities.Course
	seen := make(map[string]bool, len(offerings))
	for _, o := range offerings {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := courseFromOffering(o)
		ref := c.CRN
		if ref == "" {
			ref = c.NaturalKey()
		}
		if seen[ref] || !p.qualifies(o) {
			continue
		}
		seen[ref] = true

		if phase, covered := hc.claimedBy(c); covered {
			item := previewCourse(c, p.name, false)
			item.AlreadyCovered = true
			item.CoveredBy = phase
			section.Courses = append(section.Courses, item)
			log.WithFields(logrus.Fields{"course": c.NaturalKey(), "covered_by": phase}).Debug("harvest.catalog.already_covered")
			continue
		}
		if c.CRN != "" {
			included[c.CRN] = o
		}
		courses = append(courses, c)
	}

	assignments, err := p.sources.Catalog.ListInstructorsOfRecord(ctx, hc.TermCode)
	if err != nil {
		return errors.Wrap(err, "list instructors of record")
	}
	var (
		keys       []string
		candidates []recordCandidate
		pairs      = make(map[string]bool)
	)
	for _, a := range assignments {
		crn := strings.TrimSpace(a.CRN)
		o, ok := included[crn]
		if !ok {
			continue
		}
		key := normalizeKey(a.PersonKey)
		if key == "" || pairs[crn+"/"+key] {
			continue
		}
		pairs[crn+"/"+key] = true
		keys = append(keys, key)
		candidates = append(candidates, recordCandidate{
			PersonKey:  key,
			CRN:        crn,
			Subject:    o.Subject,
			Number:     o.Number,
			Section:    o.Section,
			EffortType: p.effortType(o),
			Role:       entities.RoleInstructor,
			Hours:      intPtr(0),
			Weeks:      intPtr(0),
		})
	}

	people, excluded, err := p.resolveInstructors(ctx, hc, keys, instructor.PreferPrimary)
	if err != nil {
		return err
	}
	warnExcluded(hc, excluded)

	records := candidates[:0]
	for _, rc := range candidates {
		if _, skip := excluded[rc.PersonKey]; !skip {
			records = append(records, rc)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].PersonKey != records[j].PersonKey {
			return records[i].PersonKey < records[j].PersonKey
		}
		return records[i].CRN < records[j].CRN
	})

	hc.expect(len(people), len(courses), len(records))
	log.WithFields(logrus.Fields{
		"courses":     len(courses),
		"instructors": len(people),
		"excluded":    len(excluded),
		"records":     len(records),
	}).Info("harvest.catalog.loaded")

	for _, c := range courses {
		if _, err := p.importCourse(ctx, hc, c); err != nil {
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
