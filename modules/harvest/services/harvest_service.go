package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/domain/sources"
	"github.com/iota-uz/effort/pkg/composables"
	"github.com/iota-uz/effort/pkg/constants"
	"github.com/iota-uz/effort/pkg/eventbus"
)

var tracer = otel.Tracer("effort-harvest")

var ErrDuplicatePhaseOrder = errors.New("duplicate phase order")

type ExecuteRequest struct {
	TermCode term.Code `validate:"required"`
	Actor    uuid.UUID `validate:"required"`
}

type HarvestService struct {
	sources       sources.Set
	repo          entities.Repository
	policy        *Policy
	bus           eventbus.EventBus
	phases        []Phase
	progressEvery int
}

type Option func(*HarvestService)

// WithProgressEvery sets how many handled items pass between progress events.
func WithProgressEvery(n int) Option {
	return func(s *HarvestService) {
		if n > 0 {
			s.progressEvery = n
		}
	}
}

// WithPhases replaces the default phase set.
func WithPhases(phases ...Phase) Option {
	return func(s *HarvestService) {
		s.phases = phases
	}
}

func NewHarvestService(src sources.Set, repo entities.Repository, policy *Policy, bus eventbus.EventBus, opts ...Option) (*HarvestService, error) {
	if repo == nil {
		return nil, errors.New("harvest: repository is required")
	}
	if src.Registry == nil || src.Directory == nil {
		return nil, errors.New("harvest: employment registry and person directory are required")
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	s := &HarvestService{
		sources:       src,
		repo:          repo,
		policy:        policy,
		bus:           bus,
		progressEvery: defaultProgressEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.phases == nil {
		if src.Scheduling == nil || src.Catalog == nil || src.Rotation == nil {
			return nil, errors.New("harvest: scheduling, catalog and rotation sources are required")
		}
		s.phases = []Phase{
			NewSchedulingPhase(repo, src, policy),
			NewCatalogPhase(repo, src, policy),
			NewClinicalPhase(repo, src, policy),
			NewGuestPhase(repo, src, policy),
		}
	}

	s.phases = append([]Phase(nil), s.phases...)
	sort.SliceStable(s.phases, func(i, j int) bool { return s.phases[i].Order() < s.phases[j].Order() })
	for i := 1; i < len(s.phases); i++ {
		if s.phases[i].Order() == s.phases[i-1].Order() {
			return nil, fmt.Errorf("%w: %s and %s both use %d", ErrDuplicatePhaseOrder, s.phases[i-1].Name(), s.phases[i].Name(), s.phases[i].Order())
		}
	}
	return s, nil
}

// Phases lists the configured phases in execution order.
func (s *HarvestService) Phases() []Phase {
	return append([]Phase(nil), s.phases...)
}

// Preview forecasts an execute run for termCode without writing anything.
func (s *HarvestService) Preview(ctx context.Context, termCode term.Code) (*Preview, error) {
	if !termCode.Valid() {
		return nil, fmt.Errorf("%w: %d", term.ErrInvalidCode, termCode)
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "harvest.preview", trace.WithAttributes(attribute.Int("harvest.term", int(termCode))))
	defer span.End()

	hc := s.newContext(ctx, termCode, uuid.Nil, ModePreview)
	preview, err := s.preview(ctx, hc)
	s.observe(ModePreview, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		hc.Logger().WithError(err).Error("harvest.preview.failed")
		return nil, err
	}
	hc.Logger().WithFields(logrus.Fields{
		"warnings": len(preview.Warnings),
		"sources":  len(preview.Sources),
	}).Info("harvest.preview.completed")
	return preview, nil
}

func (s *HarvestService) preview(ctx context.Context, hc *HarvestContext) (*Preview, error) {
	if err := s.loadLookups(ctx, hc); err != nil {
		return nil, err
	}
	snap, err := loadSnapshot(ctx, s.repo, hc.TermCode)
	if err != nil {
		return nil, errors.Wrap(err, "load target term")
	}
	hc.view = snap

	for _, phase := range s.phases {
		if !phase.ShouldExecute(hc.TermCode) {
			hc.Notice("phase %s does not apply to %s; skipped", phase.Name(), hc.TermCode.Description())
			continue
		}
		if err := s.runPhase(ctx, hc, phase, phase.GeneratePreview); err != nil {
			return nil, err
		}
	}

	markRemovals(hc, snap)
	hc.Preview.Warnings = append([]string{}, hc.Warnings...)
	hc.Preview.Notices = append([]string{}, hc.Notices...)
	return hc.Preview, nil
}

// Execute writes the harvest of req.TermCode. It does not open a transaction;
// callers wrap it in one so that a failed run leaves nothing behind.
func (s *HarvestService) Execute(ctx context.Context, req ExecuteRequest, progress ProgressFunc) (*Summary, error) {
	if err := constants.Validate.Struct(req); err != nil {
		return nil, err
	}
	if !req.TermCode.Valid() {
		return nil, fmt.Errorf("%w: %d", term.ErrInvalidCode, req.TermCode)
	}
	start := time.Now()
	ctx, span := tracer.Start(ctx, "harvest.execute", trace.WithAttributes(
		attribute.Int("harvest.term", int(req.TermCode)),
		attribute.String("harvest.actor", req.Actor.String()),
	))
	defer span.End()

	hc := s.newContext(ctx, req.TermCode, req.Actor, ModeExecute)
	hc.Progress = func(ev ProgressEvent) {
		if s.bus != nil {
			s.bus.Publish(ev)
		}
		if progress != nil {
			progress(ev)
		}
	}
	span.SetAttributes(attribute.String("harvest.run_id", hc.RunID.String()))

	summary, err := s.execute(ctx, hc)
	s.observe(ModeExecute, start, err)
	hc.finish(summary, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		hc.Logger().WithError(err).Error("harvest.execute.failed")
		return nil, err
	}
	hc.Logger().WithFields(logrus.Fields{
		"instructors_created": summary.InstructorsCreated,
		"courses_created":     summary.CoursesCreated,
		"records_created":     summary.RecordsCreated,
		"records_merged":      summary.RecordsMerged,
		"warnings":            len(summary.Warnings),
	}).Info("harvest.execute.completed")
	return summary, nil
}

func (s *HarvestService) execute(ctx context.Context, hc *HarvestContext) (*Summary, error) {
	if err := s.repo.LockTerm(ctx, hc.TermCode); err != nil {
		return nil, errors.Wrap(err, "lock term")
	}
	if err := s.loadLookups(ctx, hc); err != nil {
		return nil, err
	}
	hc.view = &storeView{repo: s.repo, termCode: hc.TermCode}

	for _, phase := range s.phases {
		if !phase.ShouldExecute(hc.TermCode) {
			hc.Notice("phase %s does not apply to %s; skipped", phase.Name(), hc.TermCode.Description())
			continue
		}
		if err := s.runPhase(ctx, hc, phase, phase.Execute); err != nil {
			return nil, err
		}
	}

	summary := hc.Summary()
	if err := s.repo.AppendAudit(ctx, entities.AuditEntry{
		TermCode:  hc.TermCode,
		RunID:     hc.RunID,
		Actor:     hc.Actor,
		Action:    "harvest",
		Entity:    "term",
		EntityKey: hc.TermCode.String(),
		Detail: map[string]any{
			"instructors_created": summary.InstructorsCreated,
			"courses_created":     summary.CoursesCreated,
			"records_created":     summary.RecordsCreated,
			"records_merged":      summary.RecordsMerged,
			"warnings":            len(summary.Warnings),
		},
		At: summary.FinishedAt,
	}); err != nil {
		return nil, errors.Wrap(err, "audit harvest run")
	}
	return summary, nil
}

func (s *HarvestService) runPhase(ctx context.Context, hc *HarvestContext, phase Phase, run func(context.Context, *HarvestContext) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "harvest.phase."+phase.Name(), trace.WithAttributes(
		attribute.String("harvest.phase", phase.Name()),
		attribute.Int("harvest.phase_order", phase.Order()),
		attribute.String("harvest.mode", string(hc.Mode)),
	))
	defer span.End()

	hc.beginPhase(phase.Name())
	hc.Logger().Info("harvest.phase.started")
	if err := run(ctx, hc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "phase %s", phase.Name())
	}
	hc.Logger().WithFields(logrus.Fields{
		"instructors": hc.Counters.InstructorsImported,
		"courses":     hc.Counters.CoursesImported,
		"records":     hc.Counters.RecordsImported,
	}).Info("harvest.phase.completed")
	hc.endPhase()
	return nil
}

func (s *HarvestService) newContext(ctx context.Context, termCode term.Code, actor uuid.UUID, mode Mode) *HarvestContext {
	hc := NewHarvestContext(termCode, actor, mode, composables.UseLogger(ctx))
	hc.progressEvery = s.progressEvery
	return hc
}

// loadLookups reads the title and department registries once per run.
func (s *HarvestService) loadLookups(ctx context.Context, hc *HarvestContext) error {
	titles, err := s.sources.Registry.ListTitleCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list title codes")
	}
	departments, err := s.sources.Registry.ListDepartments(ctx)
	if err != nil {
		return errors.Wrap(err, "list departments")
	}
	caser := cases.Title(language.English)
	for code, desc := range titles {
		hc.TitleCodes[strings.TrimSpace(code)] = caser.String(strings.ToLower(strings.TrimSpace(desc)))
	}
	for code, name := range departments {
		hc.Departments[strings.ToUpper(strings.TrimSpace(code))] = caser.String(strings.ToLower(strings.TrimSpace(name)))
	}
	return nil
}

func (s *HarvestService) observe(mode Mode, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	m := getMetrics()
	m.runsTotal.WithLabelValues(string(mode), result).Inc()
	m.runDuration.WithLabelValues(string(mode), result).Observe(time.Since(start).Seconds())
}

// markRemovals lists what the term already holds but this run did not derive.
func markRemovals(hc *HarvestContext, snap *snapshotView) {
	ids := make([]int, 0, len(snap.people))
	for id := range snap.people {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		p := snap.people[id]
		if _, ok := hc.ImportedPeople[normalizeKey(p.PersonKey)]; ok {
			continue
		}
		hc.Preview.RemovedInstructors = append(hc.Preview.RemovedInstructors, PreviewPerson{
			PersonKey:        p.PersonKey,
			PersonID:         p.PersonID,
			Name:             p.FullName(),
			TitleCode:        p.TitleCode,
			TitleDescription: p.TitleDescription,
			DeptCode:         p.DeptCode,
			DeptName:         p.DeptName,
		})
	}

	derived := make(map[int]bool, len(hc.CourseIDs))
	for _, id := range hc.CourseIDs {
		derived[id] = true
	}
	for _, c := range snap.existingCourses {
		if derived[c.ID] {
			continue
		}
		hc.Preview.RemovedCourses = append(hc.Preview.RemovedCourses, previewCourse(c, "", false))
	}
}
