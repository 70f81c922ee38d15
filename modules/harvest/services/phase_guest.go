package services

import (
	"context"
	"sort"

	"github.com/go-faster/errors"

	"github.com/iota-uz/effort/modules/effort/domain/entities"
	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/domain/sources"
)

const (
	PhaseGuest = "guest"
	OrderGuest = 40
)

// GuestPhase adds one placeholder person per department to absorb effort that
// cannot be attributed to a named instructor.
type GuestPhase struct {
	phaseBase
}

func NewGuestPhase(repo entities.Repository, src sources.Set, policy *Policy) *GuestPhase {
	return &GuestPhase{phaseBase{name: PhaseGuest, order: OrderGuest, repo: repo, sources: src, policy: policy}}
}

func (p *GuestPhase) ShouldExecute(term.Code) bool { return true }

func (p *GuestPhase) GeneratePreview(ctx context.Context, hc *HarvestContext) error {
	if err := p.checkMode(hc, ModePreview); err != nil {
		return err
	}
	return p.run(ctx, hc)
}

func (p *GuestPhase) Execute(ctx context.Context, hc *HarvestContext) error {
	if err := p.checkMode(hc, ModeExecute); err != nil {
		return err
	}
	return p.run(ctx, hc)
}

func (p *GuestPhase) run(ctx context.Context, hc *HarvestContext) error {
	accounts := make([]GuestAccount, len(p.policy.GuestAccounts))
	copy(accounts, p.policy.GuestAccounts)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Department < accounts[j].Department })

	keys := make([]string, 0, len(accounts))
	for _, a := range accounts {
		keys = append(keys, normalizeKey(a.PersonKey))
	}
	found, err := p.sources.Directory.ResolvePeople(ctx, keys)
	if err != nil {
		return errors.Wrap(err, "resolve guest accounts")
	}
	resolved := make(map[string]sources.DirectoryPerson, len(found))
	for k, dp := range found {
		resolved[normalizeKey(k)] = dp
	}

	hc.expect(len(accounts), 0, 0)
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := normalizeKey(a.PersonKey)
		dp, ok := resolved[key]
		if !ok {
			hc.Warn("guest account %s for department %s not found in person directory; skipped", key, a.Department)
			hc.tick(kindInstructor)
			continue
		}
		if err := p.importPerson(ctx, hc, p.buildPerson(hc, key, dp, p.policy.GuestTitleCode, a.Department)); err != nil {
			return err
		}
	}
	return nil
}
