package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/effort/modules/effort/domain/term"
	"github.com/iota-uz/effort/modules/harvest/infrastructure/persistence"
	"github.com/iota-uz/effort/modules/harvest/services"
	"github.com/iota-uz/effort/pkg/composables"
	"github.com/iota-uz/effort/pkg/configuration"
	"github.com/iota-uz/effort/pkg/eventbus"
	"github.com/iota-uz/effort/pkg/tracing"
)

// harvestApp holds the connections and service one command invocation uses.
type harvestApp struct {
	conf    *configuration.Configuration
	pool    *pgxpool.Pool
	sources *pgxpool.Pool
	bus     eventbus.EventBus
	svc     *services.HarvestService

	shutdownTracing tracing.ShutdownFunc
}

func connectDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func openApp(ctx context.Context) (*harvestApp, error) {
	conf := configuration.Use()

	policy, err := services.LoadPolicy(conf.Harvest.PolicyPath)
	if err != nil {
		return nil, withCode(exitValidation, err)
	}

	pool, err := connectDB(ctx, conf.Database.Opts)
	if err != nil {
		return nil, withCode(exitDB, errors.Wrap(err, "connect target database"))
	}
	app := &harvestApp{conf: conf, pool: pool, sources: pool}
	app.shutdownTracing, err = tracing.Setup(ctx, conf.Tracing.OTLPEndpoint, conf.Tracing.ServiceName)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "set up tracing")
	}
	if conf.Sources.Opts != "" {
		app.sources, err = connectDB(ctx, conf.Sources.Opts)
		if err != nil {
			app.Close()
			return nil, withCode(exitDB, errors.Wrap(err, "connect source database"))
		}
	}

	src := persistence.NewSourceRepository(app.sources, persistence.Schemas{
		Scheduling: conf.Sources.SchedulingSchema,
		Catalog:    conf.Sources.CatalogSchema,
		Rotation:   conf.Sources.RotationSchema,
		Registry:   conf.Sources.RegistrySchema,
		Directory:  conf.Sources.DirectorySchema,
	})
	app.bus = eventbus.NewEventPublisher(conf.Logger())
	app.svc, err = services.NewHarvestService(
		src.Set(),
		persistence.NewEffortRepository(),
		policy,
		app.bus,
		services.WithProgressEvery(conf.Harvest.ProgressEvery),
	)
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// context returns ctx carrying the target pool and the configured logger.
func (a *harvestApp) context(ctx context.Context, command string) context.Context {
	ctx = composables.WithPool(ctx, a.pool)
	return composables.WithLogger(ctx, a.conf.Logger().WithFields(logrus.Fields{
		"command": command,
		"env":     a.conf.GoAppEnvironment,
	}))
}

func (a *harvestApp) Close() {
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			a.conf.Logger().WithError(err).Warn("harvest.tracing.shutdown_failed")
		}
	}
	if a.sources != nil && a.sources != a.pool {
		a.sources.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.conf.Unload()
}

func parseTermFlag(v string) (term.Code, error) {
	if strings.TrimSpace(v) == "" {
		return 0, withCode(exitUsage, fmt.Errorf("--term is required"))
	}
	code, err := term.Parse(v)
	if err != nil {
		return 0, withCode(exitUsage, fmt.Errorf("invalid --term: %w", err))
	}
	return code, nil
}
