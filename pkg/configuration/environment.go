package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/effort/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist in the working directory, falling back
// to the directory of the nearest go.mod when none are found there.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root := findModuleRoot(); root != "" {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, envFiles []string) []string {
	out := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		path := file
		if dir != "" {
			path = filepath.Join(dir, file)
		}
		if fs.FileExists(path) {
			out = append(out, path)
		}
	}
	return out
}

func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := wd; ; {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"effort"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

// SourceOptions points at the read-only replicas of the source systems. An empty
// host means the sources live in the target database.
type SourceOptions struct {
	Opts     string `env:"-"`
	Host     string `env:"SOURCE_DB_HOST"`
	Port     string `env:"SOURCE_DB_PORT" envDefault:"5432"`
	Name     string `env:"SOURCE_DB_NAME" envDefault:"sources"`
	User     string `env:"SOURCE_DB_USER" envDefault:"postgres"`
	Password string `env:"SOURCE_DB_PASSWORD" envDefault:"postgres"`

	SchedulingSchema string `env:"SOURCE_SCHEDULING_SCHEMA" envDefault:"scheduling"`
	CatalogSchema    string `env:"SOURCE_CATALOG_SCHEMA" envDefault:"catalog"`
	RotationSchema   string `env:"SOURCE_ROTATION_SCHEMA" envDefault:"rotation"`
	RegistrySchema   string `env:"SOURCE_REGISTRY_SCHEMA" envDefault:"registry"`
	DirectorySchema  string `env:"SOURCE_DIRECTORY_SCHEMA" envDefault:"directory"`
}

func (s *SourceOptions) ConnectionString() string {
	if s.Host == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		s.Host, s.Port, s.User, s.Name, s.Password,
	)
}

type HarvestOptions struct {
	PolicyPath    string `env:"HARVEST_POLICY_PATH" envDefault:"config/harvest/policy.yaml"`
	ProgressEvery int    `env:"HARVEST_PROGRESS_EVERY" envDefault:"10"`
}

type PrometheusOptions struct {
	PushgatewayURL string `env:"PROMETHEUS_PUSHGATEWAY_URL"`
	JobName        string `env:"PROMETHEUS_JOB_NAME" envDefault:"effort_harvest"`
}

type TracingOptions struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"effort-harvest"`
}

type Configuration struct {
	Database   DatabaseOptions
	Sources    SourceOptions
	Harvest    HarvestOptions
	Prometheus PrometheusOptions
	Tracing    TracingOptions

	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.validateHarvest(); err != nil {
		return err
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	c.Sources.Opts = c.Sources.ConnectionString()
	return nil
}

func (c *Configuration) validateHarvest() error {
	if c.Harvest.ProgressEvery <= 0 {
		return fmt.Errorf("invalid HARVEST_PROGRESS_EVERY=%d (expected a positive integer)", c.Harvest.ProgressEvery)
	}
	c.Harvest.PolicyPath = strings.TrimSpace(c.Harvest.PolicyPath)
	for name, schema := range map[string]string{
		"SOURCE_SCHEDULING_SCHEMA": c.Sources.SchedulingSchema,
		"SOURCE_CATALOG_SCHEMA":    c.Sources.CatalogSchema,
		"SOURCE_ROTATION_SCHEMA":   c.Sources.RotationSchema,
		"SOURCE_REGISTRY_SCHEMA":   c.Sources.RegistrySchema,
		"SOURCE_DIRECTORY_SCHEMA":  c.Sources.DirectorySchema,
	} {
		if strings.TrimSpace(schema) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
