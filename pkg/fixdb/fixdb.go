// Package fixdb boots a disposable PostgreSQL container shared by a
// test binary and hands each test an isolated schema sandbox. Gated by
// the RELADIFF_TEST_PG environment variable so unit runs stay hermetic.
package fixdb

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// EnvVar enables the fixture when set to any non-empty value.
const EnvVar = "RELADIFF_TEST_PG"

type config struct {
	image    string
	dbName   string
	user     string
	password string
}

type Option func(*config)

func WithImage(i string) Option    { return func(c *config) { c.image = i } }
func WithDBName(n string) Option   { return func(c *config) { c.dbName = n } }
func WithUser(u string) Option     { return func(c *config) { c.user = u } }
func WithPassword(p string) Option { return func(c *config) { c.password = p } }

var (
	once       sync.Once
	bootErr    error
	pg         *postgres.PostgresContainer
	mu         sync.Mutex
	connString string
)

// BootOnce starts the shared container, or skips the test when the
// fixture is disabled. Safe to call from every integration test.
func BootOnce(t *testing.T, opts ...Option) {
	t.Helper()
	if os.Getenv(EnvVar) == "" {
		t.Skipf("set %s=1 to run tests against a real PostgreSQL", EnvVar)
	}
	once.Do(func() {
		c := &config{
			image:    "docker.io/postgres:16-alpine",
			dbName:   "reladiff",
			user:     "postgres",
			password: "pass",
		}
		for _, o := range opts {
			o(c)
		}
		bootErr = boot(c)
	})
	if bootErr != nil {
		t.Fatalf("fixdb boot failed: %v", bootErr)
	}
}

func boot(c *config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	container, err := postgres.Run(ctx,
		c.image,
		postgres.WithDatabase(c.dbName),
		postgres.WithUsername(c.user),
		postgres.WithPassword(c.password),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	pg = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	connString = fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.user, c.password, host, port.Port(), c.dbName,
	)
	return nil
}

// Shutdown terminates the shared container. Optional; the container is
// otherwise reaped when the test process exits.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return pg.Terminate(ctx)
}

// Sandbox is one test's private schema on the shared server.
type Sandbox struct {
	DB     *sql.DB
	DSN    string
	Schema string
}

// NewSandbox creates a schema unique to the calling test and returns a
// pool whose every connection has it first on the search path. Cleanup
// drops the schema.
func NewSandbox(t *testing.T) *Sandbox {
	t.Helper()
	if connString == "" {
		t.Fatal("fixdb not booted; call fixdb.BootOnce first")
	}

	admin, err := sql.Open("pgx", connString)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("t_%x", time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	dsn := withSearchPath(connString, schema)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		_ = db.Close()
		_ = admin.Close()
	})
	return &Sandbox{DB: db, DSN: dsn, Schema: schema}
}

// MigrateUp applies goose migrations from migFS inside the sandbox
// schema.
func (s *Sandbox) MigrateUp(t *testing.T, migFS fs.FS) {
	t.Helper()
	goose.SetBaseFS(migFS)
	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatalf("goose dialect: %v", err)
	}
	if err := goose.Up(s.DB, "."); err != nil {
		t.Fatalf("goose up: %v", err)
	}
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s,public", schema))
	u.RawQuery = q.Encode()
	return u.String()
}
