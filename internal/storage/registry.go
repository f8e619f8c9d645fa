package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"mergeflow/internal/apperr"
)

// Kind names a SQL dialect family.
type Kind string

// Built-in dialects. The set is closed: configuration naming anything else
// fails with a config error unless a driver was registered under that name.
const (
	Postgres Kind = "postgres"
	MySQL    Kind = "mysql"
	DB2      Kind = "db2"
	Oracle   Kind = "oracle"
	MSSQL    Kind = "mssql"
	SQLite   Kind = "sqlite"
)

var kindAliases = map[string]Kind{
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pg":         Postgres,
	"redshift":   Postgres,
	"mysql":      MySQL,
	"mariadb":    MySQL,
	"db2":        DB2,
	"ibmdb2":     DB2,
	"ibm_db2":    DB2,
	"oracle":     Oracle,
	"mssql":      MSSQL,
	"sqlserver":  MSSQL,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
}

// ParseKind resolves a configured dialect name (case-insensitive, aliases
// allowed) to a built-in Kind. ok is false for names outside the closed set.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// buildTags names the build tag that compiles in a driver which is not part
// of the default binary.
var buildTags = map[Kind]string{DB2: "db2"}

// Config carries connection settings for a driver.
type Config struct {
	Kind     string
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// Options holds driver-specific DSN parameters (e.g. sslmode).
	Options map[string]string

	MaxOpenConns int
}

// Factory opens a Driver.
type Factory func(ctx context.Context, cfg Config) (Driver, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for name. Built-in backends
// call it from init; external drivers may register additional names at
// process start.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToLower(name)] = f
}

// ListKinds returns the registered names, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the driver registered for cfg.Kind. Unknown names, and known
// dialects whose driver was not compiled in, are config errors. Failures to
// reach the backend are connection errors.
func New(ctx context.Context, cfg Config) (Driver, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if k, ok := ParseKind(name); ok {
		name = string(k)
	}

	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		if tag, gated := buildTags[Kind(name)]; gated {
			return nil, apperr.Config("storage.new", "dialect %q requires a binary built with -tags %s", name, tag)
		}
		return nil, apperr.Config("storage.new", "unsupported dialect %q (registered: %s)", cfg.Kind, strings.Join(ListKinds(), ", "))
	}
	cfg.Kind = name

	d, err := f(ctx, cfg)
	if err != nil {
		if apperr.KindOf(err) != 0 {
			return nil, err
		}
		return nil, apperr.Connection("storage.new "+name, err)
	}
	return d, nil
}
