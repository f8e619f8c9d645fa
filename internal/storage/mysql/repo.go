// Package mysql implements the MySQL / MariaDB backend on
// github.com/go-sql-driver/mysql.
package mysql

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"mergeflow/internal/storage"
	"mergeflow/internal/storage/sqldb"
)

// NewRepository opens a pool for cfg and pings it.
func NewRepository(ctx context.Context, cfg storage.Config) (storage.Driver, error) {
	return sqldb.Open(ctx, "mysql", dsn(cfg), NewDialect(), cfg.MaxOpenConns)
}

// dsn returns cfg.DSN, or a go-sql-driver DSN assembled from the discrete
// connection fields.
func dsn(cfg storage.Config) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	if len(cfg.Options) > 0 {
		mc.Params = make(map[string]string, len(cfg.Options))
		for k, v := range cfg.Options {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

func backtick(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }
