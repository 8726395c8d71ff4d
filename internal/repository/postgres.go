package repository

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/opensource-finance/cadence/internal/domain"
)

// openPostgres opens a lib/pq connection built from the individual settings.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	params := []struct{ key, value string }{
		{"host", orDefault(cfg.PostgresHost, "localhost")},
		{"port", fmt.Sprint(orDefaultInt(cfg.PostgresPort, 5432))},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", orDefault(cfg.PostgresDB, "cadence")},
		{"sslmode", orDefault(cfg.PostgresSSLMode, "disable")},
		{"connect_timeout", "5"},
		{"application_name", "cadence"},
	}

	var dsn strings.Builder
	for _, p := range params {
		if p.value == "" {
			continue
		}
		if dsn.Len() > 0 {
			dsn.WriteByte(' ')
		}
		dsn.WriteString(p.key)
		dsn.WriteByte('=')
		dsn.WriteString(quoteConnValue(p.value))
	}

	db, err := sql.Open("postgres", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := verify(db, "postgres"); err != nil {
		return nil, err
	}
	return db, nil
}

// quoteConnValue escapes a value for a key=value connection string.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
