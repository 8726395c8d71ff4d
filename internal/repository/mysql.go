package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/opensource-finance/cadence/internal/domain"
)

// openMySQL opens a MySQL database connection.
func openMySQL(cfg domain.RepositoryConfig) (*sql.DB, error) {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = orDefault(cfg.MySQLAddr, "localhost:3306")
	mc.User = cfg.MySQLUser
	mc.Passwd = cfg.MySQLPassword
	mc.DBName = orDefault(cfg.MySQLDB, "cadence")
	mc.ParseTime = true
	mc.Loc = time.UTC

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := verify(db, "mysql"); err != nil {
		return nil, err
	}
	return db, nil
}
