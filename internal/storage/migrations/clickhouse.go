package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	chstore "github.com/martacalvinho/squares2/internal/storage/clickhouse"
)

// ClickHouse creates the database named in dsn if needed and applies the
// embedded ClickHouse migrations statement by statement. It returns a
// connection to that database.
func ClickHouse(ctx context.Context, dsn string) (*chstore.Conn, []Result, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		return nil, nil, fmt.Errorf("clickhouse dsn has no database")
	}

	files, err := load(clickhouseFS, "clickhouse")
	if err != nil {
		return nil, nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(database))
	admin.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("create database %s: %w", database, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse database %s: %w", database, err)
	}

	logger := log.WithField("component", "migrations")
	results := make([]Result, 0, len(files))
	for _, m := range files {
		// The native protocol takes one statement per Exec.
		stmts := Split(m.sql)
		for i, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, results, fmt.Errorf("apply migration %s statement %d: %w", m.file, i+1, err)
			}
		}
		logger.WithFields(log.Fields{"file": m.file, "statements": len(stmts)}).Info("clickhouse migration applied")
		results = append(results, Result{File: m.file, Checksum: m.checksum, Statements: len(stmts)})
	}
	return conn, results, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
