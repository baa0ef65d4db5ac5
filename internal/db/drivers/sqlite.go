package drivers

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/ember-llm/tune-server/internal/utils/pathutil"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

var remoteSchemes = []string{"libsql://", "wss://", "ws://", "https://", "http://"}

type SQLiteDriver struct {
	db *bun.DB
}

func NewSQLiteDriver(ctx context.Context, dsn string) (*SQLiteDriver, error) {
	name := sqliteshim.ShimName
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(dsn, scheme) {
			name = "libsql"
			break
		}
	}

	if name == sqliteshim.ShimName {
		expanded, err := expandFileDSN(dsn)
		if err != nil {
			return nil, err
		}
		dsn = expanded
	}

	sqldb, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	return &SQLiteDriver{db: db}, nil
}

// expandFileDSN resolves "~" in file DSNs and creates the parent
// directory so first runs do not fail on a missing path.
func expandFileDSN(dsn string) (string, error) {
	path := strings.TrimPrefix(dsn, "file:")
	path, query, _ := strings.Cut(path, "?")

	expanded, err := pathutil.ExpandPath(path)
	if err != nil {
		return "", err
	}

	if err := pathutil.EnsureDirExists(filepath.Dir(expanded)); err != nil {
		return "", err
	}

	if query != "" {
		return "file:" + expanded + "?" + query, nil
	}
	return "file:" + expanded, nil
}

func (d *SQLiteDriver) GetDB() *bun.DB {
	return d.db
}
