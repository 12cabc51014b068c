package manifest

import (
	"context"
	"database/sql"
	"log"
	"path"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PGLister lists source files registered in a Postgres file index,
// restricted to one collection (a path prefix) and file extension.
//
// The index is expected to hold a table
//
//	files(file_path text primary key, collection text)
type PGLister struct {
	Collection string
	Extension  string
	Verbose    bool

	db *sql.DB
}

func NewPGLister(dsn, collection, ext string, maxConns int, verbose bool) (*PGLister, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening file index")
	}
	db.SetMaxIdleConns(maxConns)
	db.SetMaxOpenConns(maxConns)

	return &PGLister{Collection: collection, Extension: ext, Verbose: verbose, db: db}, nil
}

func (pl *PGLister) Close() error {
	return pl.db.Close()
}

func (pl *PGLister) Ping(ctx context.Context) error {
	return pl.db.PingContext(ctx)
}

// List returns indexed file paths ordered by path.
func (pl *PGLister) List(ctx context.Context) ([]string, error) {
	// nullif() turns Go's empty string into a proper null so an unset
	// collection lists everything.
	rows, err := pl.db.QueryContext(ctx,
		`select file_path from files
		 where (nullif($1, '') is null or collection = $1)
		   and file_path like '%' || $2
		 order by file_path`,
		pl.Collection, pl.Extension)
	if err != nil {
		return nil, errors.Wrap(err, "querying file index")
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "scanning file index")
		}
		if path.Ext(p) != pl.Extension {
			continue
		}
		files = append(files, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading file index")
	}

	if pl.Verbose {
		log.Printf("file index: %d files in collection %q", len(files), pl.Collection)
	}
	return files, nil
}
