package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour the store speaks.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Open opens a database handle for the dialect. SQLite is limited to a
// single connection so writers never see SQLITE_BUSY.
func Open(d Dialect, dsn string) (*sql.DB, error) {
	switch d {
	case Postgres:
		return sql.Open("postgres", dsn)
	case SQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", d)
	}
}

var numberedParam = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders into SQLite's ?N form.
func (d Dialect) rebind(query string) string {
	if d != SQLite {
		return query
	}
	return numberedParam.ReplaceAllString(query, "?$1")
}

// forUpdate is appended to row reads inside write transactions.
func (d Dialect) forUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// placeholders returns "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

// isDuplicateKeyError reports a unique violation from either driver.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// SQLite stores timestamps as fixed-width UTC text so range comparisons
// order correctly.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func (d Dialect) timeArg(t time.Time) any {
	if d == SQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func (d Dialect) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeArg(*t)
}

// timeValue scans a timestamp stored natively or as text.
type timeValue struct {
	t     time.Time
	valid bool
}

func (v *timeValue) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		v.valid = false
		return nil
	case time.Time:
		v.t, v.valid = s.UTC(), true
		return nil
	case string:
		return v.parse(s)
	case []byte:
		return v.parse(string(s))
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
}

func (v *timeValue) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("sqlstore: parse time %q: %w", s, err)
	}
	v.t, v.valid = t.UTC(), true
	return nil
}

func (v timeValue) ptr() *time.Time {
	if !v.valid {
		return nil
	}
	t := v.t
	return &t
}

var _ sql.Scanner = (*timeValue)(nil)
