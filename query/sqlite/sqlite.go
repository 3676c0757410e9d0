// Package sqlite is a query backend over a local SQLite mirror of the
// archive. Load fills the mirror from any gdelt.Source; Query serves it back
// as rows, so a mirror built while the archive was healthy can answer
// requests while it is not.
package sqlite

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/query"
	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Backend serves queries from a SQLite database with one table per kind.
// The database is opened on first use.
type Backend struct {
	path     string
	poolSize int
	name     string

	once    sync.Once
	pool    *sqlitex.Pool
	openErr error
}

// Option configures a Backend.
type Option func(b *Backend)

// OptPoolSize sets the number of pooled connections. The default is 4.
func OptPoolSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.poolSize = n
		}
	}
}

// OptName sets the backend name used in errors and record targets.
func OptName(name string) Option {
	return func(b *Backend) {
		b.name = name
	}
}

// New returns a Backend for the database at path. An empty path is reported
// as a gdelt.ConfigurationError by the first Query or Load.
func New(path string, opts ...Option) *Backend {
	b := &Backend{path: path, poolSize: 4, name: "sqlite"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements query.Backend.
func (b *Backend) Name() string { return b.name }

func (b *Backend) open() (*sqlitex.Pool, error) {
	b.once.Do(func() {
		if b.path == "" {
			b.openErr = &gdelt.ConfigurationError{Setting: "sqlite-path"}
			return
		}
		b.pool, b.openErr = sqlitex.NewPool(b.path, sqlitex.PoolOptions{
			PoolSize:    b.poolSize,
			PrepareConn: prepareConn,
		})
		if b.openErr != nil {
			b.openErr = &gdelt.BackendUnavailableError{Backend: b.name, Err: b.openErr}
		}
	})
	return b.pool, b.openErr
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return errors.Wrap(err, pragma)
		}
	}
	var script strings.Builder
	for _, k := range gdelt.Kinds() {
		script.WriteString(createTable(k))
	}
	return errors.Wrap(sqlitex.ExecuteScript(conn, script.String(), nil), "creating tables")
}

// Table is the table holding records of kind.
func Table(kind gdelt.Kind) string {
	return strings.Replace(kind.String(), "-", "_", -1)
}

func quote(ident string) string {
	return `"` + strings.Replace(ident, `"`, `""`, -1) + `"`
}

func createTable(kind gdelt.Kind) string {
	s := gdelt.LatestSchema(kind)
	cols := make([]string, s.Len())
	for i, c := range s.Columns {
		cols[i] = quote(c.Name) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);\n", quote(Table(kind)), strings.Join(cols, ", "))
}

// rangeColumn is the column a date range is applied to. Events are selected
// by the time they were added, matching the archive's publication
// timestamps.
func rangeColumn(kind gdelt.Kind) (col, layout string) {
	switch kind {
	case gdelt.Events, gdelt.EventsDaily:
		return "DATEADDED", "20060102150405"
	}
	return kind.DateField(), kind.DateLayout()
}

// Load inserts every record of src into the mirror in one transaction and
// closes src. Records are matched to columns by name, so older schema
// versions load into the newest table with missing columns left NULL.
func (b *Backend) Load(ctx context.Context, src gdelt.Source) (n int, err error) {
	defer func() {
		if cerr := src.Close(); err == nil {
			err = cerr
		}
	}()
	pool, err := b.open()
	if err != nil {
		return 0, err
	}
	conn, err := pool.Take(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "taking connection")
	}
	defer pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, errors.Wrap(err, "beginning transaction")
	}
	defer endTransaction(&err)

	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		r, err := src.Record()
		if err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, errors.Wrap(err, "reading source")
		}
		if err := insert(conn, r); err != nil {
			return n, err
		}
		n++
	}
}

func insert(conn *sqlite.Conn, r *gdelt.RawRecord) error {
	s := gdelt.LatestSchema(r.Kind)
	if s == nil {
		return errors.Errorf("record of unknown kind %d", int(r.Kind))
	}
	cols := make([]string, s.Len())
	marks := make([]string, s.Len())
	args := make([]interface{}, s.Len())
	for i, c := range s.Columns {
		cols[i] = quote(c.Name)
		marks[i] = "?"
		if v, _ := r.Get(c.Name); v != nil {
			args[i] = *v
		}
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(Table(r.Kind)), strings.Join(cols, ", "), strings.Join(marks, ", "))
	return errors.Wrapf(sqlitex.Execute(conn, q, &sqlitex.ExecOptions{Args: args}), "inserting %s", r)
}

// Statement builds the SELECT for f, kind and opts.
func Statement(f gdelt.Filter, kind gdelt.Kind, opts query.Options) (string, []interface{}, error) {
	s := gdelt.LatestSchema(kind)
	if s == nil {
		return "", nil, &gdelt.ConfigurationError{Setting: "kind", Reason: fmt.Sprintf("unknown kind %d", int(kind))}
	}
	sel := "*"
	if len(opts.Columns) > 0 {
		cols := make([]string, len(opts.Columns))
		for i, c := range opts.Columns {
			j := s.Index(c)
			if j < 0 {
				return "", nil, &gdelt.ConfigurationError{Setting: "columns", Reason: fmt.Sprintf("no column %s in %s", c, kind)}
			}
			cols[i] = quote(s.Columns[j].Name)
		}
		sel = strings.Join(cols, ", ")
	}

	var conds []string
	var args []interface{}
	dr := f.Range.Normalized()
	col, layout := rangeColumn(kind)
	conds = append(conds, quote(col)+" >= ?", quote(col)+" <= ?")
	args = append(args, dr.Start.Format(layout), dr.End.Format(layout))

	in := func(cols []string, values []string) {
		marks := make([]string, len(values))
		for i := range values {
			marks[i] = "?"
		}
		var ors []string
		for _, c := range cols {
			ors = append(ors, fmt.Sprintf("UPPER(%s) IN (%s)", quote(c), strings.Join(marks, ", ")))
			for _, v := range values {
				args = append(args, strings.ToUpper(v))
			}
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	switch kind {
	case gdelt.Events, gdelt.EventsDaily:
		if len(f.Actors) > 0 {
			in([]string{"Actor1Code", "Actor2Code", "Actor1CountryCode", "Actor2CountryCode"}, f.Actors)
		}
	case gdelt.GKG:
		if len(f.Themes) > 0 {
			var ors []string
			for _, t := range f.Themes {
				ors = append(ors,
					`(';' || UPPER("Themes") || ';') LIKE ?`,
					`(';' || UPPER("V2Themes")) LIKE ?`)
				t = strings.ToUpper(t)
				args = append(args, "%;"+t+";%", "%;"+t+",%")
			}
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
		if !f.IncludeTranslated {
			conds = append(conds, `"GKGRECORDID" NOT GLOB '*-T[0-9]*'`)
		}
	case gdelt.TVNGrams:
		if len(f.Selectors) > 0 {
			in([]string{"STATION"}, f.Selectors)
		}
	}
	if tone := kind.ToneField(); tone != "" {
		if f.MinTone != nil {
			conds = append(conds, fmt.Sprintf("CAST(%s AS REAL) >= ?", quote(tone)))
			args = append(args, *f.MinTone)
		}
		if f.MaxTone != nil {
			conds = append(conds, fmt.Sprintf("CAST(%s AS REAL) <= ?", quote(tone)))
			args = append(args, *f.MaxTone)
		}
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY rowid", sel, quote(Table(kind)), strings.Join(conds, " AND "))
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	return q, args, nil
}

// Query implements query.Backend. Rows are read on a pooled connection as
// the caller pulls them; closing the RowSource interrupts the statement and
// returns the connection.
func (b *Backend) Query(ctx context.Context, f gdelt.Filter, kind gdelt.Kind, opts query.Options) (query.RowSource, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	q, args, err := Statement(f, kind, opts)
	if err != nil {
		return nil, err
	}
	pool, err := b.open()
	if err != nil {
		return nil, err
	}
	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, &gdelt.BackendUnavailableError{Backend: b.name, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &rows{ch: make(chan gdelt.Row), cancel: cancel}
	go func() {
		defer pool.Put(conn)
		defer close(r.ch)
		old := conn.SetInterrupt(ctx.Done())
		defer conn.SetInterrupt(old)
		r.err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row := scan(stmt)
				select {
				case r.ch <- row:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}()
	return r, nil
}

func scan(stmt *sqlite.Stmt) gdelt.Row {
	n := stmt.ColumnCount()
	row := make(gdelt.Row, n)
	for i := 0; i < n; i++ {
		if stmt.ColumnIsNull(i) {
			row[stmt.ColumnName(i)] = nil
			continue
		}
		row[stmt.ColumnName(i)] = stmt.ColumnText(i)
	}
	return row
}

type rows struct {
	ch     chan gdelt.Row
	cancel context.CancelFunc
	err    error
	closed bool
}

func (r *rows) Row() (gdelt.Row, error) {
	row, ok := <-r.ch
	if ok {
		return row, nil
	}
	if r.err != nil && !r.closed {
		return nil, errors.Wrap(r.err, "querying sqlite")
	}
	return nil, io.EOF
}

func (r *rows) Close() error {
	r.closed = true
	r.cancel()
	for range r.ch {
	}
	return nil
}

// Close closes the pool.
func (b *Backend) Close() error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Close()
}
