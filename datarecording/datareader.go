package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// QueryParams narrows down the rows returned by a query.
type QueryParams struct {
	// Where is a condition without the WHERE keyword, for example
	// "Outcome = ? AND Seq > ?".
	Where string

	// Args fill the placeholders of Where.
	Args []any

	// OrderBy lists sort keys without the ORDER BY keywords.
	OrderBy string

	// Limit caps the number of rows returned. Zero means no cap. Offset is
	// only applied together with a Limit.
	Limit  int
	Offset int
}

func (p QueryParams) filter() string {
	if p.Where == "" {
		return ""
	}

	return " WHERE " + p.Where
}

func (p QueryParams) page() string {
	var b strings.Builder

	if p.OrderBy != "" {
		b.WriteString(" ORDER BY " + p.OrderBy)
	}

	if p.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.Limit)

		if p.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", p.Offset)
		}
	}

	return b.String()
}

// DataReader reads back the tables written by a DataRecorder.
type DataReader interface {
	// MapTable tells which struct the rows of a table are read into. A table
	// must be mapped before it is queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the names of the tables stored in the database,
	// mapped or not, in alphabetical order.
	ListTables(ctx context.Context) ([]string, error)

	// Query returns pointers to the structs read from the selected rows, and
	// the number of rows that match params.Where regardless of the limit.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the database.
	Close() error
}

type sqliteReader struct {
	*sql.DB

	types map[string]reflect.Type
}

// NewReader opens the recording in file path for reading.
func NewReader(path string) (DataReader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening recording %s: %w", path, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a DataReader on an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		DB:    db,
		types: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	r.types[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables(ctx context.Context) ([]string, error) {
	rows, err := r.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	structType, ok := r.types[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("table %s is not mapped", tableName)
	}

	var total int

	err := r.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tableName+params.filter(),
		params.Args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting rows of %s: %w", tableName, err)
	}

	rows, err := r.QueryContext(ctx,
		"SELECT * FROM "+tableName+params.filter()+params.page(),
		params.Args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying %s: %w", tableName, err)
	}
	defer rows.Close()

	results, err := scanStructs(rows, structType)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", tableName, err)
	}

	return results, total, nil
}

// scanStructs reads every row into a new struct of type t. Columns are matched
// to fields by name; columns without a field are dropped.
func scanStructs(rows *sql.Rows, t reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fields := make([]int, len(columns))
	for i, c := range columns {
		fields[i] = -1

		if f, ok := t.FieldByName(c); ok && len(f.Index) == 1 {
			fields[i] = f.Index[0]
		}
	}

	var results []any

	for rows.Next() {
		entry := reflect.New(t)
		targets := make([]any, len(columns))

		for i, f := range fields {
			if f < 0 {
				targets[i] = new(any)
				continue
			}

			targets[i] = entry.Elem().Field(f).Addr().Interface()
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		results = append(results, entry.Interface())
	}

	return results, rows.Err()
}
