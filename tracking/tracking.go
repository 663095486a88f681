/*
Copyright © 2026 the Multirate authors.
This file is part of Multirate.

Multirate is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Multirate is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Multirate.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package tracking records per-tick run diagnostics into a SQLite
// database, buffering rows and flushing them in batched transactions.
package tracking

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// SQLite driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a buffered store for run diagnostics. Tables are
// derived from the field names of the sample entry structs; entries are
// inserted in batches.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the field names of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers one entry, of the same type as the table's
	// sample, for insertion.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all created tables.
	ListTables() []string

	// Flush writes all buffered entries to the database.
	Flush()
}

// New creates a DataRecorder writing to a SQLite database at path
// (".sqlite3" is appended). An empty path generates a unique name. All
// buffered rows are flushed at process exit.
func New(path string) DataRecorder {
	if path == "" {
		path = "multirate_run_" + xid.New().String()
	}
	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("tracking: file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(os.Stderr, "Run tracking database: %s\n", filename)

	return NewWithDB(db)
}

// NewWithDB creates a DataRecorder writing into an already-open
// database.
func NewWithDB(db *sql.DB) DataRecorder {
	r := &sqliteRecorder{
		db:        db,
		batchSize: 4096,
		tables:    make(map[string]*table),
	}
	atexit.Register(func() { r.Flush() })
	return r
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteRecorder struct {
	db        *sql.DB
	tables    map[string]*table
	batchSize int
	buffered  int
}

func allowedFieldKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	}
	return false
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) {
	t := reflect.TypeOf(sampleEntry)
	for i := 0; i < t.NumField(); i++ {
		if !allowedFieldKind(t.Field(i).Type.Kind()) {
			panic(fmt.Errorf("tracking: field %s of table %s has unsupported type %s",
				t.Field(i).Name, tableName, t.Field(i).Type))
		}
	}

	cols := strings.Join(structs.Names(sampleEntry), ",\n\t")
	r.mustExec("CREATE TABLE " + tableName + " (\n\t" + cols + "\n);")
	r.tables[tableName] = &table{structType: t}
}

func (r *sqliteRecorder) InsertData(tableName string, entry any) {
	t, ok := r.tables[tableName]
	if !ok {
		panic(fmt.Errorf("tracking: table %s does not exist", tableName))
	}
	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Errorf("tracking: entry type %T does not match table %s",
			entry, tableName))
	}
	t.entries = append(t.entries, entry)
	r.buffered++
	if r.buffered >= r.batchSize {
		r.Flush()
	}
}

func (r *sqliteRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	return names
}

func (r *sqliteRecorder) Flush() {
	if r.buffered == 0 {
		return
	}
	r.mustExec("BEGIN TRANSACTION")
	defer r.mustExec("COMMIT TRANSACTION")

	for name, t := range r.tables {
		if len(t.entries) == 0 {
			continue
		}
		marks := make([]string, t.structType.NumField())
		for i := range marks {
			marks[i] = "?"
		}
		stmt, err := r.db.Prepare(
			"INSERT INTO " + name + " VALUES (" + strings.Join(marks, ", ") + ")")
		if err != nil {
			panic(err)
		}
		for _, entry := range t.entries {
			v := reflect.ValueOf(entry)
			args := make([]any, v.NumField())
			for i := range args {
				args[i] = v.Field(i).Interface()
			}
			if _, err := stmt.Exec(args...); err != nil {
				panic(err)
			}
		}
		stmt.Close()
		t.entries = nil
	}
	r.buffered = 0
}

func (r *sqliteRecorder) mustExec(query string) {
	if _, err := r.db.Exec(query); err != nil {
		panic(fmt.Errorf("tracking: executing %q: %v", query, err))
	}
}
