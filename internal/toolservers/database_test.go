package toolservers

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		query   string
		wantErr bool
	}{
		{query: "SELECT * FROM adverse_events LIMIT 10"},
		{query: "  select count(*) from patients;"},
		{query: "WITH s AS (SELECT 1) SELECT * FROM s"},
		{query: "EXPLAIN SELECT 1"},
		{query: "SHOW search_path"},
		{query: "(SELECT 1)"},
		{query: "-- recent events\nSELECT * FROM adverse_events"},
		{query: "SELECT replace(name, 'a', 'b') FROM sites"},
		{query: "SELECT updated_at FROM visits"},
		{query: "DELETE FROM patients", wantErr: true},
		{query: "insert into patients values (1)", wantErr: true},
		{query: "SELECT 1; DROP TABLE patients", wantErr: true},
		{query: "WITH gone AS (DELETE FROM patients RETURNING *) SELECT * FROM gone", wantErr: true},
		{query: "/* SELECT */ UPDATE patients SET age = 1", wantErr: true},
		{query: "PRAGMA table_info(patients)", wantErr: true},
		{query: "-- only a comment", wantErr: true},
	}
	for _, tt := range tests {
		err := CheckReadOnly(tt.query)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckReadOnly(%q) error = %v, wantErr %v", tt.query, err, tt.wantErr)
		}
	}
}

func TestQueryPostgresUsesReadOnlyTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, term FROM adverse_events")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "term"}).
			AddRow(int64(1), []byte("headache")).
			AddRow(int64(2), []byte("nausea")))
	mock.ExpectRollback()

	database := NewDatabase(db, DatabaseOptions{Driver: "postgres", ReadOnly: true}, nil)
	result, err := database.Query(context.Background(), "SELECT id, term FROM adverse_events")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Count != 2 || len(result.Columns) != 2 || result.Truncated {
		t.Fatalf("result = %+v", result)
	}
	if result.Rows[1][1] != "nausea" {
		t.Errorf("bytes should decode to strings, got %#v", result.Rows[1][1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQueryRejectsWritesBeforeTouchingTheDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	database := NewDatabase(db, DatabaseOptions{Driver: "postgres", ReadOnly: true}, nil)
	_, err = database.Query(context.Background(), "DROP TABLE patients")
	if !errors.Is(err, ErrWriteStatement) {
		t.Fatalf("error = %v, want ErrWriteStatement", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQueryWritableSkipsGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("DELETE FROM patients RETURNING id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	database := NewDatabase(db, DatabaseOptions{Driver: "postgres"}, nil)
	result, err := database.Query(context.Background(), "DELETE FROM patients RETURNING id")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Count != 1 {
		t.Errorf("result = %+v", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQueryReportsDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New(`relation "nope" does not exist`))

	database := NewDatabase(db, DatabaseOptions{Driver: "sqlite", ReadOnly: true}, nil)
	_, err = database.Query(context.Background(), "SELECT * FROM nope")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("error = %v", err)
	}
}

func openSQLite(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()
	db, err := OpenDatabase(ctx, "sqlite", ":memory:", 1)
	if err != nil {
		t.Fatalf("OpenDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		"CREATE TABLE adverse_events (id INTEGER PRIMARY KEY, patient TEXT, severity INTEGER)",
		"INSERT INTO adverse_events (patient, severity) VALUES ('P-001', 2), ('P-002', 3), ('P-003', 1)",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}
	return NewDatabase(db, DatabaseOptions{Driver: "sqlite", MaxRows: 2, ReadOnly: true}, nil)
}

func TestQuerySQLiteTruncatesAtMaxRows(t *testing.T) {
	database := openSQLite(t)

	result, err := database.Query(context.Background(), "SELECT patient, severity FROM adverse_events ORDER BY id")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Count != 2 || !result.Truncated {
		t.Fatalf("result = %+v, want 2 truncated rows", result)
	}
	if result.Rows[0][0] != "P-001" || result.Rows[0][1] != int64(2) {
		t.Errorf("first row = %#v", result.Rows[0])
	}

	result, err = database.Query(context.Background(), "SELECT patient FROM adverse_events WHERE severity > 2")
	if err != nil {
		t.Fatal(err)
	}
	if result.Count != 1 || result.Truncated {
		t.Errorf("result = %+v", result)
	}
}

func TestOpenDatabaseRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenDatabase(context.Background(), "mysql", "x", 1); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
	if _, err := OpenDatabase(context.Background(), "sqlite", " ", 1); err == nil {
		t.Fatal("expected an error for an empty url")
	}
}
