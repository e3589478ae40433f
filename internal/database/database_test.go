package database

import (
	"path/filepath"
	"testing"

	"bank-fraud-etl/pkg/errors"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantCode errors.ErrorCode
	}{
		{"sqlite", Config{Driver: DriverSQLite, DSN: ":memory:"}, ""},
		{"postgres", Config{Driver: DriverPostgres, DSN: "postgres://etl@localhost/bank", LogLevel: "info"}, ""},
		{"unknown driver", Config{Driver: "oracle", DSN: "x"}, errors.CodeInvalidConfig},
		{"empty dsn", Config{Driver: DriverMySQL, DSN: " "}, errors.CodeMissingConfig},
		{"negative pool", Config{Driver: DriverMySQL, DSN: "x", MaxOpenConns: -1}, errors.CodeInvalidConfig},
		{"bad log level", Config{Driver: DriverSQLite, DSN: "x", LogLevel: "chatty"}, errors.CodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("Validate() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestMySQLDSN(t *testing.T) {
	tests := map[string]string{
		"etl:pw@tcp(db:3306)/bank":                 "etl:pw@tcp(db:3306)/bank?parseTime=true",
		"etl:pw@tcp(db:3306)/bank?charset=utf8mb4": "etl:pw@tcp(db:3306)/bank?charset=utf8mb4&parseTime=true",
		"etl:pw@tcp(db:3306)/bank?parseTime=false": "etl:pw@tcp(db:3306)/bank?parseTime=false",
	}
	for in, want := range tests {
		if got := mysqlDSN(in); got != want {
			t.Errorf("mysqlDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operational.db")
	db, err := Open(&Config{Driver: DriverSQLite, DSN: path, LogLevel: "silent"}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer Close(db)

	var one int
	if err := db.Raw("SELECT 1").Scan(&one).Error; err != nil || one != 1 {
		t.Errorf("query failed: %v (%d)", err, one)
	}
}

func TestOpenPersistenceError(t *testing.T) {
	_, err := Open(&Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "missing", "dir", "x.db")}, nil)
	if err == nil {
		t.Skip("driver created the directory lazily")
	}
	if !errors.HasCategory(err, errors.CategoryPersistence) {
		t.Errorf("expected persistence error, got %v", err)
	}
}
