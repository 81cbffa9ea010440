package main

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/PortNumber53/social-scheduler/internal/database"
	"github.com/golang-migrate/migrate/v4"
)

type fakeMigrator struct {
	upCalls    int
	downCalls  int
	stepsCalls []int
	forceCalls []int
	upErr      error
}

func (f *fakeMigrator) Up() error                    { f.upCalls++; return f.upErr }
func (f *fakeMigrator) Down() error                  { f.downCalls++; return nil }
func (f *fakeMigrator) Steps(n int) error            { f.stepsCalls = append(f.stepsCalls, n); return nil }
func (f *fakeMigrator) Force(v int) error            { f.forceCalls = append(f.forceCalls, v); return nil }
func (f *fakeMigrator) Version() (uint, bool, error) { return 0, false, nil }

func testDeps(t *testing.T, fm *fakeMigrator) deps {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return deps{
		loadEnv: func(...string) error { return nil },
		getenv: func(k string) string {
			if k == "DATABASE_URL" {
				return "postgres://example"
			}
			return ""
		},
		openDB:      func(string) (*sql.DB, error) { return db, nil },
		newMigrator: func(*sql.DB) (database.Migrator, error) { return fm, nil },
	}
}

func TestParseArgs_Defaults(t *testing.T) {
	o, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if o.Direction != "up" {
		t.Fatalf("expected direction up, got %q", o.Direction)
	}
	if o.Steps != 0 {
		t.Fatalf("expected steps 0, got %d", o.Steps)
	}
	if o.Force != -1 {
		t.Fatalf("expected force -1, got %d", o.Force)
	}
	if o.ForceDirty {
		t.Fatalf("expected forceDirty false")
	}
}

func TestParseArgs_InvalidDirection(t *testing.T) {
	_, err := parseArgs([]string{"-direction", "sideways"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseArgs_Force(t *testing.T) {
	o, err := parseArgs([]string{"-force", "12"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if o.Force != 12 {
		t.Fatalf("expected force 12, got %d", o.Force)
	}
}

func TestRun_MissingDatabaseURL(t *testing.T) {
	_, err := run(nil, deps{
		loadEnv: func(...string) error { return nil },
		getenv:  func(string) string { return "" },
		openDB: func(string) (*sql.DB, error) {
			t.Fatalf("openDB should not be called")
			return nil, nil
		},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_NoChange(t *testing.T) {
	fm := &fakeMigrator{upErr: migrate.ErrNoChange}
	msg, err := run([]string{"-direction", "up"}, testDeps(t, fm))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fm.upCalls != 1 {
		t.Fatalf("expected Up called once, got %d", fm.upCalls)
	}
	if msg != "No migrations to apply" {
		t.Fatalf("expected no-change msg, got %q", msg)
	}
}

func TestRun_StepsDown(t *testing.T) {
	fm := &fakeMigrator{}
	msg, err := run([]string{"-direction", "down", "-steps", "2"}, testDeps(t, fm))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fm.stepsCalls) != 1 || fm.stepsCalls[0] != -2 {
		t.Fatalf("expected Steps(-2), got %#v", fm.stepsCalls)
	}
	if msg != "Migration down completed successfully" {
		t.Fatalf("unexpected msg: %q", msg)
	}
}

func TestRun_OpenDBError(t *testing.T) {
	d := testDeps(t, &fakeMigrator{})
	d.openDB = func(string) (*sql.DB, error) { return nil, sql.ErrConnDone }
	if _, err := run([]string{"-direction", "up"}, d); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_NewMigratorMissing(t *testing.T) {
	d := testDeps(t, &fakeMigrator{})
	d.newMigrator = nil
	if _, err := run([]string{"-direction", "up"}, d); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_NewMigratorError(t *testing.T) {
	d := testDeps(t, &fakeMigrator{})
	d.newMigrator = func(*sql.DB) (database.Migrator, error) { return nil, errors.New("no driver") }
	if _, err := run([]string{"-direction", "up"}, d); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_MigrateError(t *testing.T) {
	fm := &fakeMigrator{upErr: sql.ErrTxDone}
	if _, err := run([]string{"-direction", "up"}, testDeps(t, fm)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_ForceVersion_UsesMigratorForceAndExits(t *testing.T) {
	fm := &fakeMigrator{}
	msg, err := run([]string{"-force", "12"}, testDeps(t, fm))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if msg != "Forced database to version 12" {
		t.Fatalf("unexpected msg: %q", msg)
	}
	if len(fm.forceCalls) != 1 || fm.forceCalls[0] != 12 || fm.upCalls != 0 {
		t.Fatalf("expected only Force(12), got force=%#v up=%d", fm.forceCalls, fm.upCalls)
	}
}

func TestDefaultDeps_NonNil(t *testing.T) {
	d := defaultDeps()
	if d.getenv == nil || d.openDB == nil || d.newMigrator == nil {
		t.Fatalf("expected default deps to be populated: %#v", d)
	}
}
