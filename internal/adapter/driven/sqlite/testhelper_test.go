package sqlite

import (
	"fmt"
	"net/url"
	"testing"
)

// testMasterSecret is long enough to pass the repo's minimum-length check.
const testMasterSecret = "unit-test-master-secret"

// setupTestDB creates a named shared in-memory SQLite database. Writer and
// reader see the same data via cache=shared, and the name derived from
// t.Name() isolates parallel tests from each other.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it cannot be misread as query
	// parameters in the file: DSN. WAL does not apply in memory, so the
	// journal_mode pragma is omitted.
	safeName := url.PathEscape(t.Name())
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	writer, err := openPool(dsn, 1)
	if err != nil {
		t.Fatalf("open test db writer: %v", err)
	}

	reader, err := openPool(dsn, 4)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("open test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// newTestRepo builds a CredentialRepo over the test database with the
// shared test master secret.
func newTestRepo(t *testing.T, db *DB) *CredentialRepo {
	t.Helper()

	repo, err := NewCredentialRepo(db, testMasterSecret)
	if err != nil {
		t.Fatalf("new credential repo: %v", err)
	}
	return repo
}
