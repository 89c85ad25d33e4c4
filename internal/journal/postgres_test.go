package journal

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestNewPostgresStore_EmptyDSN(t *testing.T) {
	_, err := NewPostgresStore("   ")
	if err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if !strings.Contains(err.Error(), "empty postgres dsn") {
		t.Fatalf("error = %v, want contains %q", err, "empty postgres dsn")
	}
}

func TestMapPostgresInsertError(t *testing.T) {
	if err := mapPostgresInsertError(nil); err != nil {
		t.Fatalf("nil err mapped to %v", err)
	}
	dup := &pgconn.PgError{Code: "23505"}
	if err := mapPostgresInsertError(dup); !errors.Is(err, ErrRunExists) {
		t.Fatalf("unique violation mapped to %v, want ErrRunExists", err)
	}
	other := errors.New("boom")
	if err := mapPostgresInsertError(other); err != other {
		t.Fatalf("other err mapped to %v", err)
	}
}
