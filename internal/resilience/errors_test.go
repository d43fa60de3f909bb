package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("busy"), "create candidate"), true},
		{"wrapped explicit", fmt.Errorf("scan: %w", NewTransientError(errors.New("busy"), "")), true},
		{"plain", errors.New("store: not found"), false},
		{"connection reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", timeoutErr{}, true},
		{"sqlite busy", errors.New("sqlite: database is locked (5) (SQLITE_BUSY)"), true},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pg syntax", fmt.Errorf("query: %w", &pgconn.PgError{Code: "42601"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransientError(t *testing.T) {
	inner := errors.New("database is locked")
	err := NewTransientError(inner, "update scan job")
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose the inner error")
	}
	if got := err.Error(); got != "update scan job: database is locked" {
		t.Errorf("unexpected message %q", got)
	}
	if got := NewTransientError(inner, "").Error(); got != "database is locked" {
		t.Errorf("unexpected message %q", got)
	}
}
