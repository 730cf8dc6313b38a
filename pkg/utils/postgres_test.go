package utils

import (
	"context"
	"testing"
	"time"
)

func TestWithTx_Signature(t *testing.T) {
	// WithTx needs a live *sql.DB; keep a compile-time check of the helper shape.
	var _ = WithTx
}

func TestEnsureSchema_NilDB(t *testing.T) {
	if err := EnsureSchema(context.Background(), nil, "SELECT 1"); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestPostgresPoolDefaults(t *testing.T) {
	p := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	if p.MaxOpenConns != 5 || p.MaxIdleConns != 25 || p.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected pool defaults %+v", p)
	}
}
