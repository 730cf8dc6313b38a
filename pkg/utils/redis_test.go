package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHashSwapScriptCompiles(t *testing.T) {
	if hashSwapScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestHashSwapArgs_Layout(t *testing.T) {
	args := hashSwapArgs("status", "accepted", []string{"ringing"}, []string{"updated_at", "42"})
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if args[0] != "status" || args[1] != "accepted" || args[2] != 1 || args[3] != "ringing" {
		t.Fatalf("unexpected head %v", args[:4])
	}
	if args[4] != "updated_at" || args[5] != "42" {
		t.Fatalf("unexpected extra pairs %v", args[4:])
	}
}

func TestHSwapIfIn_RejectsOddExtra(t *testing.T) {
	_, _, err := HSwapIfIn(context.Background(), nil, "k", "f", "v", nil, "dangling")
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, ErrKeyMissing) {
		t.Fatalf("argument errors must not look like a missing key")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if c.PoolSize != 20 || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
}
