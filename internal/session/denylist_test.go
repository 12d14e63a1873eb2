package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*Denylist, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	d, err := NewDenylist("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create denylist: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, s
}

func TestNewDenylist(t *testing.T) {
	d, _ := setupTestRedis(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewDenylistBadURL(t *testing.T) {
	if _, err := NewDenylist("not a url"); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestRevokeAndCheck(t *testing.T) {
	d, _ := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := d.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("expected fresh token to be allowed")
	}

	if err := d.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err = d.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected token to be revoked")
	}

	other, _ := d.IsRevoked(ctx, "jti-2")
	if other {
		t.Fatal("revocation leaked to another token")
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	d, s := setupTestRedis(t)
	ctx := context.Background()

	if err := d.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	revoked, err := d.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("expected denylist entry to expire")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	d, s := setupTestRedis(t)
	if err := d.Revoke(context.Background(), "jti-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if s.Exists("revoked:jti-old") {
		t.Fatal("expected no key for an already-expired token")
	}
}

func TestRevokeRequiresTokenID(t *testing.T) {
	d, _ := setupTestRedis(t)
	if err := d.Revoke(context.Background(), "", time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected error for empty token id")
	}
}
