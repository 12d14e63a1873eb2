package store

import (
	"context"
	"testing"
	"time"
)

func TestPoolConfigResolved(t *testing.T) {
	tests := []struct {
		name string
		in   PoolConfig
		want PoolConfig
	}{
		{
			name: "defaults",
			want: PoolConfig{MaxOpen: 25, MaxIdle: 5, MaxLifetime: time.Hour, MaxIdleTime: 10 * time.Minute},
		},
		{
			name: "idle capped at open",
			in:   PoolConfig{MaxOpen: 3, MaxIdle: 8},
			want: PoolConfig{MaxOpen: 3, MaxIdle: 3, MaxLifetime: time.Hour, MaxIdleTime: 10 * time.Minute},
		},
		{
			name: "explicit values kept",
			in:   PoolConfig{MaxOpen: 50, MaxIdle: 10, MaxLifetime: time.Minute, MaxIdleTime: time.Second},
			want: PoolConfig{MaxOpen: 50, MaxIdle: 10, MaxLifetime: time.Minute, MaxIdleTime: time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.resolved(); got != tt.want {
				t.Fatalf("resolved() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOpenPingsAndAppliesPool(t *testing.T) {
	dsn := testDSN(t)
	db, err := Open(context.Background(), dsn, PoolConfig{MaxOpen: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	if got := db.Stats().MaxOpenConnections; got != 4 {
		t.Fatalf("MaxOpenConnections = %d, want 4", got)
	}
}
