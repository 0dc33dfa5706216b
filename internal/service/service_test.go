package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usageexport/internal/service"
)

// ── OutputGuard ────────────────────────────────────────────

func TestOutputGuard_OnePerKey(t *testing.T) {
	var g service.OutputGuard

	require.True(t, g.TryLock("/tmp/a.csv"))
	assert.False(t, g.TryLock("/tmp/a.csv"), "same output is busy")
	require.True(t, g.TryLock("/tmp/b.csv"), "other outputs are independent")
	assert.Equal(t, 2, g.Len())

	g.Unlock("/tmp/a.csv")
	g.Unlock("/tmp/b.csv")
	assert.Equal(t, 0, g.Len())

	require.True(t, g.TryLock("/tmp/a.csv"), "released output can be claimed again")
	g.Unlock("/tmp/a.csv")
}

func TestOutputGuard_UnlockUnknownKey(t *testing.T) {
	var g service.OutputGuard
	g.Unlock("/never/held.csv")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	g.WaitAll(ctx)
	assert.NoError(t, ctx.Err(), "WaitAll returns immediately when idle")
}

func TestOutputGuard_WaitAll(t *testing.T) {
	var g service.OutputGuard
	require.True(t, g.TryLock("/tmp/a.csv"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Unlock("/tmp/a.csv")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g.WaitAll(ctx)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, 0, g.Len())
}

func TestOutputGuard_ClaimWhileWaiting(t *testing.T) {
	var g service.OutputGuard
	require.True(t, g.TryLock("/tmp/a.csv"))

	waited := make(chan struct{})
	go func() {
		defer close(waited)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.WaitAll(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, g.TryLock("/tmp/b.csv"))
	g.Unlock("/tmp/a.csv")

	select {
	case <-waited:
		t.Fatal("WaitAll returned while /tmp/b.csv was still held")
	case <-time.After(50 * time.Millisecond):
	}

	g.Unlock("/tmp/b.csv")
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("WaitAll did not return after the last release")
	}
}

// ── MockEmitter ────────────────────────────────────────────

func TestMockEmitter(t *testing.T) {
	m := &service.MockEmitter{}
	ctx := context.Background()

	m.Emit(ctx, service.EventExportCompleted, map[string]int{"rows": 3})
	m.Emit(ctx, service.EventExportFailed, nil)
	m.Emit(ctx, service.EventExportCompleted, nil)

	require.Len(t, m.Snapshot(), 3)
	assert.Len(t, m.Named(service.EventExportCompleted), 2)
	assert.Equal(t, service.EventExportFailed, m.Snapshot()[1].Event)
}
