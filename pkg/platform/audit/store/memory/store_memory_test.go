package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "kycvault/pkg/platform/audit"
)

func TestInMemoryStore_ListByTarget(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, audit.NewEvent(audit.ActorIssuer, audit.ActionIssueToken, "tok-1", ts, nil)))
	require.NoError(t, store.Append(ctx, audit.NewEvent("BankA", audit.ActionResolveToken, "tok-1", ts.Add(time.Second), map[string]string{audit.MetaReason: "ok"})))
	require.NoError(t, store.Append(ctx, audit.NewEvent(audit.ActorSystem, audit.ActionCreateProfile, "prof-1", ts, nil)))

	events, err := store.ListByTarget(ctx, "tok-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionIssueToken, events[0].Action)
	assert.Equal(t, audit.ActionResolveToken, events[1].Action)

	events[1].Meta[audit.MetaReason] = "tampered"
	again, err := store.ListByTarget(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", again[1].Meta[audit.MetaReason], "returned events must not alias stored ones")
}

func TestInMemoryStore_ListRecent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	for _, target := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, audit.NewEvent(audit.ActorSystem, audit.ActionRevokeToken, target, time.Now(), nil)))
	}

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Target)
	assert.Equal(t, "b", recent[1].Target)
	assert.Equal(t, 3, store.Len())
}
