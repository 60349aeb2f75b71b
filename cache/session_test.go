package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistryLifecycle(t *testing.T) {
	t.Parallel()
	reg := NewSessionRegistry(SessionConfig{}, nil, nil, nil, nil, nil)

	s1 := reg.Create()
	s2 := reg.Create()
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, 2, reg.Len())

	got, ok := reg.Get(s1.ID)
	require.True(t, ok)
	assert.Same(t, s1, got)

	reg.Close(s1.ID)
	_, ok = reg.Get(s1.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())

	reg.CloseAll()
	assert.Equal(t, 0, reg.Len())
}

func TestSessionIsolationWithoutSharedTier(t *testing.T) {
	t.Parallel()
	reg := NewSessionRegistry(SessionConfig{Capacity: 10, TTL: time.Minute}, nil, nil, nil, nil, nil)
	model := newTestModel()
	ctx := context.Background()

	s1 := reg.Create()
	s2 := reg.Create()

	_, err := s1.Orchestrator().Execute(ctx, eligibleRequest(), model.fn())
	require.NoError(t, err)
	_, err = s2.Orchestrator().Execute(ctx, eligibleRequest(), model.fn())
	require.NoError(t, err)

	assert.EqualValues(t, 2, model.calls.Load(),
		"without a shared tier each session pays for its own first turn")
	assert.Equal(t, 1, s1.Len())
	assert.Equal(t, 1, s2.Len())
}

func TestSessionReuseThroughSharedTier(t *testing.T) {
	t.Parallel()
	shared := newMemShared(t, SharedCacheConfig{TTL: time.Hour})
	tel := NewTelemetry(nil)
	reg := NewSessionRegistry(SessionConfig{Capacity: 10, TTL: time.Minute}, shared, nil, tel, nil, nil)
	model := newTestModel()
	ctx := context.Background()

	s1 := reg.Create()
	_, err := s1.Orchestrator().Execute(ctx, eligibleRequest(), model.fn())
	require.NoError(t, err)

	s2 := reg.Create()
	resp, err := s2.Orchestrator().Execute(ctx, eligibleRequest(), model.fn())
	require.NoError(t, err)

	assert.EqualValues(t, 1, model.calls.Load(), "second session rides the shared tier")
	assert.Equal(t, model.text, resp.Text)

	rep := tel.Snapshot()
	assert.EqualValues(t, 1, rep.Hits)
	assert.EqualValues(t, 1, rep.Misses)
	assert.Equal(t, 1, s2.Len(), "shared hit promoted into the new session")
}

func TestSessionCloseKeepsSharedEntries(t *testing.T) {
	t.Parallel()
	shared := newMemShared(t, SharedCacheConfig{TTL: time.Hour})
	reg := NewSessionRegistry(SessionConfig{Capacity: 10, TTL: time.Minute}, shared, nil, nil, nil, nil)
	model := newTestModel()
	ctx := context.Background()

	s1 := reg.Create()
	_, err := s1.Orchestrator().Execute(ctx, eligibleRequest(), model.fn())
	require.NoError(t, err)
	reg.Close(s1.ID)

	s2 := reg.Create()
	_, err = s2.Orchestrator().Execute(ctx, eligibleRequest(), model.fn())
	require.NoError(t, err)
	assert.EqualValues(t, 1, model.calls.Load(),
		"closing a session does not take its shared entries with it")
}
