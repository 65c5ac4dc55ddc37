package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/models"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
)

type fakeCache struct {
	values map[string][]byte
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string][]byte)}
}

func (f *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := f.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.values[key] = raw
	f.sets++
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	delete(f.values, key)
	return nil
}

type fixedCounter struct {
	count int
	calls int
}

func (f *fixedCounter) CountPending(ctx context.Context, commissariatID string) (int, error) {
	f.calls++
	return f.count, nil
}

func TestNotificationServiceCachesCount(t *testing.T) {
	counter := &fixedCounter{count: 7}
	cache := newFakeCache()
	svc := NewNotificationService(counter, cache, 30*time.Second, zap.NewNop())

	res, err := svc.PendingCount(context.Background(), agentClaims("c-1"), "c-1")
	require.NoError(t, err)
	assert.Equal(t, 7, res.Pending)
	assert.Equal(t, 1, counter.calls)

	// Second poll inside the TTL is served from cache.
	res, err = svc.PendingCount(context.Background(), agentClaims("c-1"), "c-1")
	require.NoError(t, err)
	assert.Equal(t, 7, res.Pending)
	assert.Equal(t, 1, counter.calls)
}

func TestNotificationServiceInvalidateForcesRefresh(t *testing.T) {
	counter := &fixedCounter{count: 3}
	cache := newFakeCache()
	svc := NewNotificationService(counter, cache, 30*time.Second, zap.NewNop())

	_, err := svc.PendingCount(context.Background(), agentClaims("c-1"), "c-1")
	require.NoError(t, err)

	counter.count = 4
	svc.Invalidate(context.Background(), "c-1")

	res, err := svc.PendingCount(context.Background(), agentClaims("c-1"), "c-1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Pending)
	assert.Equal(t, 2, counter.calls)
}

func TestNotificationServiceScopeEnforced(t *testing.T) {
	svc := NewNotificationService(&fixedCounter{}, newFakeCache(), time.Second, zap.NewNop())

	_, err := svc.PendingCount(context.Background(), agentClaims("c-2"), "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Citizens never see the counter.
	citizen := &models.JWTClaims{UserID: "u-1", Role: models.RoleUser}
	_, err = svc.PendingCount(context.Background(), citizen, "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestNotificationServiceAdminReadsAnyCommissariat(t *testing.T) {
	svc := NewNotificationService(&fixedCounter{count: 2}, newFakeCache(), time.Second, zap.NewNop())

	admin := &models.JWTClaims{UserID: "adm", Role: models.RoleAdmin}
	res, err := svc.PendingCount(context.Background(), admin, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pending)
}
