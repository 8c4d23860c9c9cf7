package redisclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, Locker) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisScheduleLocker(client, ttl)
}

func scheduleKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("lock:schedule:%s:%s", doctorID.String(), date.Format("2006-01-02"))
}

func TestWithScheduleLock_RunsCriticalSection(t *testing.T) {
	mr, locker := newTestLocker(t, 5*time.Second)
	doctorID := uuid.New()
	date := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	ran := false
	err := locker.WithScheduleLock(context.Background(), doctorID, date, func(ctx context.Context) error {
		ran = true
		// Lock is held while the critical section runs.
		assert.True(t, mr.Exists(scheduleKey(doctorID, date)))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(scheduleKey(doctorID, date)), "lock must be released afterwards")
}

func TestWithScheduleLock_HeldLockRejectsSecondCaller(t *testing.T) {
	mr, locker := newTestLocker(t, 5*time.Second)
	doctorID := uuid.New()
	date := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	// Someone else holds the lock.
	require.NoError(t, mr.Set(scheduleKey(doctorID, date), "other-token"))

	err := locker.WithScheduleLock(context.Background(), doctorID, date, func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithScheduleLock_DistinctDoctorsAndDatesDoNotContend(t *testing.T) {
	mr, locker := newTestLocker(t, 5*time.Second)
	doctorID := uuid.New()
	otherDoctor := uuid.New()
	date := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	require.NoError(t, mr.Set(scheduleKey(doctorID, date), "other-token"))

	err := locker.WithScheduleLock(context.Background(), otherDoctor, date, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err, "different doctor, same date")

	err = locker.WithScheduleLock(context.Background(), doctorID, date.AddDate(0, 0, 1), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err, "same doctor, different date")
}

func TestWithScheduleLock_PropagatesCriticalSectionError(t *testing.T) {
	mr, locker := newTestLocker(t, 5*time.Second)
	doctorID := uuid.New()
	date := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	sentinel := errors.New("insert failed")
	err := locker.WithScheduleLock(context.Background(), doctorID, date, func(ctx context.Context) error {
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.False(t, mr.Exists(scheduleKey(doctorID, date)), "lock released even on failure")
}

func TestWithScheduleLock_DoesNotReleaseForeignToken(t *testing.T) {
	mr, locker := newTestLocker(t, 50*time.Millisecond)
	doctorID := uuid.New()
	date := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	key := scheduleKey(doctorID, date)

	err := locker.WithScheduleLock(context.Background(), doctorID, date, func(ctx context.Context) error {
		// TTL expires mid-section and another caller takes the lock.
		mr.FastForward(100 * time.Millisecond)
		require.NoError(t, mr.Set(key, "other-token"))
		return nil
	})
	require.NoError(t, err)

	// The other caller's lock survives our release.
	val, getErr := mr.Get(key)
	require.NoError(t, getErr)
	assert.Equal(t, "other-token", val)
}

func TestWithScheduleLock_BoundsCriticalSectionByTTL(t *testing.T) {
	_, locker := newTestLocker(t, 30*time.Millisecond)
	doctorID := uuid.New()
	date := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	err := locker.WithScheduleLock(context.Background(), doctorID, date, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return errors.New("context should have expired")
		}
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
