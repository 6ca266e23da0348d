package xdlock

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeHandle 记录 Extend 调用次数，可配置返回错误。
type fakeHandle struct {
	extends atomic.Int32
	err     error
}

func (h *fakeHandle) Unlock(context.Context) error { return nil }
func (h *fakeHandle) Key() string                  { return "lock:fake" }
func (h *fakeHandle) Extend(context.Context) error {
	h.extends.Add(1)
	return h.err
}

// syncBuffer 是并发安全的日志缓冲区。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLeaseRenewer_ExtendsPeriodically(t *testing.T) {
	// Given
	handle := &fakeHandle{}

	// When
	r := StartRenewer(handle, 10*time.Millisecond, time.Hour)
	require.Eventually(t, func() bool { return r.Renewals() >= 3 }, time.Second, 5*time.Millisecond)
	r.Stop()

	// Then
	stopped := handle.extends.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, handle.extends.Load(), "Stop 后不应继续续期")
	assert.Zero(t, r.Failures())
	assert.False(t, r.Expired())
}

func TestLeaseRenewer_FailureIsLoggedAndRetriedNextTick(t *testing.T) {
	// Given
	handle := &fakeHandle{err: errors.New("boom")}
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	// When
	r := StartRenewer(handle, 10*time.Millisecond, time.Hour, WithRenewLogger(logger))
	require.Eventually(t, func() bool { return r.Failures() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()

	// Then
	assert.Zero(t, r.Renewals())
	assert.Contains(t, logs.String(), "xdlock: lease renewal failed")
	assert.Contains(t, logs.String(), "lock:fake")
}

func TestLeaseRenewer_DeadlineAdvancesOnlyOnSuccess(t *testing.T) {
	failing := &fakeHandle{err: errors.New("boom")}
	r := StartRenewer(failing, 10*time.Millisecond, 30*time.Millisecond,
		WithRenewLogger(slog.New(slog.DiscardHandler)))
	initial := r.EstimatedDeadline()
	require.Eventually(t, r.Expired, time.Second, 5*time.Millisecond)
	r.Stop()
	assert.Equal(t, initial, r.EstimatedDeadline())

	ok := &fakeHandle{}
	r = StartRenewer(ok, 10*time.Millisecond, 30*time.Millisecond)
	initial = r.EstimatedDeadline()
	require.Eventually(t, func() bool { return r.Renewals() >= 1 }, time.Second, 5*time.Millisecond)
	r.Stop()
	assert.True(t, r.EstimatedDeadline().After(initial))
}

func TestLeaseRenewer_StopIsIdempotent(t *testing.T) {
	r := StartRenewer(&fakeHandle{}, time.Hour, time.Hour)
	r.Stop()
	r.Stop()
}

func TestLeaseRenewer_NilHandle(t *testing.T) {
	r := StartRenewer(nil, 0, 0)
	r.Stop()
	assert.Zero(t, r.Renewals())
	assert.Equal(t, DefaultRenewInterval, r.interval)
	assert.Equal(t, DefaultExpiry, r.ttl)
}

func TestLeaseRenewer_RecoversAfterFailure(t *testing.T) {
	// Given
	ctrl := gomock.NewController(t)
	handle := NewMockLockHandle(ctrl)
	handle.EXPECT().Key().Return("cachelock::k").AnyTimes()
	gomock.InOrder(
		handle.EXPECT().Extend(gomock.Any()).Return(ErrExtendFailed),
		handle.EXPECT().Extend(gomock.Any()).Return(nil).MinTimes(1),
	)

	// When
	r := StartRenewer(handle, 10*time.Millisecond, time.Hour)
	require.Eventually(t, func() bool { return r.Renewals() >= 1 }, time.Second, 5*time.Millisecond)
	r.Stop()

	// Then
	assert.Equal(t, int64(1), r.Failures())
	assert.False(t, r.Expired())
}

func TestLeaseRenewer_RenewTimeout_BoundsEachExtend(t *testing.T) {
	tests := []struct {
		name string
		opts []RenewOption
		want time.Duration
	}{
		{"defaults to interval", nil, 10 * time.Millisecond},
		{"explicit", []RenewOption{WithRenewTimeout(5 * time.Second)}, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			ctrl := gomock.NewController(t)
			handle := NewMockLockHandle(ctrl)
			handle.EXPECT().Key().Return("cachelock::k").AnyTimes()
			budgets := make(chan time.Duration, 1)
			handle.EXPECT().Extend(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
				deadline, ok := ctx.Deadline()
				if ok {
					select {
					case budgets <- time.Until(deadline):
					default:
					}
				}
				return nil
			}).MinTimes(1)

			// When
			r := StartRenewer(handle, 10*time.Millisecond, time.Hour, tt.opts...)
			var budget time.Duration
			select {
			case budget = <-budgets:
			case <-time.After(time.Second):
				t.Fatal("Extend was not called")
			}
			r.Stop()

			// Then
			assert.LessOrEqual(t, budget, tt.want)
			assert.Greater(t, budget, tt.want/2)
		})
	}
}
