package xbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// =============================================================================
// 测试辅助函数
// =============================================================================

func newTestClient(t *testing.T, mr *miniredis.Miniredis) redis.UniversalClient {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:         mr.Addr(),
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  time.Second,
		WriteTimeout: 100 * time.Millisecond,
		MaxRetries:   -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestBus(t *testing.T, mr *miniredis.Miniredis, processID string, opts ...Option) *Bus {
	t.Helper()
	bus, err := New(newTestClient(t, mr), newTestClient(t, mr), processID, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

// recorder 收集 Handler 收到的消息。
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		keys = append(keys, m.CacheKey)
	}
	return keys
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("outcome"); ok && v.AsString() == outcome {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// =============================================================================
// 构造与消息格式
// =============================================================================

func TestNew_Validation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newTestClient(t, mr)

	_, err := New(nil, client, "p")
	assert.ErrorIs(t, err, ErrNilClient)
	_, err = New(client, nil, "p")
	assert.ErrorIs(t, err, ErrNilClient)
	_, err = New(client, client, "")
	assert.ErrorIs(t, err, ErrEmptyProcessID)
}

func TestMessage_WireFormat(t *testing.T) {
	raw, err := NewRefresh("cms::homepage", "proc-1").Encode()
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, map[string]string{
		"command":   "refreshYourLocalCacheForKey",
		"cacheKey":  "cms::homepage",
		"processId": "proc-1",
	}, fields)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantKey string
	}{
		{"valid", `{"command":"refreshYourLocalCacheForKey","cacheKey":"k","processId":"p"}`, false, "k"},
		{"not json", `refresh k`, true, ""},
		{"missing key", `{"command":"refreshYourLocalCacheForKey","processId":"p"}`, true, ""},
		{"empty key", `{"cacheKey":""}`, true, ""},
		{"json null", `null`, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, msg.CacheKey)
		})
	}
}

// =============================================================================
// Dispatch 过滤
// =============================================================================

func TestBus_Dispatch_Filters(t *testing.T) {
	// Given
	mr := miniredis.RunT(t)
	reader := sdkmetric.NewManualReader()
	bus := newTestBus(t, mr, "me",
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	rec := &recorder{}
	ctx := context.Background()

	self, _ := NewRefresh("k", "me").Encode()
	peer, _ := NewRefresh("k", "peer").Encode()
	other, _ := json.Marshal(Message{Command: "somethingElse", CacheKey: "k", ProcessID: "peer"})

	// When / Then
	assert.Equal(t, OutcomeIgnoredSelf, bus.Dispatch(ctx, self, rec.handle))
	assert.Equal(t, OutcomeMalformed, bus.Dispatch(ctx, []byte("{oops"), rec.handle))
	assert.Equal(t, OutcomeMalformed, bus.Dispatch(ctx, []byte(`{"processId":"peer"}`), rec.handle))
	assert.Equal(t, OutcomeIgnoredCommand, bus.Dispatch(ctx, other, rec.handle))
	assert.Equal(t, OutcomeDelivered, bus.Dispatch(ctx, peer, rec.handle))

	assert.Equal(t, []string{"k"}, rec.keys(), "只有来自其他进程的刷新消息会触发 handler")
	assert.Equal(t, Stats{Delivered: 1, IgnoredSelf: 1, IgnoredCommand: 1, Malformed: 2}, bus.Stats())
	assert.Equal(t, int64(2), counterValue(t, reader, "xbus.messages", "malformed"))
	assert.Equal(t, int64(1), counterValue(t, reader, "xbus.messages", "delivered"))
}

// =============================================================================
// 发布与订阅
// =============================================================================

func TestBus_PublishListen_AcrossProcesses(t *testing.T) {
	// Given
	mr := miniredis.RunT(t)
	writer := newTestBus(t, mr, "writer")
	reader := newTestBus(t, mr, "reader")
	ctx := context.Background()

	writerRec, readerRec := &recorder{}, &recorder{}
	require.NoError(t, writer.Listen(ctx, writerRec.handle))
	require.NoError(t, reader.Listen(ctx, readerRec.handle))

	// When
	require.NoError(t, writer.Publish(ctx, "cms::homepage"))

	// Then
	require.Eventually(t, func() bool {
		return len(readerRec.keys()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"cms::homepage"}, readerRec.keys())

	require.Eventually(t, func() bool {
		return writer.Stats().IgnoredSelf == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, writerRec.keys(), "发布者不处理自己的消息")
	assert.Equal(t, int64(1), writer.Stats().Published)
}

func TestBus_Publish_PayloadOnCustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := newTestBus(t, mr, "p1", WithChannel("custom"))
	ctx := context.Background()

	raw := newTestClient(t, mr).Subscribe(ctx, "custom")
	t.Cleanup(func() { _ = raw.Close() })
	_, err := raw.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "k1"))

	msg, err := raw.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "custom", msg.Channel)
	assert.JSONEq(t, `{"command":"refreshYourLocalCacheForKey","cacheKey":"k1","processId":"p1"}`, msg.Payload)
	assert.Equal(t, "custom", bus.Channel())
}

func TestBus_Publish_Errors(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := newTestBus(t, mr, "p1")
	ctx := context.Background()

	assert.ErrorIs(t, bus.Publish(ctx, ""), ErrEmptyKey)

	mr.SetError("ERR down")
	assert.Error(t, bus.Publish(ctx, "k"))
	assert.Equal(t, int64(1), bus.Stats().PublishErrors)
}

func TestBus_Lifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := newTestBus(t, mr, "p1")
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, bus.Listen(ctx, rec.handle))
	assert.ErrorIs(t, bus.Listen(ctx, rec.handle), ErrAlreadyListening)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(ctx, "k"), ErrClosed)
	assert.ErrorIs(t, bus.Listen(ctx, rec.handle), ErrClosed)
}

func TestBus_Listen_WhenStoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := newTestBus(t, mr, "p1")
	mr.Close()

	err := bus.Listen(context.Background(), (&recorder{}).handle)
	assert.Error(t, err)
	// 订阅失败后可以重试
	assert.NotErrorIs(t, err, ErrAlreadyListening)
}
