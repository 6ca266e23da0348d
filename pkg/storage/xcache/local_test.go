package xcache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Fetch_ReturnsPrivateCopy(t *testing.T) {
	// Given
	s := NewLocalStore()
	defer s.Close()
	orig := []byte(`{"title":"home","blocks":[1,2,3]}`)
	require.NoError(t, s.Save("cms::homepage", orig, Forever))

	// When: 修改写入用的切片和读出的切片
	orig[2] = 'X'
	got, ok := s.Fetch("cms::homepage")
	require.True(t, ok)
	got[2] = 'Y'

	// Then: 缓存内部不受影响
	again, ok := s.Fetch("cms::homepage")
	require.True(t, ok)
	assert.JSONEq(t, `{"title":"home","blocks":[1,2,3]}`, string(again))

	var a, b map[string]any
	require.NoError(t, json.Unmarshal(again, &a))
	require.NoError(t, json.Unmarshal([]byte(`{"title":"home","blocks":[1,2,3]}`), &b))
	assert.Equal(t, b, a)
	assert.NotSame(t, &got[0], &again[0])
}

func TestLocalStore_Fetch_WhenMissing_ReturnsFalse(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()

	v, ok := s.Fetch("nope")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestLocalStore_Save_Forever_NoTimer(t *testing.T) {
	// Given
	s := NewLocalStore()
	defer s.Close()

	// When
	require.NoError(t, s.Save("k", []byte(`1`), Forever))

	// Then
	sh := s.shard("k")
	sh.mu.Lock()
	e := sh.entries["k"]
	sh.mu.Unlock()
	require.NotNil(t, e)
	assert.Nil(t, e.timer)
	assert.True(t, e.expireAt.IsZero())

	// 推进逻辑时钟也不会过期
	s.now = func() time.Time { return time.Now().Add(100 * 365 * 24 * time.Hour) }
	_, ok := s.Fetch("k")
	assert.True(t, ok)
}

func TestLocalStore_Save_FiniteTTL_EvictsAfterDeadline(t *testing.T) {
	// Given
	s := NewLocalStore()
	defer s.Close()

	// When
	require.NoError(t, s.Save("k", []byte(`"v"`), 50*time.Millisecond))

	// Then: 到期前存在，到期后由定时器移除
	_, ok := s.Fetch("k")
	assert.True(t, ok)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok = s.Fetch("k")
	assert.False(t, ok)
}

func TestLocalStore_Save_ZeroTTL_ExpiresImmediately(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()

	require.NoError(t, s.Save("k", []byte(`"v"`), 0))

	_, ok := s.Fetch("k")
	assert.False(t, ok)
}

func TestLocalStore_Fetch_PastDeadline_BeforeTimerFires(t *testing.T) {
	// Given: 定时器还没触发，但逻辑时钟已越过截止时间
	s := NewLocalStore()
	defer s.Close()
	require.NoError(t, s.Save("k", []byte(`"v"`), time.Hour))
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	// When
	_, ok := s.Fetch("k")

	// Then
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestLocalStore_Save_Overwrite_CancelsPreviousTimer(t *testing.T) {
	// Given
	s := NewLocalStore()
	defer s.Close()
	require.NoError(t, s.Save("k", []byte(`"old"`), 30*time.Millisecond))

	// When: 覆盖为永不过期
	require.NoError(t, s.Save("k", []byte(`"new"`), Forever))
	time.Sleep(80 * time.Millisecond)

	// Then: 旧定时器不会移除新条目
	got, ok := s.Fetch("k")
	require.True(t, ok)
	assert.Equal(t, `"new"`, string(got))
}

func TestLocalStore_Save_InvalidInput_LeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
		ttl   time.Duration
		want  error
	}{
		{"negative ttl", []byte(`"v2"`), -1 * time.Second, ErrInvalidTTL},
		{"nil value", nil, 5 * time.Second, ErrNilValue},
		{"null value", []byte("null"), 5 * time.Second, ErrNilValue},
		{"blank value", []byte("  "), 5 * time.Second, ErrNilValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			s := NewLocalStore()
			defer s.Close()
			require.NoError(t, s.Save("k", []byte(`"v1"`), Forever))

			// When
			err := s.Save("k", tt.value, tt.ttl)

			// Then
			assert.ErrorIs(t, err, tt.want)
			got, ok := s.Fetch("k")
			require.True(t, ok)
			assert.Equal(t, `"v1"`, string(got))
		})
	}
}

func TestLocalStore_Save_EmptyKey(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()

	assert.ErrorIs(t, s.Save("", []byte(`1`), Forever), ErrEmptyKey)
}

func TestLocalStore_Delete(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()
	require.NoError(t, s.Save("k", []byte(`1`), time.Hour))

	s.Delete("k")
	s.Delete("missing")

	_, ok := s.Fetch("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestLocalStore_Close_StopsTimersAndRejectsWrites(t *testing.T) {
	// Given
	s := NewLocalStore()
	require.NoError(t, s.Save("a", []byte(`1`), time.Hour))
	require.NoError(t, s.Save("b", []byte(`2`), Forever))

	// When
	s.Close()
	s.Close()

	// Then
	assert.Equal(t, 0, s.Len())
	_, ok := s.Fetch("a")
	assert.False(t, ok)
	assert.ErrorIs(t, s.Save("c", []byte(`3`), Forever), ErrClosed)
}

func TestLocalStore_ShardsSpreadKeys(t *testing.T) {
	s := NewLocalStore()
	defer s.Close()

	for i := range 200 {
		require.NoError(t, s.Save(string(rune('a'+i%26))+string(rune('0'+i)), []byte(`1`), Forever))
	}

	used := 0
	for i := range s.shards {
		if len(s.shards[i].entries) > 0 {
			used++
		}
	}
	assert.Equal(t, 200, s.Len())
	assert.Greater(t, used, 1)
}
