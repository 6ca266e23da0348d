package xcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type homepage struct {
	Title  string   `json:"title"`
	Blocks []string `json:"blocks"`
}

func TestGetOrInitValue_RoundTrip(t *testing.T) {
	// Given
	mr := miniredis.RunT(t)
	c := newTestCache(t, mr)
	producer := func(context.Context) (homepage, error) {
		return homepage{Title: "home", Blocks: []string{"hero", "news"}}, nil
	}

	// When
	first, err := GetOrInitValue(context.Background(), c, "cms::homepage", producer, WithTTL(10*time.Second))
	require.NoError(t, err)
	first.Blocks[0] = "mutated"
	_, nilErr := GetOrInitValue[homepage](context.Background(), c, "cms::homepage", nil)
	second, err := GetOrInitValue(context.Background(), c, "cms::homepage", producer)

	// Then
	assert.ErrorIs(t, nilErr, ErrNilProducer)
	require.NoError(t, err)
	assert.Equal(t, homepage{Title: "home", Blocks: []string{"hero", "news"}}, second)

	remote, err := mr.Get("cms::homepage")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"home","blocks":["hero","news"]}`, remote)
}

func TestGetOrInitValue_NilPointer_IsNilValue(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCache(t, mr)

	_, err := GetOrInitValue(context.Background(), c, "k", func(context.Context) (*homepage, error) {
		return nil, nil
	})

	assert.ErrorIs(t, err, ErrNilValue)
	assert.False(t, mr.Exists("k"))
}

func TestGetOrInitValue_ProducerError(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestCache(t, mr)
	boom := errors.New("boom")

	_, err := GetOrInitValue(context.Background(), c, "k", func(context.Context) (int, error) {
		return 0, boom
	})

	assert.ErrorIs(t, err, ErrProducerFailed)
	assert.ErrorIs(t, err, boom)
}

func TestGetOrInitValue_CachedShapeMismatch(t *testing.T) {
	// Given: 远端存的是数组
	mr := miniredis.RunT(t)
	c := newTestCache(t, mr)
	require.NoError(t, mr.Set("k", `[1,2]`))

	// When
	_, err := GetOrInitValue(context.Background(), c, "k", func(context.Context) (homepage, error) {
		return homepage{}, nil
	})

	// Then
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestAttemptRegenerationValue(t *testing.T) {
	// Given
	mr := miniredis.RunT(t)
	c := newTestCache(t, mr)
	require.NoError(t, mr.Set("counter", `1`))

	// When
	got, err := AttemptRegenerationValue(context.Background(), c, "counter", func(context.Context) (int, error) {
		return 2, nil
	})

	// Then
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	remote, _ := mr.Get("counter")
	assert.Equal(t, "2", remote)

	_, err = AttemptRegenerationValue[int](context.Background(), c, "counter", nil)
	assert.ErrorIs(t, err, ErrNilProducer)
}
