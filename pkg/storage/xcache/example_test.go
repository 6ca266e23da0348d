package xcache_test

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xtier/pkg/storage/xcache"
)

func ExampleClient_GetOrInit() {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer mr.Close()

	ctx := context.Background()
	c := xcache.New()
	store := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := c.Init(ctx, store, sub); err != nil {
		panic(err)
	}
	defer c.Quit(ctx)

	calls := 0
	producer := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"title":"home"}`), nil
	}

	for range 3 {
		data, err := c.GetOrInit(ctx, "cms::homepage", producer, xcache.WithTTL(10*time.Second))
		if err != nil {
			panic(err)
		}
		fmt.Println(string(data))
	}
	fmt.Println("producer calls:", calls)
	// Output:
	// {"title":"home"}
	// {"title":"home"}
	// {"title":"home"}
	// producer calls: 1
}

func ExampleGetOrInitValue() {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer mr.Close()

	ctx := context.Background()
	c := xcache.New()
	if err := c.Init(ctx,
		redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		redis.NewClient(&redis.Options{Addr: mr.Addr()}),
	); err != nil {
		panic(err)
	}
	defer c.Quit(ctx)

	type page struct {
		Title string `json:"title"`
	}
	p, err := xcache.GetOrInitValue(ctx, c, "page", func(context.Context) (page, error) {
		return page{Title: "about"}, nil
	})
	if err != nil {
		panic(err)
	}
	fmt.Println(p.Title)
	// Output:
	// about
}
