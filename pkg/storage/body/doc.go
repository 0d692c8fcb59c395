// Package body stores fully materialized response bodies.
//
// A body is loaded completely into memory before it is streamed, so a Store
// only ever returns whole byte slices. MemoryStore keeps bodies in process;
// RedisStore keeps them as Redis string values under a key prefix.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store, err := body.NewRedisStore(body.RedisConfig{Redis: client})
//	data, err := store.Get(ctx, "reports/2026-10.csv")
//	if errors.IsNotFound(err) {
//		// 404
//	}
package body
