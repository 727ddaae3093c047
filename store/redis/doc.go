// Package redis provides a Redis-backed checkpoint store.
//
// Each checkpoint is stored as a JSON string; a sorted set per execution
// keeps ids ordered by sequence number so List needs no client-side sort.
// An optional TTL applies to both records and execution indexes.
//
//	s := redis.NewRedisCheckpointStore(redis.RedisOptions{
//	    Addr: "localhost:6379",
//	    TTL:  24 * time.Hour,
//	})
package redis
