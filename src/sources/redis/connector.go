package redis

import (
	"os"
	"time"

	"github.com/gomodule/redigo/redis"
)

var pool *redis.Pool

// GetPoolInstance returns the shared connection pool. REDIS_HOST and
// REDIS_PASSWORD configure it.
func GetPoolInstance() *redis.Pool {
	if pool == nil {
		pool = &redis.Pool{
			MaxIdle:     4,
			IdleTimeout: 240 * time.Second,
			Dial: func() (redis.Conn, error) {
				addr := os.Getenv("REDIS_HOST")
				password := os.Getenv("REDIS_PASSWORD")
				opts := []redis.DialOption{}
				if password != "" {
					opts = append(opts, redis.DialPassword(password))
				}
				return redis.Dial("tcp", addr, opts...)
			},
		}
	}
	return pool
}
