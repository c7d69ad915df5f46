package commons

import (
	"time"

	"github.com/garyburd/redigo/redis"
)

const (
	// GraspQueue is the Redis list grasp requests are pushed to.
	GraspQueue = "graspme"
	// ResultTTL is how long results are kept, in seconds. Clients are
	// expected to poll well within that time.
	ResultTTL = 3600
)

// ResultKey is the Redis key a grasp result is stored under.
func ResultKey(uuid string) string {
	return "grasp" + uuid
}

func NewRedisPool(address string, maxConnections int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     maxConnections,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", address)
		},
	}
}
