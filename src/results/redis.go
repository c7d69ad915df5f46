package results

import (
	"context"
	"encoding/json"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// RedisSink stores every grasp as JSON under grasp<runID>:<key> with an
// expiry.
type RedisSink struct {
	pool *redis.Pool
	ttl  int
}

func NewRedisSink(pool *redis.Pool, ttl int) *RedisSink {
	return &RedisSink{pool: pool, ttl: ttl}
}

func RedisKey(runID string, g datastructures.ObjectGrasp) string {
	return "grasp" + runID + ":" + Key(g)
}

func (s *RedisSink) Store(ctx context.Context, runID string, grasps []datastructures.ObjectGrasp) error {
	conn := s.pool.Get()
	defer conn.Close()

	for _, g := range grasps {
		if err := ctx.Err(); err != nil {
			return err
		}
		serialized, err := json.Marshal(g)
		if err != nil {
			log.Debug("[Results] Couldn't marshal grasp: ", err.Error())
			return err
		}
		if _, err := conn.Do("SETEX", RedisKey(runID, g), s.ttl, serialized); err != nil {
			log.Debug("[Results] Couldn't store grasp: ", err.Error())
			return errors.Wrapf(err, "store %s", Key(g))
		}
	}
	return nil
}

// Close leaves the pool open, it is owned by the caller.
func (s *RedisSink) Close() error {
	return nil
}
