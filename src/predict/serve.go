package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/Yating05/contact-graspnet/src/commons"
	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/Yating05/contact-graspnet/src/grasp"
	"github.com/garyburd/redigo/redis"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var serveFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  flagRedisAddress,
		Value: ":6379",
		Usage: "address to the Redis server",
	},
	&cli.IntFlag{
		Name:  flagRedisMaxConns,
		Value: 10,
		Usage: "max connections to Redis",
	},
	&cli.IntFlag{
		Name:  "max-worker-queue-size",
		Value: 100,
		Usage: "the size of the job queue",
	},
	&cli.IntFlag{
		Name:  "max-workers",
		Value: 2,
		Usage: "the number of workers to start, each loads its own model",
	},
	&cli.DurationFlag{
		Name:  "poll-interval",
		Value: time.Second,
		Usage: "how long to wait when the queue is empty",
	},
}

// serve pops grasp requests from Redis until interrupted.
func serve(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	library, err := loadLibrary(c)
	if err != nil {
		log.Warn("[Main] No asset library, only uploaded meshes can be processed: ", err.Error())
		library = nil
	}

	log.Debug("[Main] Starting Playground Worker...")
	redisPool := commons.NewRedisPool(c.String(flagRedisAddress), c.Int(flagRedisMaxConns))
	defer redisPool.Close()

	ckptDir := c.String(flagCkptDir)
	seed := c.Int64(flagSeed)
	opts := grasp.SceneOptions{ForwardPasses: c.Int(flagForwardPasses)}
	newHandler := func(id int) (*requestHandler, error) {
		estimator, err := grasp.Load(ckptDir, cfg, seed+int64(id))
		if err != nil {
			return nil, err
		}
		return &requestHandler{
			estimator: estimator,
			library:   library,
			pool:      redisPool,
			numPoints: c.Int(flagNumPoints),
			rng:       rand.New(rand.NewSource(seed + int64(id))),
			opts:      opts,
		}, nil
	}

	log.Debug("[Main] Starting Dispatcher...")
	jobQueue := make(chan Job, c.Int("max-worker-queue-size"))
	dispatcher := NewDispatcher(jobQueue, c.Int("max-workers"), newHandler)
	if err := dispatcher.run(ctx); err != nil {
		return err
	}
	defer dispatcher.stop()

	return pollRequests(ctx, redisPool, jobQueue, c.Duration("poll-interval"))
}

// pollRequests moves requests from the Redis queue to jobQueue until ctx is
// done.
func pollRequests(ctx context.Context, pool *redis.Pool, jobQueue chan<- Job, idle time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		redisConn := pool.Get()
		data, err := redis.Bytes(redisConn.Do("LPOP", commons.GraspQueue))
		redisConn.Close()
		if err != nil {
			if err != redis.ErrNil {
				log.Debug("[Main] Couldn't pop request: ", err.Error())
			}
			// Nothing in the queue.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idle):
			}
			continue
		}

		log.Debug("[Main] Got a new request to process")
		var graspRequest datastructures.GraspRequest
		if err := json.Unmarshal(data, &graspRequest); err != nil {
			log.Debug("[Main] Couldn't unmarshal: ", err.Error())
			continue
		}

		select {
		case jobQueue <- Job{GraspRequest: graspRequest}:
		case <-ctx.Done():
			return nil
		}
	}
}
