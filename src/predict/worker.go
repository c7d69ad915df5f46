package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"

	"github.com/Yating05/contact-graspnet/src/assets"
	"github.com/Yating05/contact-graspnet/src/commons"
	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/Yating05/contact-graspnet/src/grasp"
	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Job holds the attributes needed to perform unit of work.
type Job struct {
	GraspRequest datastructures.GraspRequest
}

// requestHandler turns a grasp request into a stored result. Every worker
// owns one, estimators are not shared between goroutines.
type requestHandler struct {
	estimator *grasp.Estimator
	library   *assets.Library
	pool      *redis.Pool
	numPoints int
	rng       *rand.Rand
	opts      grasp.SceneOptions
}

// HandlerFactory creates the handler of the worker with the given id.
type HandlerFactory func(id int) (*requestHandler, error)

func (h *requestHandler) meshPath(req datastructures.GraspRequest) (string, bool, error) {
	if req.Object != "" {
		if h.library == nil {
			return "", false, errors.New("no asset library loaded")
		}
		entry, found := h.library.Lookup(req.Object)
		if !found {
			return "", false, errors.Errorf("unknown object %q", req.Object)
		}
		return entry.MeshPath, false, nil
	}
	if req.Filename == "" {
		return "", false, errors.New("request has neither an object nor a mesh file")
	}
	return req.Filename, true, nil
}

func (h *requestHandler) predict(ctx context.Context, req datastructures.GraspRequest) (datastructures.ObjectGrasp, bool, error) {
	path, uploaded, err := h.meshPath(req)
	og := datastructures.ObjectGrasp{Object: req.Object, Input: path}
	if err != nil {
		return og, uploaded, err
	}
	mesh, err := assets.LoadMesh(path)
	if err != nil {
		return og, uploaded, err
	}
	pc, err := assets.SampleUniform(mesh, h.numPoints, h.rng)
	if err != nil {
		return og, uploaded, err
	}
	predictions, err := h.estimator.PredictSceneGrasps(ctx, pc, nil, h.opts)
	if err != nil {
		return og, uploaded, err
	}
	sg := predictions[grasp.FullSceneKey]
	og.Grasp, og.Found, err = grasp.BestGrasp(sg)
	if sg != nil {
		og.NumCandidates = sg.Len()
	}
	return og, uploaded, err
}

// handle predicts the grasp for req and stores the result for an hour.
// Failed predictions are stored too, with the error message set.
func (h *requestHandler) handle(ctx context.Context, req datastructures.GraspRequest) error {
	og, uploaded, err := h.predict(ctx, req)

	var graspResult datastructures.GraspResult
	graspResult.Uuid = req.Uuid
	graspResult.Result = og
	graspResult.ModelInfo = h.estimator.Info
	if err != nil {
		log.Debug("[Worker] Couldn't predict: ", err.Error())
		graspResult.Error = err.Error()
	}

	serialized, err := json.Marshal(graspResult)
	if err != nil {
		log.Debug("[Worker] Couldn't marshal grasp result: ", err.Error())
		return err
	}

	redisConn := h.pool.Get()
	defer redisConn.Close()
	// A result is only useful while the client polls for it.
	if _, err = redisConn.Do("SETEX", commons.ResultKey(req.Uuid), commons.ResultTTL, serialized); err != nil {
		log.Debug("[Worker] Couldn't store grasp result: ", err.Error())
		return err
	}
	if uploaded && graspResult.Error == "" {
		if err := os.Remove(req.Filename); err != nil {
			log.Debug("[Worker] Couldn't remove file ", err.Error())
		}
	}
	return nil
}

func (h *requestHandler) Close() error {
	return h.estimator.Close()
}

// NewWorker creates takes a numeric id, a channel w/ worker pool and the
// handler the worker owns.
func NewWorker(ctx context.Context, id int, workerPool chan chan Job, handler *requestHandler) Worker {
	return Worker{
		ctx:        ctx,
		id:         id,
		jobQueue:   make(chan Job),
		workerPool: workerPool,
		quitChan:   make(chan bool),
		handler:    handler,
	}
}

type Worker struct {
	ctx        context.Context
	id         int
	jobQueue   chan Job
	workerPool chan chan Job
	quitChan   chan bool
	handler    *requestHandler
}

func (w Worker) start() {
	log.Debug("[Worker] Worker ", w.id, " starting")

	go func() {
		defer w.handler.Close()
		for {
			// Add my jobQueue to the worker pool.
			w.workerPool <- w.jobQueue

			select {
			case job := <-w.jobQueue:
				// Dispatcher has added a job to my jobQueue.
				if err := w.handler.handle(w.ctx, job.GraspRequest); err != nil {
					log.Debug("[Worker] Couldn't handle request ", job.GraspRequest.Uuid, ": ", err.Error())
				}

			case <-w.quitChan:
				// We have been asked to stop.
				log.Debug("[Worker] Worker ", w.id, " stopping")
				return

			case <-w.ctx.Done():
				log.Debug("[Worker] Worker ", w.id, " stopping")
				return
			}
		}
	}()
}

func (w Worker) stop() {
	close(w.quitChan)
}

// NewDispatcher creates, and returns a new Dispatcher object.
func NewDispatcher(jobQueue chan Job, maxWorkers int, newHandler HandlerFactory) *Dispatcher {
	workerPool := make(chan chan Job, maxWorkers)

	return &Dispatcher{
		jobQueue:   jobQueue,
		maxWorkers: maxWorkers,
		workerPool: workerPool,
		newHandler: newHandler,
		quit:       make(chan struct{}),
	}
}

type Dispatcher struct {
	workerPool chan chan Job
	maxWorkers int
	jobQueue   chan Job
	newHandler HandlerFactory
	workers    []Worker
	quit       chan struct{}
	cancel     context.CancelFunc
}

// run loads the handlers of all workers before any job is taken from the
// queue. If one of them can't be created the ones already loaded are closed
// and the error is returned, nothing is dispatched in that case.
func (d *Dispatcher) run(ctx context.Context) error {
	handlers := make([]*requestHandler, 0, d.maxWorkers)
	for i := 0; i < d.maxWorkers; i++ {
		handler, err := d.newHandler(i + 1)
		if err != nil {
			for _, h := range handlers {
				if err := h.Close(); err != nil {
					log.Debug("[Dispatcher] Couldn't close handler: ", err.Error())
				}
			}
			return errors.Wrapf(err, "couldn't load the model of worker %d", i+1)
		}
		handlers = append(handlers, handler)
	}

	ctx, d.cancel = context.WithCancel(ctx)
	for i, handler := range handlers {
		worker := NewWorker(ctx, i+1, d.workerPool, handler)
		worker.start()
		d.workers = append(d.workers, worker)
	}

	go d.dispatch()
	return nil
}

func (d *Dispatcher) dispatch() {
	for {
		select {
		case job := <-d.jobQueue:
			go func() {
				select {
				case workerJobQueue := <-d.workerPool:
					workerJobQueue <- job
				case <-d.quit:
				}
			}()
		case <-d.quit:
			return
		}
	}
}

// stop cancels in-flight predictions and stops the workers.
func (d *Dispatcher) stop() {
	if d.cancel != nil {
		d.cancel()
	}
	close(d.quit)
	for _, w := range d.workers {
		w.stop()
	}
}
