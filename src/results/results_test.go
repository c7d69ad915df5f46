package results

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/alicebob/miniredis/v2"
	"github.com/garyburd/redigo/redis"
	"github.com/sbinet/npyio/npz"
)

func TestKey(t *testing.T) {
	equals(t, "0/mug", Key(datastructures.ObjectGrasp{Object: "mug", Input: "/data/0.npy"}))
	equals(t, "mug", Key(datastructures.ObjectGrasp{Object: "mug"}))
}

func TestNpzSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.npz")
	sink := NewNpzSink(path)
	ok(t, sink.Store(context.Background(), "run", testGrasps()))
	ok(t, sink.Close())

	r, err := npz.Open(path)
	ok(t, err)
	defer r.Close()

	var pose []float64
	ok(t, r.Read("0/mug.npy", &pose))
	equals(t, testGrasps()[0].Grasp.Pose.Flat(), pose)
	equals(t, []int{4, 4}, r.Header("0/mug.npy").Descr.Shape)

	var sentinel []float64
	ok(t, r.Read("0/bowl.npy", &sentinel))
	equals(t, []float64{0}, sentinel)
	equals(t, []int{1}, r.Header("0/bowl.npy").Descr.Shape)
}

func TestNpzSinkRejectsDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.npz")
	grasps := []datastructures.ObjectGrasp{
		{Object: "mug", Input: "/data/a/0.npy"},
		{Object: "mug", Input: "/data/b/0.npy"},
	}
	if err := NewNpzSink(path).Store(context.Background(), "run", grasps); err == nil {
		t.Fatal("expected an error for inputs sharing a stem")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("archive should not be written, stat returned %v", err)
	}
}

func TestRedisSink(t *testing.T) {
	s := miniredis.RunT(t)
	pool := &redis.Pool{Dial: func() (redis.Conn, error) { return redis.Dial("tcp", s.Addr()) }}
	defer pool.Close()

	sink := NewRedisSink(pool, 3600)
	ok(t, sink.Store(context.Background(), "42", testGrasps()))

	data, err := s.Get("grasp42:0/mug")
	ok(t, err)
	var stored datastructures.ObjectGrasp
	ok(t, json.Unmarshal([]byte(data), &stored))
	equals(t, testGrasps()[0], stored)
	if ttl := s.TTL("grasp42:0/bowl"); ttl <= 0 {
		t.Fatalf("expected an expiry, got %v", ttl)
	}
}

func TestRedisSinkCancelled(t *testing.T) {
	s := miniredis.RunT(t)
	pool := &redis.Pool{Dial: func() (redis.Conn, error) { return redis.Dial("tcp", s.Addr()) }}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRedisSink(pool, 60).Store(ctx, "42", testGrasps())
	equals(t, true, errors.Is(err, context.Canceled))
	equals(t, false, s.Exists("grasp42:0/mug"))
}

func TestSqliteSink(t *testing.T) {
	sink, err := NewSqliteSink(filepath.Join(t.TempDir(), "grasps.db"))
	ok(t, err)
	defer sink.Close()

	ctx := context.Background()
	ok(t, sink.Store(ctx, "a", testGrasps()))
	ok(t, sink.Store(ctx, "b", testGrasps()[:1]))

	stored, err := sink.Load(ctx, "a")
	ok(t, err)
	equals(t, testGrasps(), stored)

	stored, err = sink.Load(ctx, "b")
	ok(t, err)
	equals(t, 1, len(stored))
}

func TestMultiCombinesErrors(t *testing.T) {
	failing := failingSink{err: errors.New("disk full")}
	m := Multi{failing, failing}
	err := m.Store(context.Background(), "run", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	equals(t, "disk full; disk full", err.Error())
}

type failingSink struct {
	err error
}

func (f failingSink) Store(context.Context, string, []datastructures.ObjectGrasp) error {
	return f.err
}

func (f failingSink) Close() error {
	return nil
}
