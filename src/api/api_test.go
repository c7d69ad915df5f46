package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/Yating05/contact-graspnet/src/commons"
	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-resty/resty/v2"
)

func testPostGrasp(t *testing.T, baseURL string, meshName string, mesh []byte) string {
	client := resty.New()
	resp, err := client.R().
		SetFileReader("mesh", meshName, bytes.NewReader(mesh)).
		Post(baseURL + "/v1/grasp")

	ok(t, err)
	equals(t, 202, resp.StatusCode()) //grasp prediction happens asynchronously

	h := resp.Header()["Location"]
	if len(h) != 1 {
		t.FailNow()
	}
	return h[0]
}

func testGetGrasp(t *testing.T, baseURL string, uuid string) datastructures.GraspMeResult {
	var res datastructures.GraspMeResult

	client := resty.New()
	resp, err := client.R().
		SetResult(&res).
		Get(baseURL + "/v1/grasp/" + uuid)

	ok(t, err)
	equals(t, 200, resp.StatusCode())
	return res
}

// completeRequest plays the predict worker: it pops the queued request and
// stores a result for it.
func completeRequest(t *testing.T, s *miniredis.Miniredis, result datastructures.GraspResult) datastructures.GraspRequest {
	data, err := s.Lpop(commons.GraspQueue)
	ok(t, err)
	var req datastructures.GraspRequest
	ok(t, json.Unmarshal([]byte(data), &req))

	result.Uuid = req.Uuid
	serialized, err := json.Marshal(result)
	ok(t, err)
	ok(t, s.Set(commons.ResultKey(req.Uuid), string(serialized)))
	return req
}

func TestGraspRoundTrip(t *testing.T) {
	s, router, _ := testRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	uuid := testPostGrasp(t, server.URL, "box.stl", []byte("solid box\nendsolid box\n"))
	if uuid == "" {
		t.Fatal("expected a uuid")
	}
	equals(t, datastructures.GraspMeResult{}, testGetGrasp(t, server.URL, uuid))

	pose := datastructures.IdentityPose()
	req := completeRequest(t, s, datastructures.GraspResult{
		Result: datastructures.ObjectGrasp{Found: true, Grasp: datastructures.Grasp{Pose: pose, Score: 0.5}},
	})
	equals(t, uuid, req.Uuid)

	res := testGetGrasp(t, server.URL, uuid)
	equals(t, true, res.Found)
	equals(t, pose, res.Pose)
	equals(t, float32(0.5), res.Score)
}

func TestGraspFailureIsReported(t *testing.T) {
	s, router, _ := testRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	uuid := testPostGrasp(t, server.URL, "broken.off", []byte("OFF\n"))
	completeRequest(t, s, datastructures.GraspResult{Error: "read mesh: unexpected EOF"})

	res := testGetGrasp(t, server.URL, uuid)
	equals(t, false, res.Found)
	equals(t, "read mesh: unexpected EOF", res.Error)
}
