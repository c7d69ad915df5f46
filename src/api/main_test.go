package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Yating05/contact-graspnet/src/commons"
	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
}

func equals(t *testing.T, exp, act interface{}) {
	t.Helper()
	if diff := cmp.Diff(exp, act); diff != "" {
		t.Fatalf("mismatch (-exp +act):\n%s", diff)
	}
}

func testRouter(t *testing.T) (*miniredis.Miniredis, *gin.Engine, string) {
	gin.SetMode(gin.TestMode)
	s := miniredis.RunT(t)
	pool := commons.NewRedisPool(s.Addr(), 2)
	t.Cleanup(func() { pool.Close() })
	dir := t.TempDir()
	return s, newRouter(pool, dir), dir
}

func queuedRequest(t *testing.T, s *miniredis.Miniredis) datastructures.GraspRequest {
	t.Helper()
	items, err := s.List(commons.GraspQueue)
	ok(t, err)
	equals(t, 1, len(items))
	var req datastructures.GraspRequest
	ok(t, json.Unmarshal([]byte(items[0]), &req))
	return req
}

func TestPostObjectEnqueuesRequest(t *testing.T) {
	s, router, _ := testRouter(t)

	form := url.Values{"object": {"mug"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/grasp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	equals(t, 202, w.Code)
	queued := queuedRequest(t, s)
	equals(t, "mug", queued.Object)
	equals(t, "", queued.Filename)
	equals(t, queued.Uuid, w.Header().Get("Location"))
	equals(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func multipartMesh(t *testing.T, name string, content string) (*bytes.Buffer, string) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("mesh", name)
	ok(t, err)
	_, err = fw.Write([]byte(content))
	ok(t, err)
	ok(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestPostMeshSavesUpload(t *testing.T) {
	s, router, dir := testRouter(t)

	body, contentType := multipartMesh(t, "cup.OBJ", "v 0 0 0\n")
	req := httptest.NewRequest(http.MethodPost, "/v1/grasp", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	equals(t, 202, w.Code)
	queued := queuedRequest(t, s)
	equals(t, filepath.Join(dir, queued.Uuid+".obj"), queued.Filename)
	data, err := os.ReadFile(queued.Filename)
	ok(t, err)
	equals(t, "v 0 0 0\n", string(data))
}

func TestPostRejectsBadRequests(t *testing.T) {
	s, router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/grasp", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	equals(t, 400, w.Code)

	body, contentType := multipartMesh(t, "cup.ply", "ply\n")
	req = httptest.NewRequest(http.MethodPost, "/v1/grasp", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	equals(t, 400, w.Code)

	equals(t, false, s.Exists(commons.GraspQueue))
}

func TestGetPendingResult(t *testing.T) {
	_, router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/grasp/unknown", nil))
	equals(t, 200, w.Code)
	equals(t, "{}", w.Body.String())
}

func TestGetStoredResult(t *testing.T) {
	s, router, _ := testRouter(t)

	pose := datastructures.IdentityPose()
	pose[2][3] = 0.4
	stored := datastructures.GraspResult{
		Uuid: "abc",
		Result: datastructures.ObjectGrasp{
			Object: "mug",
			Found:  true,
			Grasp:  datastructures.Grasp{Pose: pose, Score: 0.7},
		},
		ModelInfo: datastructures.ModelInfo{Build: 3},
	}
	data, err := json.Marshal(stored)
	ok(t, err)
	ok(t, s.Set(commons.ResultKey("abc"), string(data)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/grasp/abc", nil))
	equals(t, 200, w.Code)

	var res datastructures.GraspMeResult
	ok(t, json.Unmarshal(w.Body.Bytes(), &res))
	equals(t, datastructures.GraspMeResult{
		Found:     true,
		Pose:      pose,
		Score:     0.7,
		ModelInfo: datastructures.ModelInfo{Build: 3},
	}, res)
}

func TestOptionsPreflight(t *testing.T) {
	_, router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/grasp", nil))
	equals(t, 200, w.Code)
	equals(t, "POST, OPTIONS, GET, PUT", w.Header().Get("Access-Control-Allow-Methods"))
}
