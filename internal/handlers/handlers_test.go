package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clipforge/clipforge/internal/ledger"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/runner"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/token"
	"github.com/clipforge/clipforge/internal/types"
)

type testServer struct {
	app    *fiber.App
	store  *storage.AssetStore
	ledger *ledger.Ledger
	runner *runner.Runner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.OpenDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewAssetStore(filepath.Join(dir, "uploads"), db, 1024*1024)
	if err != nil {
		t.Fatalf("NewAssetStore: %v", err)
	}
	l := ledger.New(db)

	r := runner.New(l, store, pipeline.StaticTranscriber{}, pipeline.StaticClipFinder{},
		pipeline.CopyRenderer{}, nil,
		runner.Timeouts{Transcribe: 30 * time.Second, FindClips: 30 * time.Second, Process: 30 * time.Second},
		1080, 1920)
	t.Cleanup(r.Shutdown)

	app := fiber.New(fiber.Config{BodyLimit: 2 * 1024 * 1024})

	uploadHandler := NewUploadHandler(store, l)
	jobsHandler := NewJobsHandler(r, l)
	filesHandler := NewFilesHandler(store)
	statusHandler := NewStatusHandler(time.Now())

	app.Post("/api/upload", uploadHandler.Handle)
	app.Post("/api/transcribe", jobsHandler.Transcribe)
	app.Post("/api/find_clips", jobsHandler.FindClips)
	app.Post("/api/process", jobsHandler.Process)
	app.Get("/api/jobs/:id", jobsHandler.Get)
	app.Post("/api/jobs/:id/cancel", jobsHandler.Cancel)
	app.Post("/api/jobs/:id/retry", jobsHandler.Retry)
	app.Get("/api/status", statusHandler.Handle)
	app.Get("/uploads/:name", filesHandler.Handle)

	return &testServer{app: app, store: store, ledger: l, runner: r}
}

func multipartUpload(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func (s *testServer) waitForStage(t *testing.T, jobID string, want types.Stage) types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.ledger.Get(jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Stage == want {
			return job
		}
		if job.Stage == types.StageFailed && want != types.StageFailed {
			t.Fatalf("job failed: %s", job.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", want)
	return types.Job{}
}

func TestUploadRoundTripThroughURL(t *testing.T) {
	s := newTestServer(t)

	payload := []byte("0123456789")
	resp, err := s.app.Test(multipartUpload(t, "file", "a.mp4", payload))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)

	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
	if body["original_name"] != "a.mp4" {
		t.Errorf("original_name = %v", body["original_name"])
	}
	if size, _ := body["size"].(float64); size != 10 {
		t.Errorf("size = %v, want 10", body["size"])
	}

	url, _ := body["url"].(string)
	if !strings.HasPrefix(url, "/uploads/") {
		t.Fatalf("url = %q", url)
	}

	getResp, err := s.app.Test(httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", getResp.StatusCode)
	}
	served, _ := io.ReadAll(getResp.Body)
	if !bytes.Equal(served, payload) {
		t.Errorf("served bytes differ: %q", served)
	}
}

func TestUploadMissingFile(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error"] != "No file uploaded" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestUploadEmptyFile(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(multipartUpload(t, "file", "a.mp4", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadUnsupportedFormat(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(multipartUpload(t, "file", "notes.txt", []byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServeUnknownUpload(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/uploads/nope.mp4", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func uploadAndGetJobID(t *testing.T, s *testServer) string {
	t.Helper()
	resp, err := s.app.Test(multipartUpload(t, "file", "talk.mp4", []byte("fake video bytes")))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("no job id in %v", body)
	}
	return jobID
}

func TestPipelineEndpoints(t *testing.T) {
	s := newTestServer(t)
	jobID := uploadAndGetJobID(t, s)

	resp := postJSON(t, s.app, "/api/transcribe", fiber.Map{"job_id": jobID})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("transcribe status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	s.waitForStage(t, jobID, types.StageTranscribed)

	// Starting the same stage again conflicts.
	resp = postJSON(t, s.app, "/api/transcribe", fiber.Map{"job_id": jobID})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("repeat transcribe status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, s.app, "/api/find_clips", fiber.Map{"job_id": jobID})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("find_clips status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	s.waitForStage(t, jobID, types.StageClipsFound)

	resp = postJSON(t, s.app, "/api/process", fiber.Map{
		"job_id": jobID, "operation": "trim", "clip_id": 1,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("process status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	job := s.waitForStage(t, jobID, types.StageProcessed)

	var pr types.ProcessResult
	if err := json.Unmarshal(job.Results[types.ResultProcess], &pr); err != nil {
		t.Fatalf("decode process result: %v", err)
	}

	// The rendered output is downloadable.
	getResp, err := s.app.Test(httptest.NewRequest(http.MethodGet, pr.URL, nil))
	if err != nil {
		t.Fatal(err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("GET %s status = %d", pr.URL, getResp.StatusCode)
	}
}

func TestProcessUnknownClipConflicts(t *testing.T) {
	s := newTestServer(t)
	jobID := uploadAndGetJobID(t, s)

	postJSON(t, s.app, "/api/transcribe", fiber.Map{"job_id": jobID}).Body.Close()
	s.waitForStage(t, jobID, types.StageTranscribed)
	postJSON(t, s.app, "/api/find_clips", fiber.Map{"job_id": jobID}).Body.Close()
	s.waitForStage(t, jobID, types.StageClipsFound)

	resp := postJSON(t, s.app, "/api/process", fiber.Map{
		"job_id": jobID, "operation": "trim_and_resize", "clip_id": 42,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestProcessBadOperation(t *testing.T) {
	s := newTestServer(t)
	jobID := uploadAndGetJobID(t, s)

	resp := postJSON(t, s.app, "/api/process", fiber.Map{
		"job_id": jobID, "operation": "shred", "clip_id": 1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetJobSnapshot(t *testing.T) {
	s := newTestServer(t)
	jobID := uploadAndGetJobID(t, s)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	job, _ := body["job"].(map[string]any)
	if job == nil || job["stage"] != string(types.StageCreated) {
		t.Fatalf("body = %v", body)
	}

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/unknown", nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if body["status"] != "running" || body["version"] != Version {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["features"].([]any); !ok {
		t.Error("missing features list")
	}
}

func TestValidateTokenEmptyToken(t *testing.T) {
	// A validator pointed at an unroutable endpoint proves no call is made.
	v := token.New("http://127.0.0.1:0/unreachable", failingDoer{})
	app := fiber.New()
	app.Post("/api/validate_token", NewTokenHandler(v).Handle)

	resp := postJSON(t, app, "/api/validate_token", fiber.Map{"token": ""})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != false || body["valid"] != false || body["error"] != "No token provided" {
		t.Errorf("body = %v", body)
	}
}

func TestValidateTokenUpstreamStatuses(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.WriteHeader(http.StatusOK)
		case "Bearer unlicensed":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer upstream.Close()

	v := token.New(upstream.URL, upstream.Client())
	app := fiber.New()
	app.Post("/api/validate_token", NewTokenHandler(v).Handle)

	resp := postJSON(t, app, "/api/validate_token", fiber.Map{"token": "good"})
	body := decodeBody(t, resp)
	if body["valid"] != true {
		t.Errorf("good token body = %v", body)
	}

	resp = postJSON(t, app, "/api/validate_token", fiber.Map{"token": "bad"})
	body = decodeBody(t, resp)
	if body["valid"] != false {
		t.Errorf("bad token body = %v", body)
	}

	resp = postJSON(t, app, "/api/validate_token", fiber.Map{"token": "unlicensed"})
	body = decodeBody(t, resp)
	if body["license_url"] == nil {
		t.Errorf("unlicensed body = %v", body)
	}
}

type failingDoer struct{}

func (failingDoer) Do(req *http.Request) (*http.Response, error) {
	return nil, fmt.Errorf("network must not be touched for empty tokens")
}
