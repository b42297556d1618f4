package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dshills/optisweep-go/sweep"
	"github.com/dshills/optisweep-go/sweep/emit"
)

func newTestServer(cfg ServerConfig) *Server {
	core := sweep.New(sweep.DefaultConfig(), nil, emit.NullSink{}, nil)
	return NewServer(core, cfg, nil)
}

func doRequest(s *Server, method, path, owner, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if owner != "" {
		req.Header.Set(headerOwnerID, owner)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %q: %v", rec.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	detail, _ := body["detail"].(map[string]any)
	if detail == nil {
		t.Fatalf("error body missing detail: %s", rec.Body.String())
	}
	code, _ := detail["code"].(string)
	return code
}

const createBody = `{"versionId":"v1","paramSpace":{"x":[1,2]},"concurrencyLimit":2}`

func TestSharedSecretGate(t *testing.T) {
	s := newTestServer(ServerConfig{SharedSecret: "s3cret"})

	rec := doRequest(s, http.MethodGet, "/internal/health", "", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without secret", rec.Code)
	}
	if code := errorCode(t, rec); code != string(sweep.CodeForbidden) {
		t.Errorf("code = %s, want E.FORBIDDEN", code)
	}

	rec = doRequest(s, http.MethodGet, "/internal/health", "", "", map[string]string{
		headerSharedSecret: "s3cret",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("status with secret = %d, want 200", rec.Code)
	}
}

func TestOwnerHeaderRequired(t *testing.T) {
	s := newTestServer(ServerConfig{})

	rec := doRequest(s, http.MethodPost, "/internal/optimizations", "", createBody, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without x-owner-id", rec.Code)
	}
	if code := errorCode(t, rec); code != string(sweep.CodeParamInvalid) {
		t.Errorf("code = %s, want E.PARAM_INVALID", code)
	}
}

func TestCreateAndLifecycle(t *testing.T) {
	s := newTestServer(ServerConfig{})

	rec := doRequest(s, http.MethodPost, "/internal/optimizations", "owner-1", createBody, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	jobID, _ := created["id"].(string)
	if jobID == "" {
		t.Fatalf("create response missing id: %v", created)
	}
	if created["totalTasks"] != float64(2) {
		t.Errorf("totalTasks = %v, want 2", created["totalTasks"])
	}

	rec = doRequest(s, http.MethodGet, "/internal/optimizations/"+jobID+"/status", "owner-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status status = %d", rec.Code)
	}
	report := decodeBody(t, rec)
	summary, _ := report["summary"].(map[string]any)
	if summary == nil || summary["total"] != float64(2) {
		t.Errorf("summary = %v", report["summary"])
	}

	rec = doRequest(s, http.MethodGet, "/internal/optimizations/"+jobID, "owner-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", rec.Code)
	}
	snapshot := decodeBody(t, rec)
	if snapshot["paramSpace"] == nil {
		t.Error("snapshot missing paramSpace")
	}

	rec = doRequest(s, http.MethodGet, "/internal/optimizations?limit=5", "owner-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil || len(listed) != 1 {
		t.Errorf("list = %s (err %v), want one snapshot", rec.Body.String(), err)
	}

	rec = doRequest(s, http.MethodPost, "/internal/optimizations/"+jobID+"/cancel", "owner-1", `{"reason":"manual"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	canceled := decodeBody(t, rec)
	if canceled["status"] != "canceled" {
		t.Errorf("cancel status body = %v", canceled["status"])
	}

	rec = doRequest(s, http.MethodPost, "/internal/optimizations/"+jobID+"/export", "owner-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	bundle := decodeBody(t, rec)
	if bundle["jobId"] != jobID {
		t.Errorf("bundle jobId = %v", bundle["jobId"])
	}
}

func TestOwnerScoping(t *testing.T) {
	s := newTestServer(ServerConfig{})

	rec := doRequest(s, http.MethodPost, "/internal/optimizations", "owner-1", createBody, nil)
	jobID, _ := decodeBody(t, rec)["id"].(string)

	rec = doRequest(s, http.MethodGet, "/internal/optimizations/"+jobID+"/status", "owner-2", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign status = %d, want 403", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/internal/optimizations/does-not-exist/status", "owner-1", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d, want 404", rec.Code)
	}

	// Body ownerId must agree with the header.
	mismatched := `{"ownerId":"owner-2","versionId":"v1","paramSpace":{"x":[1]},"concurrencyLimit":1}`
	rec = doRequest(s, http.MethodPost, "/internal/optimizations", "owner-1", mismatched, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("mismatched body owner = %d, want 403", rec.Code)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	s := newTestServer(ServerConfig{})

	rec := doRequest(s, http.MethodPost, "/internal/optimizations", "owner-1", `{not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", rec.Code)
	}

	rec = doRequest(s, http.MethodPost, "/internal/optimizations", "owner-1",
		`{"paramSpace":{"x":[1]},"concurrencyLimit":1}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing versionId = %d, want 400", rec.Code)
	}

	rec = doRequest(s, http.MethodPost, "/internal/optimizations", "owner-1",
		`{"versionId":"v1","paramSpace":{"x":[1]},"concurrencyLimit":0}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero concurrency = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != string(sweep.CodeParamInvalid) {
		t.Errorf("code = %s, want E.PARAM_INVALID", code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(ServerConfig{
		RateLimit: RateLimitConfig{Enabled: true, Requests: 2, Window: time.Minute},
	})

	for i := 0; i < 2; i++ {
		rec := doRequest(s, http.MethodGet, "/internal/health", "owner-1", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d, want 200", i, rec.Code)
		}
	}
	rec := doRequest(s, http.MethodGet, "/internal/health", "owner-1", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	body := decodeBody(t, rec)
	detail, _ := body["detail"].(map[string]any)
	details, _ := detail["details"].(map[string]any)
	if details == nil || details["resetAt"] == nil {
		t.Errorf("429 body missing resetAt: %s", rec.Body.String())
	}

	// Another owner has its own bucket.
	rec = doRequest(s, http.MethodGet, "/internal/health", "owner-2", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("other owner = %d, want 200", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(ServerConfig{})

	rec := doRequest(s, http.MethodGet, "/internal/health", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "optimizer" || body["status"] != "up" {
		t.Errorf("health body = %v", body)
	}
	details, _ := body["details"].(map[string]any)
	if details == nil || details["worker"] != "unknown" {
		t.Errorf("health details = %v", body["details"])
	}
}
