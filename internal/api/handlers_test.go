package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"deepguard/internal/config"
	"deepguard/internal/extract"
	"deepguard/internal/fetch"
	"deepguard/internal/models"
	"deepguard/internal/service/history"
	"deepguard/internal/service/inference"
	"deepguard/internal/service/scan"
	"deepguard/internal/staging"
	"deepguard/internal/storage"
	"deepguard/internal/worker"
)

type testServer struct {
	router  *gin.Engine
	db      *sql.DB
	staging string
	media   *httptest.Server
}

func newTestServer(t *testing.T, opts Options, origins ...string) *testServer {
	t.Helper()
	return newTestServerWithDetectors(t, opts, inference.DefaultDetectors(), origins...)
}

func newTestServerWithDetectors(t *testing.T, opts Options, detectors inference.Detectors, origins ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stagingDir := t.TempDir()
	store, err := staging.NewLocalStore(stagingDir, 1<<20)
	if err != nil {
		t.Fatalf("staging store: %v", err)
	}

	mediaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/clip.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("fake mp4 payload"))
		case "/media/voice.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3 fake payload"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(mediaSrv.Close)

	historySvc := history.NewService(db)
	scans := scan.NewService(scan.Deps{
		Store:      store,
		Detectors:  detectors,
		Aggregator: inference.NewWeightedMean(nil, 2),
		Extractor:  extract.New(extract.DirectResolver{}, nil, 0),
		Fetcher:    fetch.New(store, fetch.Options{Timeout: 5 * time.Second}),
		History:    historySvc,
	})
	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 4, QueueSize: 16})
	t.Cleanup(dispatcher.Close)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := NewHandler(scans, historySvc, dispatcher, opts)
	router := gin.New()
	router.Use(CORSMiddleware(origins))
	handler.RegisterRoutes(router)
	return &testServer{router: router, db: db, staging: stagingDir, media: mediaSrv}
}

func TestVideoScanClip(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := doMultipartRequest(t, srv.router, "/video/scan", "file", "clip.avi", []byte("RIFF fake avi"))
	assertStatus(t, rec, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp["status"] != "success" {
		t.Fatalf("unexpected status field: %v", resp["status"])
	}
	if resp["deepfake_probability"] != 0.88 {
		t.Fatalf("expected 0.88, got %v", resp["deepfake_probability"])
	}
	breakdown, ok := resp["model_breakdown"].(map[string]interface{})
	if !ok || breakdown["cnn_score"] != 0.84 || breakdown["forensics_score"] != 0.91 {
		t.Fatalf("unexpected breakdown: %v", resp["model_breakdown"])
	}
	assertStagingEmpty(t, srv.staging)
	if n := countRecords(t, srv.db); n != 1 {
		t.Fatalf("expected 1 history record, got %d", n)
	}
}

func TestAudioScanReportsVoiceCloneProbability(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := doMultipartRequest(t, srv.router, "/audio/scan", "file", "Memo.M4A", []byte("audio"))
	assertStatus(t, rec, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp["voice_clone_probability"] != 0.88 {
		t.Fatalf("expected voice_clone_probability 0.88, got %v", resp)
	}
	if _, ok := resp["deepfake_probability"]; ok {
		t.Fatalf("audio responses should not carry deepfake_probability")
	}
	assertStagingEmpty(t, srv.staging)
}

type slowDetector struct {
	delay time.Duration
}

func (d slowDetector) Detect(ctx context.Context, _ string) (models.ScoreSet, error) {
	time.Sleep(d.delay)
	return models.ScoreSet{"cnn_score": 0.5}, nil
}

func TestScanTimeoutReleasesStagedFile(t *testing.T) {
	detectors := inference.DefaultDetectors()
	detectors[models.MediaVideo] = slowDetector{delay: 300 * time.Millisecond}
	srv := newTestServerWithDetectors(t, Options{ScanTimeout: 50 * time.Millisecond}, detectors)

	rec := doMultipartRequest(t, srv.router, "/video/scan", "file", "clip.avi", []byte("RIFF fake avi"))
	assertStatus(t, rec, http.StatusGatewayTimeout)
	assertStagingEmpty(t, srv.staging)
	if n := countRecords(t, srv.db); n != 0 {
		t.Fatalf("timed out scan should not be recorded, got %d", n)
	}
}

func TestImageScanRejectsUnsupportedExtension(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := doMultipartRequest(t, srv.router, "/image/scan", "file", "track.bmp", []byte("BM"))
	assertStatus(t, rec, http.StatusBadRequest)

	var resp map[string]string
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp["error"] != "Invalid image format" {
		t.Fatalf("unexpected error message: %q", resp["error"])
	}
	assertStagingEmpty(t, srv.staging)
	if n := countRecords(t, srv.db); n != 0 {
		t.Fatalf("rejected upload should not be recorded")
	}
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t, Options{MaxUploadBytes: 1024})

	rec := doMultipartRequest(t, srv.router, "/image/scan", "other", "a.png", []byte("x"))
	assertStatus(t, rec, http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/image/scan", bytes.NewBufferString("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)

	rec = doMultipartRequest(t, srv.router, "/video/scan", "file", "big.mp4", bytes.Repeat([]byte("a"), 4096))
	assertStatus(t, rec, http.StatusRequestEntityTooLarge)
	assertStagingEmpty(t, srv.staging)
}

func TestLinkScanDirectURL(t *testing.T) {
	srv := newTestServer(t, Options{})
	target := srv.media.URL + "/media/clip.mp4"
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/link/scan?url="+url.QueryEscape(target), nil, nil)
	assertStatus(t, rec, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp["media_type"] != "video" || resp["deepfake_probability"] != 0.88 || resp["status"] != "success" {
		t.Fatalf("unexpected link response: %v", resp)
	}
	if _, ok := resp["details"].(map[string]interface{}); !ok {
		t.Fatalf("expected details breakdown, got %v", resp["details"])
	}
	assertStagingEmpty(t, srv.staging)

	var source, name string
	if err := srv.db.QueryRow(`SELECT source, file_name FROM scan_records`).Scan(&source, &name); err != nil {
		t.Fatalf("query history: %v", err)
	}
	if source != models.SourceLink || name != target {
		t.Fatalf("unexpected history row: %s %s", source, name)
	}
}

func TestLinkScanJSONBody(t *testing.T) {
	srv := newTestServer(t, Options{})
	body := map[string]string{"url": srv.media.URL + "/media/voice.mp3"}
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/link/scan", body, nil)
	assertStatus(t, rec, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp["media_type"] != "audio" {
		t.Fatalf("expected audio media type, got %v", resp["media_type"])
	}
}

func TestLinkScanFailures(t *testing.T) {
	srv := newTestServer(t, Options{})
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"unresolvable", "https://example.com/watch?v=abc", "could not extract media from link"},
		{"not found", srv.media.URL + "/media/missing.mp4", "failed to download media"},
		{"not http", "ftp://example.com/a.mp4", "could not extract media from link"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSONRequest(t, srv.router, http.MethodPost, "/link/scan", map[string]string{"url": tc.url}, nil)
			assertStatus(t, rec, http.StatusBadRequest)
			var resp map[string]string
			decodeJSON(t, rec.Body.Bytes(), &resp)
			if resp["error"] != tc.want {
				t.Fatalf("want %q, got %q", tc.want, resp["error"])
			}
			assertStagingEmpty(t, srv.staging)
		})
	}

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/link/scan", nil, nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, name := range []string{"a.jpg", "b.png"} {
		rec := doMultipartRequest(t, srv.router, "/image/scan", "file", name, []byte("img"))
		assertStatus(t, rec, http.StatusOK)
	}

	rec := doJSONRequest(t, srv.router, http.MethodGet, "/history?limit=1", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var resp struct {
		Items []models.ScanRecord `json:"items"`
	}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}
	if resp.Items[0].Kind != models.MediaImage || resp.Items[0].Probability != 0.88 {
		t.Fatalf("unexpected history item: %+v", resp.Items[0])
	}

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/history?limit=abc", nil, nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var resp map[string]interface{}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Fatalf("unexpected health response: %v", resp)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthzReportsCache(t *testing.T) {
	srv := newTestServer(t, Options{Cache: fakePinger{err: errors.New("connection refused")}})
	rec := doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var resp map[string]interface{}
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp["cache"] != "unavailable" {
		t.Fatalf("expected cache unavailable, got %v", resp["cache"])
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, Options{}, "https://app.example.com")

	rec := doJSONRequest(t, srv.router, http.MethodOptions, "/image/scan", nil, map[string]string{"Origin": "https://app.example.com"})
	assertStatus(t, rec, http.StatusNoContent)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	rec = doJSONRequest(t, srv.router, http.MethodOptions, "/image/scan", nil, map[string]string{"Origin": "https://evil.example.com"})
	assertStatus(t, rec, http.StatusForbidden)

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, map[string]string{"Origin": "https://evil.example.com"})
	assertStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin should not receive cors headers, got %q", got)
	}
}

func TestErrorResponseMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", scan.ErrInvalidFormat), http.StatusBadRequest},
		{scan.ErrUnresolvableLink, http.StatusBadRequest},
		{scan.ErrUnknownMediaType, http.StatusBadRequest},
		{scan.ErrDownloadFailed, http.StatusBadRequest},
		{scan.ErrUnsupportedMediaType, http.StatusBadRequest},
		{scan.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: model down", scan.ErrInferenceUnavailable), http.StatusServiceUnavailable},
		{worker.ErrDispatcherBusy, http.StatusTooManyRequests},
		{worker.ErrDispatcherClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := errorResponse(models.MediaVideo, tc.err); got != tc.want {
			t.Fatalf("%v: want %d got %d", tc.err, tc.want, got)
		}
	}
	if _, msg := errorResponse(models.MediaAudio, scan.ErrInvalidFormat); msg != "Invalid audio format" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func doMultipartRequest(t *testing.T, router *gin.Engine, path, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func assertStagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty staging dir, found %d entries", len(entries))
	}
}

func countRecords(t *testing.T, db *sql.DB) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM scan_records`).Scan(&count); err != nil {
		t.Fatalf("count records: %v", err)
	}
	return count
}
