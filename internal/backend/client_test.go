package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shortsai-batch/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, APIToken: "secret", RequestsPerSecond: 100})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNew_RequiresBackendURL(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected missing URL error")
	}
	if _, err := New(Options{BaseURL: "not a url"}); err == nil {
		t.Fatalf("expected invalid URL error")
	}
}

func TestGetProject_SendsTokenAndDecodes(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/p1" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if r.Header.Get(requestIDHeader) == "" {
			t.Errorf("expected request id header")
		}
		_, _ = io.WriteString(w, `{"id":"p1","title":"Volcanoes","scenes":[{"sceneNumber":1,"narration":"hi","durationSeconds":3}]}`)
	}))

	p, err := c.GetProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Title != "Volcanoes" || len(p.Scenes) != 1 || p.Scenes[0].Narration != "hi" {
		t.Fatalf("unexpected project %+v", p)
	}

	if _, err := c.GetProject(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestUpload_SendsMultipartFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "music.mp3" || string(data) != "tune" {
			t.Errorf("unexpected upload %s %q", header.Filename, data)
		}
		_, _ = io.WriteString(w, `{"url":"https://cdn/music.mp3"}`)
	}))

	path := filepath.Join(t.TempDir(), "music.mp3")
	if err := os.WriteFile(path, []byte("tune"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := c.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got != "https://cdn/music.mp3" {
		t.Fatalf("unexpected url %q", got)
	}

	if _, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.mp3")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestSubmitRender(t *testing.T) {
	var reply string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in model.RenderRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		if in.ProjectID != "p1" || in.Options.FPS != 60 {
			t.Errorf("unexpected request %+v", in)
		}
		_, _ = io.WriteString(w, reply)
	}))
	req := model.RenderRequest{ProjectID: "p1", Options: model.RenderOptions{FPS: 60}}

	reply = `{"success":true,"jobId":"r-1"}`
	id, err := c.SubmitRender(context.Background(), req)
	if err != nil || id != "r-1" {
		t.Fatalf("expected r-1, got %q err=%v", id, err)
	}

	reply = `{"success":false,"error":"quota exceeded"}`
	if _, err := c.SubmitRender(context.Background(), req); !errors.Is(err, ErrRenderRejected) || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected rejection, got %v", err)
	}

	reply = `{"success":true}`
	if _, err := c.SubmitRender(context.Background(), req); !errors.Is(err, ErrRenderRejected) {
		t.Fatalf("expected missing job id rejection, got %v", err)
	}
}

func TestSubscribe_ParsesEventStream(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"render_progress\",\"jobId\":\"r-1\",\"phase\":\"processing\",\"progress\":42.5}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"type\":\"render_complete\",\n")
		fmt.Fprint(w, "data: \"jobId\":\"r-1\",\"videoUrl\":\"/renders/r-1.mp4\"}\n\n")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var got []model.RenderEvent
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %+v", got)
	}
	if got[0].Type != model.EventRenderProgress || got[0].Progress != 42.5 || got[0].Phase != "processing" {
		t.Fatalf("unexpected progress event %+v", got[0])
	}
	if got[1].Type != model.EventRenderComplete || got[1].VideoURL != "/renders/r-1.mp4" {
		t.Fatalf("unexpected complete event %+v", got[1])
	}
}

func TestDownload_WritesFileAndResolvesRelativeURL(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/renders/r-1.mp4" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "video-bytes")
	}))

	dest := filepath.Join(t.TempDir(), "out", "video.mp4")
	n, err := c.Download(context.Background(), "/renders/r-1.mp4", dest)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != int64(len("video-bytes")) || string(data) != "video-bytes" {
		t.Fatalf("unexpected download n=%d data=%q", n, data)
	}

	if _, err := c.Download(context.Background(), "/renders/missing.mp4", dest+".2"); err == nil {
		t.Fatalf("expected download error")
	}
	if _, err := os.Stat(dest + ".2"); !os.IsNotExist(err) {
		t.Fatalf("expected no partial file, got %v", err)
	}
}

func TestDownload_OmitsTokenForOtherHosts(t *testing.T) {
	cdnAuth := make(chan string, 1)
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnAuth <- r.Header.Get("Authorization")
		if r.URL.Query().Get("X-Amz-Signature") != "abc" {
			http.Error(w, "missing signature", http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, "cdn-bytes")
	}))
	t.Cleanup(cdn.Close)

	backendAuth := make(chan string, 1)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendAuth <- r.Header.Get("Authorization")
		_, _ = io.WriteString(w, "backend-bytes")
	}))

	dest := filepath.Join(t.TempDir(), "cdn.mp4")
	if _, err := c.Download(context.Background(), cdn.URL+"/v.mp4?X-Amz-Signature=abc", dest); err != nil {
		t.Fatalf("download from cdn: %v", err)
	}
	if got := <-cdnAuth; got != "" {
		t.Fatalf("expected no authorization on third-party host, got %q", got)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "cdn-bytes" {
		t.Fatalf("unexpected cdn download data=%q err=%v", data, err)
	}

	if _, err := c.Download(context.Background(), "/renders/r-2.mp4", dest+".2"); err != nil {
		t.Fatalf("download from backend: %v", err)
	}
	if got := <-backendAuth; got != "Bearer secret" {
		t.Fatalf("expected bearer token on backend host, got %q", got)
	}
}
