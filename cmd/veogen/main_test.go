package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func fakeVeo(t *testing.T) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k1" {
			http.Error(w, "bad key", http.StatusForbidden)
			return
		}
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			_ = json.NewEncoder(w).Encode(map[string]any{"name": "operations/op1"})
		case r.URL.Path == "/operations/op1":
			if polls.Add(1) < 2 {
				_ = json.NewEncoder(w).Encode(map[string]any{"name": "operations/op1", "done": false})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"name": "operations/op1",
				"done": true,
				"response": map[string]any{
					"generateVideoResponse": map[string]any{
						"generatedSamples": []any{
							map[string]any{"video": map[string]any{"uri": srv.URL + "/files/v1?alt=media"}},
						},
					},
				},
			})
		case r.URL.Path == "/files/v1":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("video-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunWritesVideo(t *testing.T) {
	srv := fakeVeo(t)
	dir := t.TempDir()
	t.Setenv("VEO_BASE_URL", srv.URL)
	t.Setenv("STORAGE_PATH", dir)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-prompt", "a cat", "-out", "cat.mp4", "-poll-interval", "1ms"},
		strings.NewReader("k1\n"), &stdout, &stderr)
	if err != nil {
		t.Fatalf("run returned error: %v\nstderr: %s", err, stderr.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "cat.mp4"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "video-bytes" {
		t.Fatalf("video = %q", data)
	}
	for _, want := range []string{"API key: ", "Initializing video generation...", "Processing... (Status check 1)", "Downloading video data..."} {
		if !strings.Contains(stderr.String(), want) {
			t.Fatalf("stderr missing %q:\n%s", want, stderr.String())
		}
	}
	if strings.Contains(stderr.String()+stdout.String(), "k1\n") {
		t.Fatal("credential echoed to output")
	}
	if !strings.Contains(stdout.String(), "cat.mp4 (11 bytes)") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunReportsGenerationError(t *testing.T) {
	srv := fakeVeo(t)
	t.Setenv("VEO_BASE_URL", srv.URL)
	t.Setenv("STORAGE_PATH", t.TempDir())

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-key", "wrong", "-poll-interval", "1ms"}, strings.NewReader(""), &stdout, &stderr)
	if err == nil || !strings.HasPrefix(err.Error(), "An error occurred: ") {
		t.Fatalf("expected generation error, got %v", err)
	}
	if strings.Contains(err.Error(), "wrong") {
		t.Fatalf("credential leaked into error: %v", err)
	}
}

func TestRunRequiresKey(t *testing.T) {
	t.Setenv("STORAGE_PATH", t.TempDir())
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, strings.NewReader("\n"), &stdout, &stderr)
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "api key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestRunWritesAbsoluteOutPath(t *testing.T) {
	srv := fakeVeo(t)
	storageDir, outDir := t.TempDir(), t.TempDir()
	t.Setenv("VEO_BASE_URL", srv.URL)
	t.Setenv("STORAGE_PATH", storageDir)

	target := filepath.Join(outDir, "nested", "abs.mp4")
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-key", "k1", "-out", target, "-poll-interval", "1ms"},
		strings.NewReader(""), &stdout, &stderr)
	if err != nil {
		t.Fatalf("run returned error: %v\nstderr: %s", err, stderr.String())
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", target, err)
	}
	if string(data) != "video-bytes" {
		t.Fatalf("video = %q", data)
	}
	if !strings.HasPrefix(stdout.String(), target+" ") {
		t.Fatalf("stdout = %q, want path %s", stdout.String(), target)
	}
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("storage path should stay empty, found %d entries", len(entries))
	}
}

func TestRunVerboseLogsToStderr(t *testing.T) {
	srv := fakeVeo(t)
	t.Setenv("VEO_BASE_URL", srv.URL)
	t.Setenv("STORAGE_PATH", t.TempDir())

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-v", "-key", "wrong", "-poll-interval", "1ms"}, strings.NewReader(""), &stdout, &stderr)
	if err == nil {
		t.Fatal("expected generation error")
	}
	if !strings.Contains(stderr.String(), "video: generation failed") {
		t.Fatalf("stderr missing engine log:\n%s", stderr.String())
	}
	if strings.Contains(stderr.String(), "wrong") {
		t.Fatalf("credential leaked into logs:\n%s", stderr.String())
	}

	stderr.Reset()
	_ = run(context.Background(), []string{"-key", "wrong", "-poll-interval", "1ms"}, strings.NewReader(""), &stdout, &stderr)
	if strings.Contains(stderr.String(), "video: generation failed") {
		t.Fatal("logs should be discarded without -v")
	}
}
