package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"imageocr/internal/extract"
	"imageocr/pkg/models"
)

type echoExtractor struct {
	docs []extract.Document
}

func (e *echoExtractor) ExtractBatch(_ context.Context, docs []extract.Document) []models.ExtractionResult {
	e.docs = docs
	out := make([]models.ExtractionResult, len(docs))
	for i, d := range docs {
		out[i] = models.ExtractionResult{Success: true, Message: "ok", Text: string(d.Content), Filename: d.Filename}
	}
	return out
}

func multipartRequest(t *testing.T, path string, files map[string]string, order []string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, name := range order {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(part, files[name])
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	ext := &echoExtractor{}
	s := New(Config{BodyLimit: 1 << 20}, ext)

	req := multipartRequest(t, "/api/upload", map[string]string{"a.txt": "alpha", "b.txt": "beta"}, []string{"a.txt", "b.txt"})
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}

	var results []models.ExtractionResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 2 || results[0].Text != "alpha" || results[1].Filename != "b.txt" {
		t.Errorf("results = %+v", results)
	}
}

func TestUploadWithoutFiles(t *testing.T) {
	s := New(Config{}, &echoExtractor{})

	req := multipartRequest(t, "/api/upload", nil, nil)
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["message"] != "No files uploaded" {
		t.Errorf("body = %v", body)
	}
}

func TestMergeEndpoint(t *testing.T) {
	s := New(Config{}, &echoExtractor{})

	req := multipartRequest(t, "/api/merge", map[string]string{"a.txt": "alpha"}, []string{"a.txt"})
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(data), "### Start of Document: a.txt ###\nalpha") {
		t.Errorf("merged = %q", data)
	}
}

func TestHealth(t *testing.T) {
	s := New(Config{Version: "test"}, &echoExtractor{})
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
