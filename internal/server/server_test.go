package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"multimodal-rag/internal/chromemdb"
	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	uploadedName string
	uploadedBody string
	question     string
	err          error
}

func (s *stubService) Upload(_ context.Context, name string, r io.Reader) (*pipeline.IngestReport, error) {
	body, _ := io.ReadAll(r)
	s.uploadedName, s.uploadedBody = name, string(body)
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.IngestReport{Source: "paper.pdf", Pages: 1, Chunks: 2, ImageFailures: []string{}}, nil
}

func (s *stubService) Ask(_ context.Context, q string) (*pipeline.AskResult, error) {
	s.question = q
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.AskResult{
		QueryResult: &models.QueryResult{Question: q, Answer: "blue", SourceDocument: "sky.pdf", PageNumber: 0},
		LogPath:     "data/responses/response_1.json",
	}, nil
}

func (s *stubService) IndexStats() (*chromemdb.Metadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &chromemdb.Metadata{Count: 5, EmbeddingModel: "m", Dimension: 8}, nil
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func askRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAsk(t *testing.T) {
	svc := &stubService{}
	rec := do(t, New(svc, t.TempDir()).Handler(), askRequest(`{"question":"What color is the sky?"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "What color is the sky?", svc.question)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "blue", got["answer"])
	assert.Equal(t, "sky.pdf", got["source_document"])
	assert.Equal(t, float64(0), got["page_number"])
	assert.Equal(t, "data/responses/response_1.json", got["log_path"])
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	svc := &stubService{}
	rec := do(t, New(svc, t.TempDir()).Handler(), askRequest(`{"question":"  "}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"question is required"}`, rec.Body.String())
	assert.Empty(t, svc.question)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("load: %w", chromemdb.ErrIndexNotFound), want: http.StatusNotFound},
		{err: chromemdb.ErrConfigMismatch, want: http.StatusConflict},
		{err: &llmservice.CallError{Op: "answer", Attempts: 2, Err: io.EOF}, want: http.StatusBadGateway},
		{err: fmt.Errorf("x: %w", pipeline.ErrUnsupported), want: http.StatusUnsupportedMediaType},
		{err: pipeline.ErrNoText, want: http.StatusUnprocessableEntity},
		{err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{err: io.ErrUnexpectedEOF, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := do(t, New(&stubService{err: tt.err}, t.TempDir()).Handler(), askRequest(`{"question":"q"}`))
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestUploadDocument(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "My Paper.PDF")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	svc := &stubService{}
	rec := do(t, New(svc, t.TempDir()).Handler(), req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "My Paper.PDF", svc.uploadedName)
	assert.Equal(t, "%PDF-1.4 fake", svc.uploadedBody)
	assert.Contains(t, rec.Body.String(), `"chunks":2`)
}

func TestUploadRequiresFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(""))
	rec := do(t, New(&stubService{}, t.TempDir()).Handler(), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexStats(t *testing.T) {
	rec := do(t, New(&stubService{}, t.TempDir()).Handler(), httptest.NewRequest(http.MethodGet, "/api/index", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":5`)

	rec = do(t, New(&stubService{err: chromemdb.ErrIndexNotFound}, t.TempDir()).Handler(),
		httptest.NewRequest(http.MethodGet, "/api/index", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServesImagesAndHealth(t *testing.T) {
	imagesDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(imagesDir, "sky"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "sky", "page_1_img_1.png"), []byte("png-bytes"), 0o644))
	h := New(&stubService{}, imagesDir).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/images/sky/page_1_img_1.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
