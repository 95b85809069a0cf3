package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/itish2003/visiondoc/logger"
	"github/itish2003/visiondoc/models"
	"github/itish2003/visiondoc/services"
)

type fakeRAGService struct {
	ingest    func(files []models.UploadedFile) (*models.UploadResponse, error)
	ask       func(question string) (*models.QueryResult, error)
	received  []models.UploadedFile
	questions []string
}

func (f *fakeRAGService) Ingest(_ context.Context, files []models.UploadedFile) (*models.UploadResponse, error) {
	f.received = files
	return f.ingest(files)
}

func (f *fakeRAGService) IngestDirectory(context.Context) (*models.UploadResponse, error) {
	return nil, nil
}

func (f *fakeRAGService) Ask(_ context.Context, question string) (*models.QueryResult, error) {
	f.questions = append(f.questions, question)
	return f.ask(question)
}

func (f *fakeRAGService) Health(context.Context) models.HealthResponse {
	return models.HealthResponse{Status: "healthy", Service: "visiondoc", Version: "1.0.0", Ready: true, Generation: "pages_abc", Records: 7}
}

func (f *fakeRAGService) Restore(context.Context) error { return nil }
func (f *fakeRAGService) Close() error                  { return nil }

func setupRouter(t *testing.T, svc services.RAGService) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	staticDir := t.TempDir()
	router := gin.New()
	RegisterRoutes(router, NewRAGController(svc, logger.Discard()), staticDir)
	return router, staticDir
}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, data := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestUploadPDFs(t *testing.T) {
	svc := &fakeRAGService{ingest: func(files []models.UploadedFile) (*models.UploadResponse, error) {
		return &models.UploadResponse{Message: "PDFs processed and index rebuilt", Documents: len(files), Pages: 3, Records: 3, Generation: "pages_new"}, nil
	}}
	router, _ := setupRouter(t, svc)

	payload := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}
	body, contentType := multipartBody(t, "files", map[string][]byte{"report.pdf": payload})
	req := httptest.NewRequest(http.MethodPost, "/upload_pdfs/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Documents)
	assert.Equal(t, "pages_new", resp.Generation)

	require.Len(t, svc.received, 1)
	assert.Equal(t, "report.pdf", svc.received[0].Filename)
	assert.Equal(t, payload, svc.received[0].Data)
}

func TestUploadPDFs_Errors(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string][]byte
		ingestErr error
		wantCode  int
		wantError string
	}{
		{
			name:      "no files",
			files:     map[string][]byte{},
			wantCode:  http.StatusBadRequest,
			wantError: "No files uploaded",
		},
		{
			name:      "nothing processable",
			files:     map[string][]byte{"broken.pdf": []byte("junk")},
			ingestErr: fmt.Errorf("%w (skipped: broken.pdf)", services.ErrNoDocuments),
			wantCode:  http.StatusBadRequest,
			wantError: "no documents could be processed",
		},
		{
			name:      "vector store down",
			files:     map[string][]byte{"a.pdf": []byte("%PDF")},
			ingestErr: errors.New("connection refused"),
			wantCode:  http.StatusInternalServerError,
			wantError: "Failed to process PDFs",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeRAGService{ingest: func([]models.UploadedFile) (*models.UploadResponse, error) {
				return nil, tt.ingestErr
			}}
			router, _ := setupRouter(t, svc)

			body, contentType := multipartBody(t, "files", tt.files)
			req := httptest.NewRequest(http.MethodPost, "/upload_pdfs/", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, decodeError(t, rec), tt.wantError)
		})
	}
}

func TestAsk(t *testing.T) {
	image := "http://127.0.0.1:8000/static/images/report_p2_img1.png"
	svc := &fakeRAGService{ask: func(q string) (*models.QueryResult, error) {
		return &models.QueryResult{Response: "See the diagram.", Sources: []string{"report.pdf", "report.pdf"}, ImageURL: &image}, nil
	}}
	router, _ := setupRouter(t, svc)

	form := url.Values{"question": {"Show me the architecture"}}
	req := httptest.NewRequest(http.MethodPost, "/ask/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"response": "See the diagram.",
		"sources": ["report.pdf", "report.pdf"],
		"image_url": "http://127.0.0.1:8000/static/images/report_p2_img1.png"
	}`, rec.Body.String())
	assert.Equal(t, []string{"Show me the architecture"}, svc.questions)
}

func TestAsk_JSONBodyAndNullImage(t *testing.T) {
	svc := &fakeRAGService{ask: func(q string) (*models.QueryResult, error) {
		return &models.QueryResult{Response: "Revenue grew 10%.", Sources: []string{"report.pdf"}}, nil
	}}
	router, _ := setupRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/ask/", strings.NewReader(`{"question":"How much did revenue grow?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"Revenue grew 10%.","sources":["report.pdf"],"image_url":null}`, rec.Body.String())
}

func TestAsk_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not ready", services.ErrNotReady, http.StatusBadRequest},
		{"empty question", services.ErrEmptyQuestion, http.StatusBadRequest},
		{"model failure", errors.New("quota exceeded"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeRAGService{ask: func(string) (*models.QueryResult, error) { return nil, tt.err }}
			router, _ := setupRouter(t, svc)

			form := url.Values{"question": {"anything"}}
			req := httptest.NewRequest(http.MethodPost, "/ask/", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.NotEmpty(t, decodeError(t, rec))
		})
	}
}

func TestAsk_PanicBecomesJSONError(t *testing.T) {
	svc := &fakeRAGService{ask: func(string) (*models.QueryResult, error) { panic("nil index") }}
	router, _ := setupRouter(t, svc)

	form := url.Values{"question": {"anything"}}
	req := httptest.NewRequest(http.MethodPost, "/ask/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "nil index", decodeError(t, rec))
}

func TestHealthAndTest(t *testing.T) {
	router, _ := setupRouter(t, &fakeRAGService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var h models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.Ready)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Testing successful..."}`, rec.Body.String())
}

func TestStaticImages(t *testing.T) {
	router, staticDir := setupRouter(t, &fakeRAGService{})
	require.NoError(t, os.MkdirAll(filepath.Join(staticDir, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "images", "report_p1_page0.png"), []byte("png bytes"), 0o644))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/images/report_p1_page0.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png bytes", rec.Body.String())
}

func TestStaticImages_EscapedURLFetchesFile(t *testing.T) {
	router, staticDir := setupRouter(t, &fakeRAGService{})
	name := services.PageImageFilename("Q3 Report #2.pdf", 2, "img", 1)
	require.NoError(t, os.MkdirAll(filepath.Join(staticDir, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "images", name), []byte("chart png"), 0o644))

	link := services.ImageURL("http://127.0.0.1:8000", "images", name)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, link, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chart png", rec.Body.String())
}
