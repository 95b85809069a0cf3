package models

type ErrorResponse struct {
	Error string `json:"error"`
}

// UploadResponse summarises one ingestion batch.
type UploadResponse struct {
	Message    string   `json:"message"`
	Documents  int      `json:"documents"`
	Pages      int      `json:"pages"`
	Records    int      `json:"records"`
	Generation string   `json:"generation"`
	Skipped    []string `json:"skipped,omitempty"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Version    string `json:"version"`
	Ready      bool   `json:"ready"`
	Generation string `json:"generation,omitempty"`
	Records    int    `json:"records"`
}
