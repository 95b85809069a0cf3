package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x_p1_page0.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
	return path
}

func TestTextEnricher(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		input string
		want  string
	}{
		{
			name:  "summary returned",
			model: &fakeModel{generate: func(context.Context, string) (string, error) { return "Dense paragraph.", nil }},
			input: "Revnue grew 1O%.",
			want:  "Dense paragraph.",
		},
		{
			name:  "model error falls back to raw text",
			model: &fakeModel{generate: func(context.Context, string) (string, error) { return "", errors.New("503") }},
			input: "Revnue grew 1O%.",
			want:  "Revnue grew 1O%.",
		},
		{
			name:  "empty answer falls back to raw text",
			model: &fakeModel{generate: func(context.Context, string) (string, error) { return "", nil }},
			input: "raw",
			want:  "raw",
		},
		{
			name:  "empty page skips the model",
			model: &fakeModel{},
			input: "",
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewTextEnricher(tt.model, testLog()).Enrich(context.Background(), tt.input, "r.pdf", 1)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVisionEnricher_RetriesTimeouts(t *testing.T) {
	calls := 0
	model := &fakeModel{describe: func(context.Context, string) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("post: %w", timeoutErr{})
		}
		return "A flow chart.", nil
	}}
	v := NewVisionEnricher(model, time.Second, 3, time.Millisecond, testLog())

	got := v.Describe(context.Background(), writeImage(t), "r.pdf", 1)
	assert.Equal(t, "A flow chart.", got)
	assert.Equal(t, 3, calls)
}

func TestVisionEnricher_GivesUpAfterAttempts(t *testing.T) {
	model := &fakeModel{describe: func(context.Context, string) (string, error) {
		return "", context.DeadlineExceeded
	}}
	v := NewVisionEnricher(model, time.Second, 3, time.Millisecond, testLog())

	got := v.Describe(context.Background(), writeImage(t), "r.pdf", 1)
	assert.Equal(t, NoDescriptionSentinel, got)
	assert.EqualValues(t, 3, model.describeHit.Load())
}

func TestVisionEnricher_NonTimeoutDegradesImmediately(t *testing.T) {
	model := &fakeModel{describe: func(context.Context, string) (string, error) {
		return "", errors.New("model not found")
	}}
	v := NewVisionEnricher(model, time.Second, 3, time.Hour, testLog())

	got := v.Describe(context.Background(), writeImage(t), "r.pdf", 1)
	assert.Equal(t, NoDescriptionSentinel, got)
	assert.EqualValues(t, 1, model.describeHit.Load())
}

func TestVisionEnricher_PerAttemptTimeout(t *testing.T) {
	model := &fakeModel{describe: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	v := NewVisionEnricher(model, 10*time.Millisecond, 2, time.Millisecond, testLog())

	start := time.Now()
	got := v.Describe(context.Background(), writeImage(t), "r.pdf", 1)
	assert.Equal(t, NoDescriptionSentinel, got)
	assert.EqualValues(t, 2, model.describeHit.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestVisionEnricher_MissingImage(t *testing.T) {
	model := &fakeModel{}
	v := NewVisionEnricher(model, time.Second, 3, time.Millisecond, testLog())
	assert.Equal(t, NoDescriptionSentinel, v.Describe(context.Background(), "/does/not/exist.png", "r.pdf", 1))
	assert.EqualValues(t, 0, model.describeHit.Load())
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"net timeout", timeoutErr{}, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("bad request"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTimeout(tt.err))
		})
	}
}
