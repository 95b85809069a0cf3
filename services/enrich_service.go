package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github/itish2003/visiondoc/llm"
)

// TextEnricher rewrites raw page text into a dense summary.
type TextEnricher struct {
	model llm.Generator
	log   *logrus.Entry
}

// NewTextEnricher creates a text enricher backed by model.
func NewTextEnricher(model llm.Generator, log *logrus.Entry) *TextEnricher {
	return &TextEnricher{model: model, log: log}
}

// Enrich never fails: any model error yields the raw text unchanged.
func (t *TextEnricher) Enrich(ctx context.Context, text, source string, page int) string {
	if text == "" {
		return ""
	}
	out, err := t.model.Generate(ctx, GetTextEnrichPrompt(text, source, page))
	if err != nil {
		t.log.WithError(err).WithFields(logrus.Fields{"file": source, "page": page}).Warn("Text enrichment failed, keeping raw text")
		return text
	}
	if out == "" {
		return text
	}
	return out
}

// VisionEnricher describes a saved image, retrying timeouts.
type VisionEnricher struct {
	model    llm.ImageDescriber
	timeout  time.Duration
	attempts int
	delay    time.Duration
	log      *logrus.Entry
}

// NewVisionEnricher creates a vision enricher. Each call is bounded by timeout
// and a timed-out image is tried at most attempts times, delay apart.
func NewVisionEnricher(model llm.ImageDescriber, timeout time.Duration, attempts int, delay time.Duration, log *logrus.Entry) *VisionEnricher {
	if attempts < 1 {
		attempts = 1
	}
	return &VisionEnricher{model: model, timeout: timeout, attempts: attempts, delay: delay, log: log}
}

// Describe never fails: non-timeout errors and exhausted retries yield
// NoDescriptionSentinel.
func (v *VisionEnricher) Describe(ctx context.Context, imagePath, source string, page int) string {
	log := v.log.WithFields(logrus.Fields{"file": source, "page": page})
	data, err := os.ReadFile(imagePath)
	if err != nil {
		log.WithError(err).Warn("Could not read image for vision enrichment")
		return NoDescriptionSentinel
	}
	prompt := GetVisionPrompt(source, page)

	for attempt := 1; attempt <= v.attempts; attempt++ {
		out, err := v.describeOnce(ctx, data, prompt)
		if err == nil {
			if out == "" {
				return NoDescriptionSentinel
			}
			return out
		}
		if !isTimeout(err) || ctx.Err() != nil {
			log.WithError(err).Warn("Vision enrichment failed")
			return NoDescriptionSentinel
		}
		if attempt == v.attempts {
			log.WithError(err).Warnf("Vision enrichment timed out %d times, giving up", attempt)
			return NoDescriptionSentinel
		}
		log.WithError(err).Warnf("Vision call timed out (attempt %d/%d), retrying in %s", attempt, v.attempts, v.delay)
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			return NoDescriptionSentinel
		}
	}
	return NoDescriptionSentinel
}

func (v *VisionEnricher) describeOnce(ctx context.Context, data []byte, prompt string) (string, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	out, err := v.model.DescribeImage(ctx, data, "image/png", prompt)
	if err != nil {
		return "", fmt.Errorf("vision call: %w", err)
	}
	return out, nil
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
