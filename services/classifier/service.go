package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/tracing"
)

type Config struct {
	Url     string `env:"CLASSIFIER_URL"`
	ApiKey  string `env:"CLASSIFIER_API_KEY"`
	Timeout int    `env:"CLASSIFIER_TIMEOUT_SECONDS" envDefault:"30"`
}

// Handle is the typed readiness wrapper handed to the sync engine: it
// is either ready with a backing classifier or not ready, in which
// case every message gets the default label. Replaces checking a
// shared readiness flag at call time.
type Handle struct {
	mu         sync.RWMutex
	classifier interfaces.Classifier
}

func NewHandle() *Handle {
	return &Handle{}
}

// SetReady installs the backing classifier; nil flips the handle back
// to not ready.
func (h *Handle) SetReady(c interfaces.Classifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.classifier = c
}

func (h *Handle) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.classifier != nil
}

// Classify labels the record, falling back to the default label when
// the handle is not ready or the backing classifier fails.
func (h *Handle) Classify(ctx context.Context, record *models.EmailRecord) string {
	h.mu.RLock()
	c := h.classifier
	h.mu.RUnlock()

	if c == nil {
		return interfaces.LabelUnclassified
	}

	label, err := c.Classify(ctx, record)
	if err != nil || label == "" {
		return interfaces.LabelUnclassified
	}
	return label
}

type classifyRequest struct {
	From     string `json:"from"`
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
}

type classifyResponse struct {
	Label string `json:"label"`
}

type httpClassifier struct {
	config *Config
	client *http.Client
}

// NewHTTPClassifier calls an external model endpoint for labels.
func NewHTTPClassifier(config *Config) interfaces.Classifier {
	return &httpClassifier{
		config: config,
		client: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}
}

func (s *httpClassifier) Classify(ctx context.Context, record *models.EmailRecord) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "httpClassifier.Classify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	payload, err := json.Marshal(classifyRequest{
		From:     record.From,
		Subject:  record.Subject,
		BodyText: record.BodyText,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Url+"/v1/classify", bytes.NewBuffer(payload))
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.ApiKey != "" {
		req.Header.Set("X-API-KEY", s.config.ApiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "unable to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(body))
		tracing.TraceErr(span, err)
		return "", err
	}

	var response classifyResponse
	if err := json.Unmarshal(body, &response); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to unmarshal response")
	}

	return response.Label, nil
}
