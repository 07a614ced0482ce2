// Package vision consumes the rice growth-stage image classifier. The model
// itself (an EfficientNet checkpoint) runs behind an inference service; this
// package only speaks its narrow contract: image bytes in, a BBCH label and
// probability out.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ricemaid/ricemaid/internal/models"
)

// BBCH growth-stage labels the classifier can produce.
const (
	LabelBBCH11 = "BBCH11"
	LabelBBCH12 = "BBCH12"
	LabelBBCH13 = "BBCH13"
)

// displayNames maps BBCH labels to their Thai stage names.
var displayNames = map[string]string{
	LabelBBCH11: "ระยะกล้า",
	LabelBBCH12: "ระยะยืดปล้อง",
	LabelBBCH13: "ระยะตั้งท้อง",
}

// stageImageURLs maps BBCH labels to illustrative stage photos.
var stageImageURLs = map[string]string{
	LabelBBCH11: "https://i.ibb.co/gR5bfDX/BBCH11.jpg",
	LabelBBCH12: "https://i.ibb.co/dbSjLg4/BBCH12.jpg",
	LabelBBCH13: "https://i.ibb.co/WDkVvYJ/BBCH13.jpg",
}

// defaultStageImageURL is shown for labels without a stage photo.
const defaultStageImageURL = "https://example.com/default_image.png"

// DisplayName returns the Thai stage name for a BBCH label.
func DisplayName(label string) string {
	if name, ok := displayNames[label]; ok {
		return name
	}
	return "Unknown stage"
}

// StageImageURL returns the illustrative photo URL for a BBCH label.
func StageImageURL(label string) string {
	if u, ok := stageImageURLs[label]; ok {
		return u
	}
	return defaultStageImageURL
}

// Opts holds configuration options for the HTTP classifier.
type Opts struct {
	Endpoint string
	Client   *http.Client
}

// Option configures the HTTP classifier.
type Option func(*Opts)

// WithEndpoint overrides the VISION_ENDPOINT environment variable.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// HTTPClassifier calls the growth-stage inference service.
type HTTPClassifier struct {
	endpoint string
	http     *http.Client
}

// NewHTTPClassifier initializes a classifier client. The endpoint comes from
// options or the VISION_ENDPOINT environment variable.
func NewHTTPClassifier(opts ...Option) (*HTTPClassifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv("VISION_ENDPOINT")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("VISION_ENDPOINT not set")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPClassifier{endpoint: cfg.Endpoint, http: cfg.Client}, nil
}

// Predict classifies an image and returns its BBCH stage with probability.
func (c *HTTPClassifier) Predict(ctx context.Context, image []byte) (models.Prediction, error) {
	if len(image) == 0 {
		return models.Prediction{}, models.ErrEmptyImage
	}
	slog.Debug("vision.HTTPClassifier.Predict: submitting image", "bytes", len(image))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return models.Prediction{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("vision.HTTPClassifier.Predict: request failed", "error", err)
		return models.Prediction{}, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("vision.HTTPClassifier.Predict: unexpected status", "status", resp.StatusCode)
		return models.Prediction{}, fmt.Errorf("predict request: status %d: %s", resp.StatusCode, body)
	}

	var pred models.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return models.Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	if pred.Probability < 0 || pred.Probability > 1 {
		return models.Prediction{}, fmt.Errorf("prediction probability %v out of range", pred.Probability)
	}
	slog.Debug("vision.HTTPClassifier.Predict: prediction received", "label", pred.Label, "probability", pred.Probability)
	return pred, nil
}
