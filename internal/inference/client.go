package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minewatch/minewatch/internal/imagery"
)

// HTTPPredictor calls a model server exposing POST /v1/predict.
type HTTPPredictor struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPPredictor creates a predictor for the model server at baseURL.
func NewHTTPPredictor(baseURL string) *HTTPPredictor {
	return &HTTPPredictor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type predictResponse struct {
	Score *float64 `json:"score"`
}

// Predict sends the patch to the model server.
func (p *HTTPPredictor) Predict(ctx context.Context, patch *imagery.Patch) (float64, error) {
	if patch == nil {
		return 0, fmt.Errorf("nil patch")
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("failed to encode patch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/predict", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("model server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode prediction: %w", err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("model server response has no score")
	}
	return *out.Score, nil
}
