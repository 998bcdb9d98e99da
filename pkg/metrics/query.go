// Package metrics queries a Prometheus server for the token usage chatmem exported.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"chatmemory/pkg/config"
)

// Metric names exported by the agent's Prometheus recorder.
const (
	tokensMetric   = "chatmem_llm_tokens_total"
	requestsMetric = "chatmem_llm_requests_total"
)

// SessionMetrics represents aggregated usage for one session, optionally for one model.
type SessionMetrics struct {
	SessionID        string  `json:"session_id"`
	Model            string  `json:"model,omitempty"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Requests         int64   `json:"requests"`
	TotalCost        float64 `json:"total_cost_usd"` // estimated from KnownModels pricing
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
	now      func() time.Time
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		queryAPI: v1.NewAPI(client),
		now:      time.Now,
	}, nil
}

// scalar runs query and returns the first sample value, zero when the result is empty.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetSessionMetrics retrieves aggregated token usage for a session across all models.
func (q *QueryService) GetSessionMetrics(ctx context.Context, sessionID string) (*SessionMetrics, error) {
	byModel, err := q.GetSessionMetricsByModel(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	total := &SessionMetrics{SessionID: sessionID}
	for _, m := range byModel {
		total.PromptTokens += m.PromptTokens
		total.CompletionTokens += m.CompletionTokens
		total.Requests += m.Requests
		total.TotalCost += m.TotalCost
	}
	total.TotalTokens = total.PromptTokens + total.CompletionTokens
	return total, nil
}

// GetSessionMetricsByModel retrieves usage broken down by model, sorted by model name.
func (q *QueryService) GetSessionMetricsByModel(ctx context.Context, sessionID string) ([]*SessionMetrics, error) {
	modelsQuery := fmt.Sprintf(`group by (model) (%s{session_id=%q})`, requestsMetric, sessionID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}
	sort.Strings(models)

	result := make([]*SessionMetrics, 0, len(models))
	for _, modelName := range models {
		metrics := &SessionMetrics{SessionID: sessionID, Model: modelName}

		prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{session_id=%q, model=%q, type="prompt"})`, tokensMetric, sessionID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", modelName, err)
		}
		completion, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{session_id=%q, model=%q, type="completion"})`, tokensMetric, sessionID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", modelName, err)
		}
		requests, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{session_id=%q, model=%q})`, requestsMetric, sessionID, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query requests for model %s: %w", modelName, err)
		}

		metrics.PromptTokens = int64(prompt)
		metrics.CompletionTokens = int64(completion)
		metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens
		metrics.Requests = int64(requests)
		metrics.TotalCost = config.CalculateCost(modelName, int(metrics.PromptTokens), int(metrics.CompletionTokens))
		result = append(result, metrics)
	}

	return result, nil
}
