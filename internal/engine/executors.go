package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-hclog"

	"github.com/awaregh/platform/internal/engine/completion"
	"github.com/awaregh/platform/pkg/models"
)

// maxDelayMs caps DELAY nodes; larger configured values are clamped.
const maxDelayMs = 30_000

// Executor dispatches a node to its type-specific implementation. All
// side effects of a step happen here.
type Executor struct {
	completions completion.Client
	httpClient  *http.Client
	logger      hclog.Logger
}

func NewExecutor(completions completion.Client, httpClient *http.Client, logger hclog.Logger) *Executor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{completions: completions, httpClient: httpClient, logger: logger}
}

// Execute runs one node against the step context and returns its output.
func (e *Executor) Execute(ctx context.Context, node models.Node, sc *StepContext) (map[string]any, error) {
	switch cfg := node.Config.(type) {
	case models.AICompletionConfig:
		return e.executeAICompletion(ctx, cfg, sc)
	case models.HTTPRequestConfig:
		return e.executeHTTPRequest(ctx, cfg, sc)
	case models.ConditionConfig:
		return e.executeCondition(cfg, sc)
	case models.TransformConfig:
		return e.executeTransform(cfg, sc)
	case models.DelayConfig:
		return executeDelay(cfg), nil
	case models.WebhookConfig:
		return e.executeWebhook(ctx, cfg, sc)
	default:
		return nil, fmt.Errorf("node %s has no executor for type %s", node.ID, node.Type)
	}
}

func (e *Executor) executeAICompletion(ctx context.Context, cfg models.AICompletionConfig, sc *StepContext) (map[string]any, error) {
	if cfg.UserPromptTemplate == "" {
		return nil, fmt.Errorf("missing user prompt template")
	}
	resp, err := e.completions.Complete(ctx, completion.Request{
		SystemPrompt: sc.Interpolate(cfg.SystemPrompt),
		UserPrompt:   sc.Interpolate(cfg.UserPromptTemplate),
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	return map[string]any{
		"content":    resp.Content,
		"model":      resp.Model,
		"tokensUsed": resp.TokensUsed,
	}, nil
}

func (e *Executor) executeHTTPRequest(ctx context.Context, cfg models.HTTPRequestConfig, sc *StepContext) (map[string]any, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("missing url")
	}
	url := sc.Interpolate(cfg.URL)

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if cfg.Body != nil {
		raw, err := json.Marshal(sc.InterpolateValue(cfg.Body))
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if cfg.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, sc.Interpolate(v))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// body is parsed JSON when possible, raw text otherwise
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	// a non-2xx status is data for downstream conditions, not an error
	return map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       parsed,
	}, nil
}

func (e *Executor) executeCondition(cfg models.ConditionConfig, sc *StepContext) (map[string]any, error) {
	if cfg.Expression == "" {
		return nil, fmt.Errorf("missing expression")
	}

	result, err := sc.Eval(cfg.Expression)
	if err != nil {
		// a failed evaluation selects the false branch rather than failing
		e.logger.Warn("condition evaluation failed", "expression", cfg.Expression, "error", err)
		result = false
	}

	conditionResult := truthy(result)
	out := map[string]any{"conditionResult": conditionResult}

	branch := cfg.FalseBranch
	if conditionResult {
		branch = cfg.TrueBranch
	}
	if branch != "" {
		out["selectedBranch"] = branch
	}
	return out, nil
}

func (e *Executor) executeTransform(cfg models.TransformConfig, sc *StepContext) (map[string]any, error) {
	if cfg.Template == nil {
		return nil, fmt.Errorf("missing template")
	}
	out, ok := sc.InterpolateValue(cfg.Template).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("template did not interpolate to an object")
	}
	return out, nil
}

func executeDelay(cfg models.DelayConfig) map[string]any {
	return map[string]any{
		"delayed": true,
		"delayMs": clampDelay(cfg.DelayMs),
	}
}

func clampDelay(delayMs int64) int64 {
	if delayMs > maxDelayMs {
		return maxDelayMs
	}
	if delayMs < 0 {
		return 0
	}
	return delayMs
}

func (e *Executor) executeWebhook(ctx context.Context, cfg models.WebhookConfig, sc *StepContext) (map[string]any, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("missing webhook url")
	}
	url := sc.Interpolate(cfg.WebhookURL)

	payload, err := json.Marshal(map[string]any{
		"input": sc.Input,
		"steps": sc.stepsValue(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook delivery failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return map[string]any{
		"statusCode":   resp.StatusCode,
		"acknowledged": resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}
