// Package llmclient talks to an OpenAI-compatible chat completions endpoint
// (Grok/x.ai by default) to turn a conversation thread into a structured
// insight: sentiment, topics, service gaps, and a one-line summary.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/hemantsathish/conversation-insights-backend/internal/breaker"
)

const systemPrompt = `You analyze customer support conversation threads from Twitter/X.
Given a full thread (messages in order), output a JSON object with:
- "sentiment": one of "positive", "negative", "neutral", or "mixed"
- "topics": list of short topic strings (e.g. ["billing", "delay", "refund"])
- "gaps": list of service or communication gaps (e.g. "slow response", "no ETA")
- "summary": one short sentence summarizing the conversation

Output only valid JSON, no markdown or extra text.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Temperature int           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int    `json:"prompt_tokens"`
		CompletionTokens int    `json:"completion_tokens"`
		TotalTokens      int    `json:"total_tokens"`
		CostInUSDTicks   *int64 `json:"cost_in_usd_ticks"`
	} `json:"usage"`
}

// Result is the outcome of one analyze call: either Insight is populated
// (success) or Error is non-empty (failure, no insight produced).
type Result struct {
	Insight          map[string]any
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostEstimate     *float64
	Error            string
	StatusCode       int
}

// Config holds the subset of LLM settings the client needs.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds float64
	MaxRetries     int
}

// Client calls the chat completions endpoint, retrying transient failures
// and recording every attempt's outcome against a Breaker.
type Client struct {
	http    *resty.Client
	cfg     Config
	breaker *breaker.Breaker
	logger  *logrus.Logger

	sleep func(time.Duration)
}

// New builds a Client. If logger is nil, failures are not logged.
func New(cfg Config, cb *breaker.Breaker, logger *logrus.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetTimeout(time.Duration(cfg.TimeoutSeconds * float64(time.Second)))
	httpClient.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	httpClient.SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		cfg:     cfg,
		breaker: cb,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

func buildMessages(threadText string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Conversation thread:\n\n" + threadText},
	}
}

// parseInsightJSON strips an optional ``` or ```json fence and parses the
// remainder as JSON. Unparseable content is wrapped as {"raw":...,
// "parse_error":true} rather than discarded.
func parseInsightJSON(content string) map[string]any {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return map[string]any{}
	}
	raw := trimmed
	if strings.HasPrefix(raw, "```") {
		lines := strings.Split(raw, "\n")
		start := 1
		end := len(lines)
		for i, l := range lines {
			if i > 0 && strings.TrimSpace(l) == "```" {
				end = i
				break
			}
		}
		raw = strings.Join(lines[start:end], "\n")
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return map[string]any{"raw": content, "parse_error": true}
	}
	return parsed
}

// Analyze sends threadText through the chat completions endpoint, retrying
// up to MaxRetries additional times on rate limiting or transport failure.
// The circuit breaker is checked before every attempt; once it refuses, the
// call returns "circuit_open" without recording a further failure.
func (c *Client) Analyze(ctx context.Context, threadText string) Result {
	if c.cfg.APIKey == "" {
		return Result{Error: "GROK_API_KEY not set"}
	}
	if !c.breaker.CanCall() {
		return Result{Error: "circuit_open"}
	}

	payload := chatRequest{
		Messages:    buildMessages(threadText),
		Model:       c.cfg.Model,
		Stream:      false,
		Temperature: 0,
	}

	var lastError string
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if !c.breaker.CanCall() {
			return Result{Error: "circuit_open"}
		}
		var body chatResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+c.cfg.APIKey).
			SetBody(payload).
			SetResult(&body).
			Post("/chat/completions")

		if err != nil {
			lastError = "timeout"
			c.breaker.RecordFailure()
			if c.logger != nil {
				c.logger.WithError(err).Warn("llmclient: request failed")
			}
			if attempt < c.cfg.MaxRetries {
				c.sleep(time.Duration(attempt+1) * time.Second)
			}
			continue
		}

		if resp.StatusCode() == 429 {
			lastError = "rate_limit"
			c.breaker.RecordFailure()
			c.sleep(2 * time.Duration(attempt+1) * time.Second)
			continue
		}

		if resp.StatusCode() != 200 {
			lastError = fmt.Sprintf("http_%d", resp.StatusCode())
			c.breaker.RecordFailure()
			return Result{Error: lastError, StatusCode: resp.StatusCode()}
		}

		if len(body.Choices) == 0 {
			lastError = "no_choices"
			c.breaker.RecordFailure()
			return Result{Error: lastError}
		}

		content := body.Choices[0].Message.Content
		var costEstimate *float64
		if body.Usage.CostInUSDTicks != nil {
			v := float64(*body.Usage.CostInUSDTicks) / 1_000_000
			costEstimate = &v
		}

		c.breaker.RecordSuccess()
		return Result{
			Insight:          parseInsightJSON(content),
			PromptTokens:     body.Usage.PromptTokens,
			CompletionTokens: body.Usage.CompletionTokens,
			TotalTokens:      body.Usage.TotalTokens,
			CostEstimate:     costEstimate,
		}
	}

	if lastError == "" {
		lastError = "unknown"
	}
	return Result{Error: lastError}
}
