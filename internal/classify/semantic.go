package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/resilience"
	"github.com/sells-group/tariff-cli/pkg/anthropic"
)

const semanticSystemPrompt = `You are a customs classification specialist. Given a product context, return the most likely HS (Harmonized System) codes at the 6-digit subheading level. Respond with ONLY a valid JSON object:
{"candidates":[{"hs_code":"8544.30","description":"<official heading text>","confidence":<0.0-1.0>}]}
Return at most 3 candidates, most likely first. Confidence reflects how certain the classification is given the stated material, form, and processing. If the context is too vague to classify, return {"candidates":[]}.`

const semanticUserPrompt = `Product description: %s
Material: %s
Function: %s
Form: %s
Processing: %s
Industry: %s
Specifications: %s`

// AnthropicSearcher implements SemanticSearcher over the Anthropic API with
// an injected rate limiter and transient-error retry.
type AnthropicSearcher struct {
	client  anthropic.Client
	limiter resilience.Limiter
	cfg     config.AnthropicConfig
}

// NewAnthropicSearcher creates the AI-assisted searcher. The limiter is
// owned by the caller so concurrent resolvers share a single budget.
func NewAnthropicSearcher(client anthropic.Client, limiter resilience.Limiter, cfg config.AnthropicConfig) *AnthropicSearcher {
	if limiter == nil {
		limiter = resilience.NopLimiter{}
	}
	return &AnthropicSearcher{client: client, limiter: limiter, cfg: cfg}
}

// Classify asks the model for candidate codes given the synthesized context.
func (s *AnthropicSearcher) Classify(ctx context.Context, c ItemContext) ([]Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "classify: limiter wait")
	}

	prompt := fmt.Sprintf(semanticUserPrompt,
		c.Description,
		orUnknown(c.Material),
		orUnknown(c.Function),
		orUnknown(c.Form),
		orUnknown(c.Processing),
		orUnknown(c.Industry),
		orUnknown(strings.Join(c.Specifications, "; ")),
	)

	// Temperature 0 keeps repeated runs deterministic for identical input.
	temp := 0.0
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = s.cfg.MaxRetries
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "classify")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		r, callErr := s.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       s.cfg.Model,
			MaxTokens:   s.cfg.MaxTokens,
			System:      semanticSystemPrompt,
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
			Temperature: &temp,
		})
		if callErr != nil {
			if resilience.IsTransient(callErr) {
				s.limiter.OnRateLimit()
			}
			return nil, callErr
		}
		s.limiter.OnSuccess()
		return r, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: semantic search")
	}

	resp.Usage.LogCost(s.cfg.Model, "classify")

	cands, err := parseCandidates(resp.Text)
	if err != nil {
		zap.L().Warn("classify: unparseable semantic response",
			zap.String("text", truncate(resp.Text, 200)),
			zap.Error(err),
		)
		// An unparseable answer is "no match", not a source failure.
		return nil, nil
	}
	return cands, nil
}

// parseCandidates decodes the model's JSON reply into candidates, dropping
// entries with no usable code.
func parseCandidates(text string) ([]Candidate, error) {
	text = cleanJSON(text)

	var result struct {
		Candidates []struct {
			HSCode      string  `json:"hs_code"`
			Description string  `json:"description"`
			Confidence  float64 `json:"confidence"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, eris.Wrap(err, "classify: parse candidates")
	}

	var out []Candidate
	for _, c := range result.Candidates {
		if model.NormalizeHSCode(c.HSCode) == "" {
			continue
		}
		conf := c.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, Candidate{
			HSCode:      c.HSCode,
			Description: c.Description,
			Confidence:  conf,
			Source:      model.SourceAIAssisted,
		})
	}
	return out, nil
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
