package classify

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/resilience"
	"github.com/sells-group/tariff-cli/pkg/anthropic"
)

// fakeAnthropicClient returns a canned response or error.
type fakeAnthropicClient struct {
	resp  *anthropic.MessageResponse
	err   error
	calls int
}

func (f *fakeAnthropicClient) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testAnthropicConfig() config.AnthropicConfig {
	return config.AnthropicConfig{
		Model:      "claude-haiku-4-5-20251001",
		MaxTokens:  1024,
		MaxRetries: 2,
	}
}

func TestAnthropicSearcher_Classify(t *testing.T) {
	client := &fakeAnthropicClient{resp: &anthropic.MessageResponse{
		Text: `{"candidates":[{"hs_code":"8544.30","description":"Wiring sets for vehicles","confidence":0.85}]}`,
	}}
	s := NewAnthropicSearcher(client, resilience.NopLimiter{}, testAnthropicConfig())

	cands, err := s.Classify(context.Background(), ItemContext{Description: "wiring harness"})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "8544.30", cands[0].HSCode)
	assert.InDelta(t, 0.85, cands[0].Confidence, 0.001)
	assert.Equal(t, model.SourceAIAssisted, cands[0].Source)
	assert.Equal(t, 1, client.calls)
}

func TestAnthropicSearcher_UnparseableIsNoMatch(t *testing.T) {
	client := &fakeAnthropicClient{resp: &anthropic.MessageResponse{Text: "I cannot classify this."}}
	s := NewAnthropicSearcher(client, nil, testAnthropicConfig())

	cands, err := s.Classify(context.Background(), ItemContext{Description: "mystery item"})
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestAnthropicSearcher_PermanentErrorSurfaces(t *testing.T) {
	client := &fakeAnthropicClient{err: eris.New("invalid api key")}
	s := NewAnthropicSearcher(client, nil, testAnthropicConfig())

	_, err := s.Classify(context.Background(), ItemContext{Description: "anything"})
	assert.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestParseCandidates(t *testing.T) {
	cands, err := parseCandidates("```json\n{\"candidates\":[{\"hs_code\":\"8544.30\",\"confidence\":0.8},{\"hs_code\":\"\",\"confidence\":0.5},{\"hs_code\":\"7408.11\",\"confidence\":1.7}]}\n```")
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "8544.30", cands[0].HSCode)
	// Out-of-range confidence is clamped into [0,1].
	assert.Equal(t, 1.0, cands[1].Confidence)
}

func TestParseCandidates_EmptyList(t *testing.T) {
	cands, err := parseCandidates(`{"candidates":[]}`)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", "Here you go: {\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}
