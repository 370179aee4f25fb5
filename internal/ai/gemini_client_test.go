package ai

import (
	"testing"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
)

func TestTokenCounterLimits(t *testing.T) {
	tc := &TokenCounter{limits: RateLimits{RPM: 2, TPM: 100, RPD: 3}}

	assert.True(t, tc.CanConsume(10, 1))
	tc.RecordUsage(10, 1)
	assert.True(t, tc.CanConsume(10, 1))
	tc.RecordUsage(10, 1)
	assert.False(t, tc.CanConsume(10, 1), "minute request budget exhausted")

	fresh := &TokenCounter{limits: RateLimits{RPM: 10, TPM: 100, RPD: 10}}
	assert.False(t, fresh.CanConsume(101, 1), "token budget exceeded")
}

func TestGetRateLimits(t *testing.T) {
	assert.Equal(t, 10, getRateLimits("").RPM)
	assert.Equal(t, 1000, getRateLimits("tier1").RPM)
	assert.Equal(t, 2000, getRateLimits("tier2").RPM)
}

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(" hello "), genai.Text("world ")}}},
			{Content: nil},
		},
	}
	assert.Equal(t, "hello world", extractText(resp))
	assert.Equal(t, 2, extractTokenUsage(resp))

	resp.UsageMetadata = &genai.UsageMetadata{TotalTokenCount: 42}
	assert.Equal(t, 42, extractTokenUsage(resp))
}
