package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/aidex/internal/prompts"
)

// MockClient provides deterministic local replies when no upstream is wanted.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

var mockMedicalKeywords = []string{
	"pain", "ache", "hurt", "fever", "cough", "rash", "dizzy", "nausea", "sick",
	"symptom", "medicine", "doctor", "health", "sleep", "tired", "swelling", "bleed",
}

func (c *MockClient) Complete(ctx context.Context, req Request) Result {
	select {
	case <-ctx.Done():
		return ErrorResult(KindTransportFailure, "%v", ctx.Err())
	default:
	}

	switch {
	case req.JSON:
		return TextResult(fmt.Sprintf(`{%q: %t}`, prompts.GateKey, looksMedical(gateQuery(req.Prompt))))
	case len(req.Image) > 0:
		return TextResult("I can see the image you shared, but this is a local preview without visual analysis. " + prompts.SafetyDisclaimer)
	default:
		return TextResult("I'm sorry to hear that. When did it start, and is there anything that makes it better or worse? " + prompts.SafetyDisclaimer)
	}
}

// gateQuery pulls the user query out of a gate prompt.
func gateQuery(prompt string) string {
	const marker = "Analyze the following user query:"
	idx := strings.Index(prompt, marker)
	if idx < 0 {
		return prompt
	}
	rest := prompt[idx+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return rest
}

func looksMedical(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range mockMedicalKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
