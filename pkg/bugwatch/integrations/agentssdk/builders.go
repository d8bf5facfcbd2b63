// builders.go assembles capture options from run enrichment.

package agentssdk

import (
	"context"
	"errors"
	"strings"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
)

// guardrailPatterns mark errors raised by content policy checks.
var guardrailPatterns = []string{
	"guardrail",
	"content policy",
	"safety filter",
	"blocked by policy",
}

// classifyError buckets a run error for the error.class tag.
func classifyError(err error) string {
	if err == nil {
		return "error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	for _, p := range guardrailPatterns {
		if strings.Contains(msg, p) {
			return "guardrail"
		}
	}
	return "error"
}

// captureOptions tags an event with the run's enrichment and mechanism.
func captureOptions(enrichment Enrichment, mechanism string) []bugwatch.CaptureOption {
	opts := []bugwatch.CaptureOption{
		bugwatch.WithTags(enrichment.Tags()),
		bugwatch.WithTag("mechanism", mechanism),
	}
	if enrichment.LLM != nil {
		opts = append(opts, bugwatch.WithExtraValue("llm", enrichment.LLM))
	}
	return opts
}
