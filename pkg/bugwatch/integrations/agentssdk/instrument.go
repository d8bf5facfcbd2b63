// Package agentssdk reports ai-agents-sdk run failures to bugwatch.
//
// Instrument wraps an agents.Runner so that every error returned by a run is
// captured and every panic is captured and re-raised. Run hooks leave
// breadcrumbs (agent starts, handoffs, tool calls, LLM calls) and tag the
// event with the operation that was in progress when the run failed.
package agentssdk

import (
	"github.com/KCuppens/bugwatch/pkg/bugwatch"
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
)

// WrapOption configures a WrappedRunner.
type WrapOption func(*WrappedRunner)

// WithEnrichmentStore sets the store used to correlate hook data with errors
// captured at the runner boundary.
func WithEnrichmentStore(store EnrichmentStore) WrapOption {
	return func(w *WrappedRunner) {
		if store != nil {
			w.enrichments = store
		}
	}
}

// Instrument wraps a Runner with error and panic capture. Events go to
// client, or to the client installed by bugwatch.Init when client is nil.
//
// Example:
//
//	client, _ := bugwatch.Init(bugwatch.WithAPIKey(key))
//	runner := agents.NewRunner(llmClient)
//	wrapped := agentssdk.Instrument(runner, client)
//	result, err := wrapped.Run(ctx, agent, input, session, nil)
func Instrument(baseRunner *agents.Runner, client *bugwatch.Client, opts ...WrapOption) *WrappedRunner {
	wrapper := &WrappedRunner{
		inner:       baseRunner,
		client:      client,
		enrichments: NewEnrichmentStore(),
	}
	for _, opt := range opts {
		opt(wrapper)
	}
	return wrapper
}
