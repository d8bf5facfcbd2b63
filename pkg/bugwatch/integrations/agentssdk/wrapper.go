// wrapper.go implements WrappedRunner, which wraps agents.Runner to capture
// errors and panics. It is the primary capture mechanism; hooks add context.

package agentssdk

import (
	"context"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
	"github.com/google/uuid"
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
)

// WrappedRunner wraps an agents.Runner to capture errors and panics.
type WrappedRunner struct {
	inner       *agents.Runner
	client      *bugwatch.Client
	enrichments EnrichmentStore
}

// Run executes the agent, reporting a returned error and re-raising a panic
// after reporting it.
func (w *WrappedRunner) Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error) {
	ctx, runID := w.begin(ctx, session)
	defer w.enrichments.Delete(runID)
	defer w.capturePanic(ctx, runID)

	result, err := w.inner.Run(ctx, agent, input, session, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, err)
	}
	return result, err
}

// RunOnce executes a single turn of the agent, capturing errors and panics.
func (w *WrappedRunner) RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error) {
	ctx, runID := w.begin(ctx, nil)
	defer w.enrichments.Delete(runID)
	defer w.capturePanic(ctx, runID)

	result, err := w.inner.RunOnce(ctx, agent, input, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, err)
	}
	return result, err
}

// RunStream starts a streaming run, capturing errors at the start.
// Errors during streaming are not captured.
func (w *WrappedRunner) RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error) {
	ctx, runID := w.begin(ctx, session)
	// The stream may outlive this call, so enrichment is kept on success.
	defer w.capturePanic(ctx, runID)

	stream, err := w.inner.RunStream(ctx, agent, input, session, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, err)
		w.enrichments.Delete(runID)
	}
	return stream, err
}

// begin assigns a run ID and links the run to the session's cxdb context.
func (w *WrappedRunner) begin(ctx context.Context, session any) (context.Context, string) {
	runID := uuid.New().String()
	ctx = bugwatch.WithRunID(ctx, runID)
	if id, ok := extractContextID(ctx, session); ok {
		ctx = bugwatch.WithContextID(ctx, id)
	}
	return ctx, runID
}

// extractContextID asks the session for its cxdb context ID, falling back to
// the ID already carried by ctx.
func extractContextID(ctx context.Context, session any) (uint64, bool) {
	if provider, ok := session.(bugwatch.ContextIDProvider); ok {
		if id, err := provider.ContextID(ctx); err == nil {
			return id, true
		}
	}
	return bugwatch.ContextIDFromContext(ctx)
}

// wrapRunConfig clones cfg and wraps its hooks with a HookAdapter.
func (w *WrappedRunner) wrapRunConfig(cfg *agents.RunConfig) *agents.RunConfig {
	var cloned agents.RunConfig
	if cfg != nil {
		cloned = *cfg
	}
	cloned.Hooks = NewHookAdapter(w.client, w.enrichments, cloned.Hooks)
	return &cloned
}

func (w *WrappedRunner) captureError(ctx context.Context, runID string, err error) {
	client := w.currentClient()
	if client == nil {
		return
	}
	enrichment, _ := w.enrichments.Get(runID)
	opts := append(captureOptions(enrichment, "runner"), bugwatch.WithTag("error.class", classifyError(err)))
	client.CaptureException(ctx, err, opts...)
}

// capturePanic recovers a panic, reports it and re-panics.
func (w *WrappedRunner) capturePanic(ctx context.Context, runID string) {
	r := recover()
	if r == nil {
		return
	}
	if client := w.currentClient(); client != nil {
		enrichment, _ := w.enrichments.Get(runID)
		client.CapturePanic(ctx, r, captureOptions(enrichment, "runner")...)
	}
	panic(r)
}

func (w *WrappedRunner) currentClient() *bugwatch.Client {
	if w.client != nil {
		return w.client
	}
	return bugwatch.CurrentClient()
}

// Inner returns the underlying Runner for advanced usage.
func (w *WrappedRunner) Inner() *agents.Runner {
	return w.inner
}
