// hooks.go implements RunHooks that record breadcrumbs and enrichment data.
// Error detection is done by WrappedRunner; hooks only add context.

package agentssdk

import (
	"context"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
)

// Breadcrumb categories recorded by HookAdapter.
const (
	CategoryAgent = "agent"
	CategoryTool  = "tool"
	CategoryLLM   = "llm"
)

// HookAdapter implements agents.RunHooks. Every hook leaves a breadcrumb on
// the client and updates the run's enrichment before delegating to the
// inner hooks.
type HookAdapter struct {
	client *bugwatch.Client
	store  EnrichmentStore
	inner  agents.RunHooks
}

var _ agents.RunHooks = (*HookAdapter)(nil)

// NewHookAdapter wraps inner (which may be nil). Breadcrumbs go to client,
// or to the client installed by bugwatch.Init when client is nil. Only the
// inner hooks' errors are returned.
func NewHookAdapter(client *bugwatch.Client, store EnrichmentStore, inner agents.RunHooks) *HookAdapter {
	if store == nil {
		store = NewEnrichmentStore()
	}
	return &HookAdapter{
		client: client,
		store:  store,
		inner:  inner,
	}
}

// OnAgentStart records the agent name.
func (h *HookAdapter) OnAgentStart(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent) error {
	if agent != nil {
		h.update(ctx, func(e *Enrichment) {
			e.AgentName = agent.Name()
		})
		h.breadcrumb(CategoryAgent, "agent started: "+agent.Name(), bugwatch.LevelInfo, nil)
	}

	if h.inner != nil {
		return h.inner.OnAgentStart(ctx, runCtx, agent)
	}
	return nil
}

// OnAgentEnd delegates to inner hooks.
func (h *HookAdapter) OnAgentEnd(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent, result agents.RunResult) error {
	if agent != nil {
		h.breadcrumb(CategoryAgent, "agent finished: "+agent.Name(), bugwatch.LevelInfo, nil)
	}

	if h.inner != nil {
		return h.inner.OnAgentEnd(ctx, runCtx, agent, result)
	}
	return nil
}

// OnHandoff records the handoff target as the active agent.
func (h *HookAdapter) OnHandoff(ctx context.Context, runCtx *agents.RunContext, from *agents.Agent, to *agents.Agent) error {
	data := map[string]any{}
	if from != nil {
		data["from"] = from.Name()
	}
	if to != nil {
		data["to"] = to.Name()
		h.update(ctx, func(e *Enrichment) {
			e.AgentName = to.Name()
			e.Operation = "handoff"
		})
	}
	h.breadcrumb(CategoryAgent, "handoff", bugwatch.LevelInfo, data)

	if h.inner != nil {
		return h.inner.OnHandoff(ctx, runCtx, from, to)
	}
	return nil
}

// OnToolStart records the tool call in progress.
func (h *HookAdapter) OnToolStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, call llmsdk.ToolCall) error {
	h.update(ctx, func(e *Enrichment) {
		if agent != nil {
			e.AgentName = agent.Name()
		}
		e.Operation = "tool"
		e.ToolName = tool.Name
		e.ToolCallID = call.ID
		e.OperationID = call.ID
	})
	h.breadcrumb(CategoryTool, "tool call: "+tool.Name, bugwatch.LevelInfo, map[string]any{
		"call_id":    call.ID,
		"input_size": len(call.Arguments),
	})

	if h.inner != nil {
		return h.inner.OnToolStart(ctx, runCtx, agent, tool, call)
	}
	return nil
}

// OnToolEnd records the tool's output size.
func (h *HookAdapter) OnToolEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, output string) error {
	h.breadcrumb(CategoryTool, "tool finished: "+tool.Name, bugwatch.LevelInfo, map[string]any{
		"output_size": len(output),
	})

	if h.inner != nil {
		return h.inner.OnToolEnd(ctx, runCtx, agent, tool, output)
	}
	return nil
}

// OnLLMStart records the model and a metadata snapshot of the request.
func (h *HookAdapter) OnLLMStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, req llmsdk.Request) error {
	op := buildLLMOperation(req)
	h.update(ctx, func(e *Enrichment) {
		if agent != nil {
			e.AgentName = agent.Name()
		}
		e.Operation = "llm"
		e.OperationID = ""
		e.Model = req.Model
		e.LLM = op
	})
	h.breadcrumb(CategoryLLM, "llm request: "+req.Model, bugwatch.LevelInfo, map[string]any{
		"message_count": op.MessageCount,
		"tool_count":    op.ToolCount,
	})

	if h.inner != nil {
		return h.inner.OnLLMStart(ctx, runCtx, agent, req)
	}
	return nil
}

// OnLLMEnd adds response metadata to the snapshot.
func (h *HookAdapter) OnLLMEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, resp llmsdk.Response) error {
	h.update(ctx, func(e *Enrichment) {
		e.LLM.applyResponse(resp)
	})
	h.breadcrumb(CategoryLLM, "llm response", bugwatch.LevelInfo, map[string]any{
		"finish_reason":   string(resp.FinishReason),
		"tool_call_count": len(resp.ToolCalls),
		"usage":           resp.Usage.TotalTokens,
	})

	if h.inner != nil {
		return h.inner.OnLLMEnd(ctx, runCtx, agent, resp)
	}
	return nil
}

// update applies fn to the enrichment of the run carried by ctx, if any.
func (h *HookAdapter) update(ctx context.Context, fn func(e *Enrichment)) {
	if runID, ok := bugwatch.RunIDFromContext(ctx); ok {
		h.store.Update(runID, fn)
	}
}

func (h *HookAdapter) breadcrumb(category, message string, level bugwatch.Level, data map[string]any) {
	client := h.client
	if client == nil {
		client = bugwatch.CurrentClient()
	}
	if client == nil {
		return
	}
	client.AddBreadcrumb(category, message, level, data)
}
