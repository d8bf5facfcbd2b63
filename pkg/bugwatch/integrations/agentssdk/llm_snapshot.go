// llm_snapshot.go builds metadata snapshots of LLM calls without storing
// message text.

package agentssdk

import (
	"slices"

	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
)

// maxSnapshotMessages is the number of trailing messages described in a snapshot.
const maxSnapshotMessages = 10

// LLMOperation captures metadata from an LLM call. Prompt and response text
// are never stored.
type LLMOperation struct {
	Model        string            `json:"model"`
	Provider     string            `json:"provider,omitempty"`
	MessageCount int               `json:"message_count"`
	Messages     []MessageMetadata `json:"messages,omitempty"`
	Temperature  *float32          `json:"temperature,omitempty"`
	TopP         *float32          `json:"top_p,omitempty"`
	MaxTokens    *int              `json:"max_tokens,omitempty"`
	ToolCount    int               `json:"tool_count"`
	ToolNames    []string          `json:"tool_names,omitempty"`

	// Populated from the response.
	ResponseID       string   `json:"response_id,omitempty"`
	FinishReason     string   `json:"finish_reason,omitempty"`
	ToolCallCount    int      `json:"tool_call_count,omitempty"`
	ToolCallNames    []string `json:"tool_call_names,omitempty"`
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
	TotalTokens      int      `json:"total_tokens,omitempty"`
}

// MessageMetadata describes a message's shape without its content.
type MessageMetadata struct {
	Role          string `json:"role"`
	ContentLength int    `json:"content_length"`
	PartsCount    int    `json:"parts_count"`
	HasImage      bool   `json:"has_image,omitempty"`
	HasToolCall   bool   `json:"has_tool_call,omitempty"`
	HasToolResult bool   `json:"has_tool_result,omitempty"`
}

func (op *LLMOperation) clone() LLMOperation {
	out := *op
	out.Messages = slices.Clone(op.Messages)
	out.ToolNames = slices.Clone(op.ToolNames)
	out.ToolCallNames = slices.Clone(op.ToolCallNames)
	return out
}

// buildLLMOperation extracts metadata from an LLM request.
func buildLLMOperation(req llmsdk.Request) *LLMOperation {
	op := &LLMOperation{
		Model:        req.Model,
		Provider:     string(req.Provider),
		MessageCount: len(req.Messages),
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		MaxTokens:    req.MaxTokens,
		ToolCount:    len(req.Tools),
	}

	for _, tool := range req.Tools {
		op.ToolNames = append(op.ToolNames, tool.Name)
	}

	start := max(len(req.Messages)-maxSnapshotMessages, 0)
	for _, msg := range req.Messages[start:] {
		op.Messages = append(op.Messages, buildMessageMetadata(msg))
	}
	return op
}

// buildMessageMetadata measures a message without copying its content.
func buildMessageMetadata(msg llmsdk.Message) MessageMetadata {
	metadata := MessageMetadata{
		Role:       string(msg.Role),
		PartsCount: len(msg.Parts),
	}
	for _, part := range msg.Parts {
		metadata.ContentLength += len(part.Text)
		if part.ImageData != nil {
			metadata.HasImage = true
		}
		if part.ToolCall != nil {
			metadata.HasToolCall = true
		}
		if part.ToolResult != nil {
			metadata.HasToolResult = true
		}
	}
	return metadata
}

// applyResponse records response metadata on op.
func (op *LLMOperation) applyResponse(resp llmsdk.Response) {
	if op == nil {
		return
	}

	op.ResponseID = resp.ID
	op.FinishReason = string(resp.FinishReason)
	op.PromptTokens = resp.Usage.PromptTokens
	op.CompletionTokens = resp.Usage.CompletionTokens
	op.TotalTokens = resp.Usage.TotalTokens

	op.ToolCallCount = len(resp.ToolCalls)
	op.ToolCallNames = nil
	for _, tc := range resp.ToolCalls {
		op.ToolCallNames = append(op.ToolCallNames, tc.Name)
	}
}
