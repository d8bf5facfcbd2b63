// Package cxdb provides a transport that persists events to cxdb as
// SystemMessage items.
package cxdb

import (
	"context"
	"fmt"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"
)

// Client is the minimal interface for cxdb client operations.
// The real *cxdb.Client satisfies this interface.
type Client interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
}

// Option configures the cxdb transport.
type Option func(*config)

type config struct {
	orphanLabels []string
	clientTag    string
}

// WithOrphanLabels sets labels for orphan event contexts.
func WithOrphanLabels(labels []string) Option {
	return func(c *config) {
		c.orphanLabels = labels
	}
}

// WithClientTag sets the client tag for orphan contexts.
func WithClientTag(tag string) Option {
	return func(c *config) {
		c.clientTag = tag
	}
}

// Transport writes events to cxdb. Events captured under a context carrying
// bugwatch.WithContextID are appended to that context; all others start a
// new orphan context.
type Transport struct {
	client       Client
	orphanLabels []string
	clientTag    string
}

var _ bugwatch.Transport = (*Transport)(nil)

// New creates a transport that writes to cxdb.
func New(client Client, opts ...Option) *Transport {
	cfg := &config{
		orphanLabels: []string{"error", "unlinked"},
		clientTag:    bugwatch.SDKName,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Transport{
		client:       client,
		orphanLabels: cfg.orphanLabels,
		clientTag:    cfg.clientTag,
	}
}

// Send appends the event to cxdb as a ConversationItem turn.
func (t *Transport) Send(ctx context.Context, event *bugwatch.Event) error {
	contextID, linked := bugwatch.ContextIDFromContext(ctx)
	if !linked {
		head, err := t.client.CreateContext(ctx, 0)
		if err != nil {
			return fmt.Errorf("create orphan context: %w", err)
		}
		contextID = head.ContextID
	}

	item, err := t.buildConversationItem(event, !linked)
	if err != nil {
		return err
	}

	payload, err := cxdbclient.EncodeMsgpack(item)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req := &cxdbclient.AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   0,
		TypeID:         cxdtypes.TypeIDConversationItem,
		TypeVersion:    cxdtypes.TypeVersionConversationItem,
		Payload:        payload,
		IdempotencyKey: event.EventID,
	}

	if _, err := t.client.AppendTurn(ctx, req); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// buildConversationItem wraps the wire form of event in a SystemMessage.
func (t *Transport) buildConversationItem(event *bugwatch.Event, isOrphan bool) (*cxdtypes.ConversationItem, error) {
	content, err := bugwatch.EncodeEvent(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: event.Timestamp.UnixMilli(),
		ID:        event.EventID,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   title(event),
			Content: string(content),
		},
	}

	// cxdb expects context metadata on the first turn.
	if isOrphan {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    t.orphanLabels,
			ClientTag: t.clientTag,
		}
	}
	return item, nil
}

// title renders "[level] Type: value" for faults and "[level] message"
// otherwise, capped at 100 bytes.
func title(event *bugwatch.Event) string {
	const maxMsgLen = 80
	const maxTitleLen = 100

	var s string
	if event.Exception != nil {
		s = event.Exception.Type
		if msg := event.Exception.Value; msg != "" {
			if len(msg) > maxMsgLen {
				msg = msg[:maxMsgLen] + "..."
			}
			s += ": " + msg
		}
	} else {
		s = event.Message
	}

	s = "[" + string(event.Level) + "] " + s
	if len(s) > maxTitleLen {
		s = s[:maxTitleLen-3] + "..."
	}
	return s
}

// Flush is a no-op for the cxdb transport (writes are synchronous).
func (t *Transport) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for the cxdb transport.
func (t *Transport) Close() error {
	return nil
}
