// enrichment_store.go keeps what the hooks learned about each run so that an
// error surfacing at the runner boundary can be tagged with it.

package agentssdk

import "sync"

// Enrichment is the per-run state collected by HookAdapter.
type Enrichment struct {
	AgentName   string // active agent
	Model       string // model of the latest LLM request
	ToolName    string // tool of the latest tool call
	ToolCallID  string
	Operation   string // "tool", "llm" or "handoff"
	OperationID string

	// LLM is a metadata snapshot of the latest LLM call, if any.
	LLM *LLMOperation
}

// Tags renders the non-empty enrichment fields as event tags.
func (e Enrichment) Tags() map[string]string {
	tags := make(map[string]string, 6)
	for _, kv := range [...][2]string{
		{"agent.name", e.AgentName},
		{"llm.model", e.Model},
		{"tool.name", e.ToolName},
		{"tool.call_id", e.ToolCallID},
		{"operation", e.Operation},
		{"operation.id", e.OperationID},
	} {
		if kv[1] != "" {
			tags[kv[0]] = kv[1]
		}
	}
	return tags
}

// EnrichmentStore holds enrichment keyed by run ID. Implementations must be
// safe for concurrent use.
type EnrichmentStore interface {
	// Update runs fn on the run's enrichment, creating an empty one first if
	// needed. fn runs under the store's lock and must not re-enter the store.
	Update(runID string, fn func(e *Enrichment))

	// Get returns a deep copy of the run's enrichment.
	Get(runID string) (Enrichment, bool)

	// Delete forgets the run.
	Delete(runID string)
}

type memoryStore struct {
	mu   sync.RWMutex
	runs map[string]Enrichment
}

// NewEnrichmentStore returns an in-memory EnrichmentStore.
func NewEnrichmentStore() EnrichmentStore {
	return &memoryStore{runs: map[string]Enrichment{}}
}

func (s *memoryStore) Update(runID string, fn func(e *Enrichment)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.runs[runID]
	fn(&e)
	s.runs[runID] = e
}

func (s *memoryStore) Get(runID string) (Enrichment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.runs[runID]
	if !ok {
		return Enrichment{}, false
	}
	if e.LLM != nil {
		llm := e.LLM.clone()
		e.LLM = &llm
	}
	return e, true
}

func (s *memoryStore) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}
