package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Harshitk-cp/inquest/internal/domain"
)

const (
	defaultMockHypotheses = `{"hypotheses":[{"statement":"A recent change to the service degraded its performance","rationale":"symptoms started without matching infrastructure signals","confidence":0.7,"affected_systems":[]}]}`
	defaultMockVerdict    = `{"expected_outcome_if_hypothesis_true":"the signal would move with the symptom","observed_outcome":"the signal moved with the symptom","disproven":false,"reasoning":"no contradiction found","evidence_quality":"indirect"}`
)

type mockReply struct {
	content string
	err     error
}

// MockClient is a configurable reasoning client for testing.
// Replies are queued per schema name; once a queue drains the default for
// that schema is returned.
type MockClient struct {
	mu sync.Mutex

	DefaultResponses map[string]string
	GenerateError    error
	CostPerCall      float64

	queues map[string][]mockReply

	// Call tracking for assertions
	Calls []domain.ReasoningRequest
}

func NewMockClient() *MockClient {
	return &MockClient{
		DefaultResponses: defaultMockResponses(),
		queues:           make(map[string][]mockReply),
	}
}

func defaultMockResponses() map[string]string {
	return map[string]string{
		SchemaHypothesisBatch:      defaultMockHypotheses,
		SchemaFalsificationVerdict: defaultMockVerdict,
	}
}

// Enqueue adds a reply for the next request with the given schema name.
func (c *MockClient) Enqueue(name, content string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[name] = append(c.queues[name], mockReply{content: content})
	return c
}

// EnqueueJSON marshals v and queues it.
func (c *MockClient) EnqueueJSON(name string, v any) *MockClient {
	data, err := json.Marshal(v)
	if err != nil {
		return c.EnqueueError(name, err)
	}
	return c.Enqueue(name, string(data))
}

func (c *MockClient) EnqueueError(name string, err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[name] = append(c.queues[name], mockReply{err: err})
	return c
}

func (c *MockClient) Generate(ctx context.Context, r domain.ReasoningRequest) (*domain.ReasoningResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, r)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.GenerateError != nil {
		return nil, c.GenerateError
	}

	content, ok := c.DefaultResponses[r.Name]
	if q := c.queues[r.Name]; len(q) > 0 {
		next := q[0]
		c.queues[r.Name] = q[1:]
		if next.err != nil {
			return nil, next.err
		}
		content, ok = next.content, true
	}
	if !ok {
		content = "{}"
	}

	return &domain.ReasoningResponse{
		Content: json.RawMessage(content),
		Model:   ProviderMock,
		Cost:    c.CostPerCall,
	}, nil
}

// CallsFor returns the recorded requests for one schema name.
func (c *MockClient) CallsFor(name string) []domain.ReasoningRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.ReasoningRequest
	for _, r := range c.Calls {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// Reset clears all recorded calls and queued replies and restores defaults.
func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DefaultResponses = defaultMockResponses()
	c.GenerateError = nil
	c.CostPerCall = 0
	c.queues = make(map[string][]mockReply)
	c.Calls = nil
}
