package checkpoint

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

// FormatVersion is the current checkpoint format version.
// Increment when making breaking changes to the checkpoint structure.
const FormatVersion = 1

// Checkpoint is a persisted snapshot of an agent run: the conversation
// history, the node to resume at and the input pending for that node.
// Checkpoints are immutable once stored; stores copy on save and on read.
type Checkpoint struct {
	FormatVersion int `json:"format_version"`

	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
	RunID   string `json:"run_id"`

	// NodePath locates the node to resume at, from the root strategy down
	// through enclosing subgraph nodes. The last element is the node name.
	NodePath []string        `json:"node_path"`
	History  []llm.Message   `json:"history"`
	Input    json.RawMessage `json:"input,omitempty"`

	// Version is monotonic per agent.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	// Auto marks checkpoints created by continuous checkpointing.
	Auto bool `json:"auto,omitempty"`
}

// New creates a checkpoint with a fresh ID. History is copied.
func New(agentID, runID string, nodePath []string, history []llm.Message, input json.RawMessage) *Checkpoint {
	return &Checkpoint{
		FormatVersion: FormatVersion,
		ID:            uuid.New().String(),
		AgentID:       agentID,
		RunID:         runID,
		NodePath:      slices.Clone(nodePath),
		History:       llm.CloneMessages(history),
		Input:         slices.Clone(input),
		CreatedAt:     time.Now().UTC(),
	}
}

// NodeID returns the name of the node the checkpoint resumes at.
func (c *Checkpoint) NodeID() string {
	if len(c.NodePath) == 0 {
		return ""
	}
	return c.NodePath[len(c.NodePath)-1]
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.NodePath = slices.Clone(c.NodePath)
	cp.History = llm.CloneMessages(c.History)
	cp.Input = slices.Clone(c.Input)
	return &cp
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
