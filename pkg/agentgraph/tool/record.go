package tool

import (
	"encoding/json"
	"strings"
	"time"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

const failurePrefix = "error: "

// Record is the outcome of one tool call: name, arguments and either the
// output or the failure. Records are derived from history, so they survive
// checkpoints without separate bookkeeping.
type Record struct {
	CallID   string          `json:"call_id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args,omitempty"`
	Output   string          `json:"output,omitempty"`
	Failed   bool            `json:"failed,omitempty"`
	Rejected bool            `json:"rejected,omitempty"` // failed validation, never invoked
	Error    string          `json:"error,omitempty"`
	Class    string          `json:"class,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`

	// Err is the cancellation error, if the call was interrupted.
	Err error `json:"-"`
}

func (r *Record) fail(err error) {
	r.Failed = true
	r.Error = err.Error()
	r.Class = agerrors.ClassOf(err).String()
}

func (r *Record) reject(err error) {
	r.fail(err)
	r.Rejected = true
	r.Class = agerrors.Recoverable.String()
}

// Call returns the tool call this record answers.
func (r Record) Call() llm.ToolCall {
	return llm.ToolCall{ID: r.CallID, Name: r.Name, Arguments: r.Args}
}

// Message returns the tool-result message reporting this record to the model.
func (r Record) Message() llm.Message {
	content := r.Output
	if r.Failed {
		content = failurePrefix + r.Error
	}
	return llm.ToolResultMessage(r.Call(), content, r.Failed)
}

// RecordsFrom derives the executed tool calls from history, in call order.
// A call counts as executed once a tool message answers it; failed results
// are marked Failed. Unanswered calls are omitted.
func RecordsFrom(history []llm.Message) []Record {
	return RecordsSince(history, 0)
}

// RecordsSince is RecordsFrom restricted to calls whose result message sits
// at index from or later.
func RecordsSince(history []llm.Message, from int) []Record {
	var (
		calls   []llm.ToolCall
		results = make(map[string]llm.Message)
	)
	for i, m := range history {
		switch {
		case m.Role == llm.RoleAssistant && m.HasToolCalls():
			calls = append(calls, m.ToolCalls...)
		case m.Role == llm.RoleTool && m.ToolCallID != "" && i >= from:
			results[m.ToolCallID] = m
		}
	}

	records := make([]Record, 0, len(calls))
	for _, c := range calls {
		res, ok := results[c.ID]
		if !ok {
			continue
		}
		rec := Record{CallID: c.ID, Name: c.Name, Args: c.Arguments, Output: res.Content}
		if res.Failed {
			rec.Failed = true
			rec.Output = ""
			rec.Error = strings.TrimPrefix(res.Content, failurePrefix)
		}
		records = append(records, rec)
	}
	return records
}
