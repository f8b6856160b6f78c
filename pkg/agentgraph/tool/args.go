package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// DecodeArgs decodes tool arguments into A. Empty arguments decode to the
// zero value. Malformed JSON, as models occasionally produce, is repaired
// before giving up with a *errors.ArgumentError.
func DecodeArgs[A any](raw json.RawMessage) (A, error) {
	var args A
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return args, nil
	}

	err := json.Unmarshal(trimmed, &args)
	if err == nil {
		return args, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(string(trimmed))
	if repairErr != nil {
		return args, &agerrors.ArgumentError{
			Raw:    string(raw),
			Reason: fmt.Sprintf("%v (repair failed: %v)", err, repairErr),
		}
	}

	var retry A
	if err := json.Unmarshal([]byte(repaired), &retry); err != nil {
		return args, &agerrors.ArgumentError{Raw: string(raw), Reason: err.Error()}
	}
	return retry, nil
}

// ResultText renders a JSON tool result as message content: JSON strings
// are unquoted, everything else is kept verbatim.
func ResultText(result json.RawMessage) string {
	var s string
	if err := json.Unmarshal(result, &s); err == nil {
		return s
	}
	return string(result)
}
