package agentgraph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// executionPoint is where a rollback asked the interpreter to continue: the
// node path from the root strategy and the node's JSON-encoded input.
type executionPoint struct {
	path  []string
	input json.RawMessage
}

// resolveJump locates the pending jump relative to the current level. It
// returns the node to continue at with its decoded input, the subgraph node
// to enter when the target is nested deeper, or errUnwind when the target
// lies outside this level.
func resolveJump(ctx *executionContext, g *graph, level []string) (*node, any, error) {
	p := ctx.peekPending()
	if len(p.path) <= len(level) || !hasPrefix(p.path, level) {
		if len(level) == 0 {
			ctx.takePending()
			return nil, nil, invalidJump(p)
		}
		return nil, nil, errUnwind
	}

	name := p.path[len(level)]
	n, ok := g.nodes[name]
	if !ok {
		ctx.takePending()
		return nil, nil, invalidJump(p)
	}

	if len(p.path) > len(level)+1 {
		if n.kind != kindSubgraph {
			ctx.takePending()
			return nil, nil, invalidJump(p)
		}
		// exec of the subgraph resolves the rest of the path.
		return n, nil, nil
	}

	ctx.takePending()
	v, err := decodeInput(p.input, n.inType)
	if err != nil {
		return nil, nil, &CheckpointError{NodeID: name, Op: "decode", Err: err}
	}
	ctx.Logger().Debug("jumping to restored node", "target", strings.Join(p.path, "/"))
	return n, v, nil
}

func invalidJump(p *executionPoint) error {
	target := strings.Join(p.path, "/")
	return &CheckpointError{
		NodeID: target,
		Op:     "jump",
		Err:    fmt.Errorf("%w: %s", ErrInvalidJumpTarget, target),
	}
}

// decodeInput restores a JSON-encoded node input as a value of type t.
func decodeInput(raw json.RawMessage, t reflect.Type) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return zeroOf(t), nil
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

