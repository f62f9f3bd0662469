package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Filter evaluates a CEL expression against each event. Expressions see
// the variables pallet, event_name, block_number, event_index, and
// event_data, and must produce a boolean.
//
// Example: `pallet == "deviceRegistry" && event_name != "Heartbeat"`.
type Filter struct {
	expr string
	prog cel.Program
}

// CompileFilter compiles expr into a reusable filter. An empty expression
// returns a nil filter, which accepts everything.
func CompileFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("pallet", cel.StringType),
		cel.Variable("event_name", cel.StringType),
		cel.Variable("block_number", cel.IntType),
		cel.Variable("event_index", cel.IntType),
		cel.Variable("event_data", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("event filter env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("event filter compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("event filter must evaluate to bool, got %s", ast.OutputType())
	}

	prog, err := env.Program(ast,
		cel.CostLimit(100000),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("event filter program: %w", err)
	}

	return &Filter{expr: expr, prog: prog}, nil
}

// Expr returns the source expression.
func (f *Filter) Expr() string { return f.expr }

// Match evaluates the filter against one event.
func (f *Filter) Match(e Event) (bool, error) {
	var data map[string]any
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			// Malformed payloads are still anchorable; only the filter
			// cannot inspect them.
			data = nil
		}
	}
	if data == nil {
		data = map[string]any{}
	}

	val, _, err := f.prog.Eval(map[string]any{
		"pallet":       e.Pallet,
		"event_name":   e.Name,
		"block_number": e.BlockNumber,
		"event_index":  int64(e.EventIndex),
		"event_data":   data,
	})
	if err != nil {
		return false, fmt.Errorf("event filter eval: %w", err)
	}

	keep, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("event filter returned %T, want bool", val.Value())
	}
	return keep, nil
}

// Apply returns the events the filter keeps, preserving order. A nil
// filter keeps everything.
func (f *Filter) Apply(evts []Event) ([]Event, error) {
	if f == nil {
		return evts, nil
	}
	kept := evts[:0:0]
	for _, e := range evts {
		ok, err := f.Match(e)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, e)
		}
	}
	return kept, nil
}
