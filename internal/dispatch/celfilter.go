package dispatch

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/rzbill/hostlive/internal/event"
)

// celFilter wraps a compiled CEL program. When disabled every event passes.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("entityId", cel.StringType),
		cel.Variable("timestamp_ms", cel.IntType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return celFilter{}, fmt.Errorf("predicate must return bool, got %s", t)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval reports whether ev matches. Evaluation errors count as no match.
func (f celFilter) Eval(ev event.Event) bool {
	if !f.enabled {
		return true
	}
	md := ev.Metadata
	if md == nil {
		md = map[string]any{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":           ev.ID,
		"type":         ev.Type,
		"entityId":     ev.EntityID,
		"timestamp_ms": ev.Timestamp.UnixMilli(),
		"metadata":     md,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Select returns the matching events, preserving order.
func (f celFilter) Select(events []event.Event) []event.Event {
	var out []event.Event
	for _, ev := range events {
		if f.Eval(ev) {
			out = append(out, ev)
		}
	}
	return out
}
