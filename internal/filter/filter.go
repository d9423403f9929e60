package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/sugawarayuuta/sonnet"

	"github.com/rzbill/fmq/pkg/fmq"
)

// Filter wraps a compiled CEL program and evaluates it against queue
// messages. An empty expression compiles to a filter that matches
// everything.
//
// Expressions see these variables:
//
//	id, msg_type, msg_subtype, size, store_time_ms, now_ms  int
//	text                                                    string (payload as text)
//	json                                                    dyn (payload parsed as JSON, or null)
type Filter struct {
	expr    string
	prog    cel.Program
	enabled bool
	now     func() time.Time
}

var _ fmq.Filter = (*Filter)(nil)

// Compile parses and type-checks expr. The expression must yield a bool.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{now: time.Now}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.IntType),
		cel.Variable("msg_type", cel.IntType),
		cel.Variable("msg_subtype", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("store_time_ms", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("filter: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter: expression %q yields %s, want bool", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return &Filter{expr: expr, prog: prog, enabled: true, now: time.Now}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the expression against m. Evaluation errors, such as a
// missing JSON field, count as no match.
func (f *Filter) Match(m fmq.Message) bool {
	if !f.enabled {
		return true
	}
	var doc any
	if err := sonnet.Unmarshal(m.Payload, &doc); err != nil {
		doc = nil
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":            m.ID,
		"msg_type":      int64(m.Type),
		"msg_subtype":   int64(m.Subtype),
		"size":          int64(len(m.Payload)),
		"store_time_ms": m.StoreTime.UnixMilli(),
		"text":          string(m.Payload),
		"json":          doc,
		"now_ms":        f.now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
