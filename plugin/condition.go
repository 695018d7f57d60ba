package plugin

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Condition is a compiled activation predicate evaluated against the
// request before a plugin runs. Conditions are CEL expressions over:
//
//   - principal (string): the principal's canonical name
//   - idp_id (string): the identity provider ID
//   - rp_id (string): the relying party ID
//   - session (map<string, list<string>>): text values of session attributes
//
// Example expressions:
//
//	rp_id == "https://sp.example.org"
//	principal != "" && rp_id.startsWith("https://")
//	"affiliation" in session && "staff" in session["affiliation"]
type Condition struct {
	expr string
	prg  cel.Program
}

// NewCondition compiles the given CEL expression into a Condition.
// The expression must evaluate to a boolean.
func NewCondition(expr string) (*Condition, error) {
	if expr == "" {
		return nil, fmt.Errorf("condition expression is empty")
	}

	env, err := cel.NewEnv(
		cel.Variable("principal", cel.StringType),
		cel.Variable("idp_id", cel.StringType),
		cel.Variable("rp_id", cel.StringType),
		cel.Variable("session", cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
	)
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expr, iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("plan condition %q: %w", expr, err)
	}

	return &Condition{expr: expr, prg: prg}, nil
}

// Expr returns the source expression.
func (c *Condition) Expr() string { return c.expr }

// Eval evaluates the condition against the request.
func (c *Condition) Eval(req *Request) (bool, error) {
	session := make(map[string][]string, len(req.Session))
	for id, attr := range req.Session {
		session[id] = attr.TextValues()
	}

	out, _, err := c.prg.Eval(map[string]any{
		"principal": req.Principal,
		"idp_id":    req.IdPID,
		"rp_id":     req.RPID,
		"session":   session,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", c.expr, err)
	}

	active, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q produced non-boolean result", c.expr)
	}
	return active, nil
}
