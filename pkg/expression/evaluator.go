// Package expression evaluates the small boolean language used by condition
// stages: comparisons joined with &&, || and !, over values taken from a run's
// context map.
//
//	risk_level >= 3 && (region == 'east' || !approved)
//
// Source text is parsed with the expr-lang parser and the resulting AST is
// walked with this package's own semantics: identifiers missing from the
// context evaluate to their own name, numbers compare with an epsilon and
// anything non-numeric compares as text.
package expression

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/JongoDB/ems-cop-sub001/pkg/utils"
)

// Epsilon is the tolerance used by numeric == and !=
const Epsilon = 0.0001

// Evaluator parses and evaluates condition expressions.
// Parsed trees are cached per expression string; an Evaluator is safe for concurrent use.
type Evaluator struct {
	cache map[string]ast.Node
	mu    sync.RWMutex
}

// NewEvaluator creates a new expression evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]ast.Node),
	}
}

// Evaluate parses (if needed) and evaluates expression against ctx, returning its truthiness
func (e *Evaluator) Evaluate(expression string, ctx map[string]interface{}) (bool, error) {
	node, err := e.getTree(expression)
	if err != nil {
		return false, err
	}

	value, err := eval(node, ctx)
	if err != nil {
		return false, err
	}
	return Truthy(value), nil
}

// Validate reports whether expression is well-formed without evaluating it
func (e *Evaluator) Validate(expression string) error {
	_, err := e.getTree(expression)
	return err
}

func (e *Evaluator) getTree(expression string) (ast.Node, error) {
	e.mu.RLock()
	if node, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return node, nil
	}
	e.mu.RUnlock()

	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("empty expression")
	}

	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression: %w", err)
	}
	if err := check(tree.Node); err != nil {
		return nil, err
	}
	node := rebindNot(tree.Node)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[expression] = node
	return node, nil
}

// rebindNot lowers ! below comparisons. expr-lang binds !x == y as (!x) == y;
// here ! negates the whole comparison, !(x == y).
func rebindNot(node ast.Node) ast.Node {
	switch n := node.(type) {
	case *ast.BinaryNode:
		left, right := rebindNot(n.Left), rebindNot(n.Right)
		if isComparison(n.Operator) {
			if not, ok := left.(*ast.UnaryNode); ok && isNot(not.Operator) {
				return &ast.UnaryNode{
					Operator: "!",
					Node:     rebindNot(&ast.BinaryNode{Operator: n.Operator, Left: not.Node, Right: right}),
				}
			}
		}
		return &ast.BinaryNode{Operator: n.Operator, Left: left, Right: right}
	case *ast.UnaryNode:
		return &ast.UnaryNode{Operator: n.Operator, Node: rebindNot(n.Node)}
	}
	return node
}

// check rejects syntax the expr-lang parser accepts but this language does not
func check(node ast.Node) error {
	switch n := node.(type) {
	case *ast.BinaryNode:
		if !isLogical(n.Operator) && !isComparison(n.Operator) {
			return fmt.Errorf("unsupported operator: %s", n.Operator)
		}
		if err := check(n.Left); err != nil {
			return err
		}
		return check(n.Right)
	case *ast.UnaryNode:
		switch n.Operator {
		case "!", "not":
			return check(n.Node)
		case "-", "+":
			switch n.Node.(type) {
			case *ast.IntegerNode, *ast.FloatNode:
				return nil
			}
			return fmt.Errorf("unary %s is only allowed on numeric literals", n.Operator)
		}
		return fmt.Errorf("unsupported operator: %s", n.Operator)
	case *ast.MemberNode:
		if _, ok := memberPath(n); !ok {
			return fmt.Errorf("unsupported member access")
		}
		return nil
	case *ast.IdentifierNode, *ast.IntegerNode, *ast.FloatNode, *ast.StringNode,
		*ast.BoolNode, *ast.NilNode:
		return nil
	default:
		return fmt.Errorf("unsupported expression element: %T", node)
	}
}

func eval(node ast.Node, ctx map[string]interface{}) (interface{}, error) {
	switch n := node.(type) {
	case *ast.BinaryNode:
		return evalBinary(n, ctx)
	case *ast.UnaryNode:
		switch n.Operator {
		case "!", "not":
			v, err := eval(n.Node, ctx)
			if err != nil {
				return nil, err
			}
			return !Truthy(v), nil
		case "-":
			v, err := eval(n.Node, ctx)
			if err != nil {
				return nil, err
			}
			f, _ := utils.ToFloat(v)
			return -f, nil
		case "+":
			return eval(n.Node, ctx)
		}
		return nil, fmt.Errorf("unsupported operator: %s", n.Operator)
	case *ast.IdentifierNode:
		return lookup(ctx, n.Value), nil
	case *ast.MemberNode:
		path, ok := memberPath(n)
		if !ok {
			return nil, fmt.Errorf("unsupported member access")
		}
		return lookup(ctx, path), nil
	case *ast.IntegerNode:
		return float64(n.Value), nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.StringNode:
		return n.Value, nil
	case *ast.BoolNode:
		return n.Value, nil
	case *ast.NilNode:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported expression element: %T", node)
	}
}

func evalBinary(n *ast.BinaryNode, ctx map[string]interface{}) (interface{}, error) {
	left, err := eval(n.Left, ctx)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "&&", "and":
		if !Truthy(left) {
			return false, nil
		}
		right, err := eval(n.Right, ctx)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case "||", "or":
		if Truthy(left) {
			return true, nil
		}
		right, err := eval(n.Right, ctx)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := eval(n.Right, ctx)
	if err != nil {
		return nil, err
	}
	return Compare(left, n.Operator, right)
}

// Compare applies a comparison operator. Two numeric operands compare as
// float64 (equality within Epsilon); otherwise both sides compare as text.
func Compare(left interface{}, op string, right interface{}) (bool, error) {
	lf, lok := utils.ToFloat(left)
	rf, rok := utils.ToFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return math.Abs(lf-rf) < Epsilon, nil
		case "!=":
			return math.Abs(lf-rf) >= Epsilon, nil
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		}
		return false, fmt.Errorf("unsupported operator: %s", op)
	}

	ls := utils.ToText(left)
	rs := utils.ToText(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case ">":
		return ls > rs, nil
	case "<":
		return ls < rs, nil
	case ">=":
		return ls >= rs, nil
	case "<=":
		return ls <= rs, nil
	}
	return false, fmt.Errorf("unsupported operator: %s", op)
}

// Truthy reports the truthiness of a bare value
func Truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	}
	if f, ok := utils.ToFloat(v); ok {
		return f != 0
	}
	return true
}

// lookup resolves an identifier or dotted path. A name absent from the
// context evaluates to the name itself.
func lookup(ctx map[string]interface{}, name string) interface{} {
	if v, ok := ctx[name]; ok {
		return v
	}
	if !strings.Contains(name, ".") {
		return name
	}

	var current interface{} = ctx
	for _, part := range strings.Split(name, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return name
		}
		current, ok = m[part]
		if !ok {
			return name
		}
	}
	return current
}

func memberPath(n *ast.MemberNode) (string, bool) {
	if n.Optional || n.Method {
		return "", false
	}
	prop, ok := n.Property.(*ast.StringNode)
	if !ok {
		return "", false
	}
	switch base := n.Node.(type) {
	case *ast.IdentifierNode:
		return base.Value + "." + prop.Value, true
	case *ast.MemberNode:
		prefix, ok := memberPath(base)
		if !ok {
			return "", false
		}
		return prefix + "." + prop.Value, true
	}
	return "", false
}

func isLogical(op string) bool {
	switch op {
	case "&&", "||", "and", "or":
		return true
	}
	return false
}

func isNot(op string) bool {
	return op == "!" || op == "not"
}

func isComparison(op string) bool {
	switch op {
	case "==", "!=", ">", "<", ">=", "<=":
		return true
	}
	return false
}
