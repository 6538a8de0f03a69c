package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// deniedTokens are substrings whose presence anywhere in a code string is
// rejected outright by the static pre-check (spec §4.8), regardless of
// whether the interpreter would otherwise understand them.
var deniedTokens = []string{"open(", "eval(", "exec(", "__import__("}

// precheck returns an error naming which rejection rule fired, so ExecResult.ErrorMessage
// can name the offending construct per spec §8 scenario 6 ("an error message
// naming \"Import statements\"").
func precheck(code string) error {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "import\t") ||
			trimmed == "import" || strings.HasPrefix(trimmed, "from ") {
			return fmt.Errorf("Import statements are not permitted in sandboxed code")
		}
	}
	for _, tok := range deniedTokens {
		if strings.Contains(code, tok) {
			return fmt.Errorf("use of %q is not permitted in sandboxed code", strings.TrimSuffix(tok, "("))
		}
	}
	return nil
}

// ExecResult is the outcome of one Sandbox.Execute call (spec §4.8).
type ExecResult struct {
	Success      bool
	ErrorType    string
	ErrorMessage string
	Stdout       string
	Snapshot     Snapshot
}

// Sandbox executes code strings against a persistent Namespace. Failures
// (syntactic, runtime, or pre-check) are captured in ExecResult and never
// panic; partial side effects from a failing statement remain in the
// namespace, matching spec §4.8 ("do not corrupt the namespace beyond
// whatever partial side effects already occurred").
type Sandbox struct {
	ns     *Namespace
	stdout strings.Builder
}

// NewSandbox constructs a Sandbox over ns.
func NewSandbox(ns *Namespace) *Sandbox {
	return &Sandbox{ns: ns}
}

// Namespace returns the sandbox's underlying namespace.
func (s *Sandbox) Namespace() *Namespace { return s.ns }

// Execute runs code against the namespace, returning a result that is never
// fatal to the caller: all failures are captured, not propagated as a Go
// error, per spec §4.8 and §4.9 ("sandbox failure... never fatal to the
// run").
func (s *Sandbox) Execute(code string) ExecResult {
	s.stdout.Reset()

	if err := precheck(code); err != nil {
		return ExecResult{Success: false, ErrorType: "PrecheckError", ErrorMessage: err.Error(), Snapshot: s.ns.Snapshot()}
	}

	wrapped := "package sandbox\nfunc __run__() {\n" + code + "\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "sandbox.go", wrapped, 0)
	if err != nil {
		return ExecResult{Success: false, ErrorType: "SyntaxError", ErrorMessage: err.Error(), Snapshot: s.ns.Snapshot()}
	}

	var body *ast.BlockStmt
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == "__run__" {
			body = fn.Body
		}
	}
	if body == nil {
		return ExecResult{Success: false, ErrorType: "SyntaxError", ErrorMessage: "no statements found", Snapshot: s.ns.Snapshot()}
	}

	ev := &evaluator{ns: s.ns, out: &s.stdout}
	if err := ev.execStmts(body.List); err != nil {
		return ExecResult{
			Success:      false,
			ErrorType:    errorType(err),
			ErrorMessage: err.Error(),
			Stdout:       s.stdout.String(),
			Snapshot:     s.ns.Snapshot(),
		}
	}
	return ExecResult{Success: true, Stdout: s.stdout.String(), Snapshot: s.ns.Snapshot()}
}

func errorType(err error) string {
	if rt, ok := err.(*runtimeError); ok {
		return rt.kind
	}
	return "RuntimeError"
}

// runtimeError distinguishes evaluator-raised failures (undefined names,
// type mismatches, disallowed calls) from the generic case.
type runtimeError struct {
	kind string
	msg  string
}

func (e *runtimeError) Error() string { return e.msg }

func rerr(kind, format string, args ...any) error {
	return &runtimeError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// evaluator tree-walks the parsed statement list against a Namespace. It
// supports a deliberately small subset of Go syntax: assignment, if/for,
// binary/unary expressions over ints/floats/strings/bools, indexing, and
// calls restricted to whitelisted/injected functions (spec §4.8, §9: "a
// fixed table name -> function-pointer provided at construction").
type evaluator struct {
	ns  *Namespace
	out *strings.Builder
}

func (ev *evaluator) execStmts(stmts []ast.Stmt) error {
	for _, stmt := range stmts {
		if err := ev.execStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) execStmt(stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		return ev.execAssign(s)
	case *ast.ExprStmt:
		_, err := ev.eval(s.X)
		return err
	case *ast.IfStmt:
		return ev.execIf(s)
	case *ast.ForStmt:
		return ev.execFor(s)
	case *ast.RangeStmt:
		return ev.execRange(s)
	case *ast.IncDecStmt:
		return ev.execIncDec(s)
	case *ast.BlockStmt:
		return ev.execStmts(s.List)
	default:
		return rerr("SyntaxError", "unsupported statement %T", stmt)
	}
}

func (ev *evaluator) execAssign(s *ast.AssignStmt) error {
	if len(s.Lhs) != len(s.Rhs) {
		return rerr("SyntaxError", "assignment count mismatch")
	}
	values := make([]any, len(s.Rhs))
	for i, rhs := range s.Rhs {
		v, err := ev.eval(rhs)
		if err != nil {
			return err
		}
		if s.Tok != token.DEFINE && s.Tok != token.ASSIGN {
			cur, err := ev.eval(s.Lhs[i])
			if err != nil {
				return err
			}
			v, err = applyCompoundOp(s.Tok, cur, v)
			if err != nil {
				return err
			}
		}
		values[i] = v
	}
	for i, lhs := range s.Lhs {
		ident, ok := lhs.(*ast.Ident)
		if !ok {
			return rerr("SyntaxError", "unsupported assignment target %T", lhs)
		}
		if ident.Name == "_" {
			continue
		}
		ev.ns.Set(ident.Name, values[i])
	}
	return nil
}

func applyCompoundOp(tok token.Token, cur, v any) (any, error) {
	op := map[token.Token]token.Token{
		token.ADD_ASSIGN: token.ADD, token.SUB_ASSIGN: token.SUB,
		token.MUL_ASSIGN: token.MUL, token.QUO_ASSIGN: token.QUO,
		token.REM_ASSIGN: token.REM,
	}[tok]
	if op == 0 {
		return nil, rerr("SyntaxError", "unsupported assignment operator %v", tok)
	}
	return evalBinary(op, cur, v)
}

func (ev *evaluator) execIncDec(s *ast.IncDecStmt) error {
	ident, ok := s.X.(*ast.Ident)
	if !ok {
		return rerr("SyntaxError", "unsupported inc/dec target")
	}
	cur, err := ev.eval(s.X)
	if err != nil {
		return err
	}
	delta := int64(1)
	op := token.ADD
	if s.Tok == token.DEC {
		op = token.SUB
	}
	next, err := evalBinary(op, cur, delta)
	if err != nil {
		return err
	}
	ev.ns.Set(ident.Name, next)
	return nil
}

func (ev *evaluator) execIf(s *ast.IfStmt) error {
	if s.Init != nil {
		if err := ev.execStmt(s.Init); err != nil {
			return err
		}
	}
	cond, err := ev.eval(s.Cond)
	if err != nil {
		return err
	}
	b, ok := cond.(bool)
	if !ok {
		return rerr("TypeError", "if condition must be boolean, got %T", cond)
	}
	if b {
		return ev.execStmts(s.Body.List)
	}
	if s.Else != nil {
		return ev.execStmt(s.Else)
	}
	return nil
}

const maxLoopIterations = 1_000_000

func (ev *evaluator) execFor(s *ast.ForStmt) error {
	if s.Init != nil {
		if err := ev.execStmt(s.Init); err != nil {
			return err
		}
	}
	for i := 0; ; i++ {
		if i > maxLoopIterations {
			return rerr("RuntimeError", "loop exceeded %d iterations", maxLoopIterations)
		}
		if s.Cond != nil {
			cond, err := ev.eval(s.Cond)
			if err != nil {
				return err
			}
			b, ok := cond.(bool)
			if !ok {
				return rerr("TypeError", "for condition must be boolean, got %T", cond)
			}
			if !b {
				return nil
			}
		}
		if err := ev.execStmts(s.Body.List); err != nil {
			return err
		}
		if s.Post != nil {
			if err := ev.execStmt(s.Post); err != nil {
				return err
			}
		}
		if s.Cond == nil && s.Post == nil && i > maxLoopIterations {
			return rerr("RuntimeError", "infinite loop detected")
		}
	}
}

func (ev *evaluator) execRange(s *ast.RangeStmt) error {
	v, err := ev.eval(s.X)
	if err != nil {
		return err
	}
	list, ok := v.([]any)
	if !ok {
		return rerr("TypeError", "range target must be a list, got %T", v)
	}
	for i, item := range list {
		if s.Key != nil {
			if ident, ok := s.Key.(*ast.Ident); ok && ident.Name != "_" {
				ev.ns.Set(ident.Name, int64(i))
			}
		}
		if s.Value != nil {
			if ident, ok := s.Value.(*ast.Ident); ok && ident.Name != "_" {
				ev.ns.Set(ident.Name, item)
			}
		}
		if err := ev.execStmts(s.Body.List); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) eval(expr ast.Expr) (any, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return evalBasicLit(e)
	case *ast.Ident:
		switch e.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		}
		if v, ok := ev.ns.Get(e.Name); ok {
			return v, nil
		}
		return nil, rerr("NameError", "name %q is not defined", e.Name)
	case *ast.BinaryExpr:
		left, err := ev.eval(e.X)
		if err != nil {
			return nil, err
		}
		if e.Op == token.LAND {
			lb, _ := left.(bool)
			if !lb {
				return false, nil
			}
			right, err := ev.eval(e.Y)
			return right, err
		}
		if e.Op == token.LOR {
			lb, _ := left.(bool)
			if lb {
				return true, nil
			}
			right, err := ev.eval(e.Y)
			return right, err
		}
		right, err := ev.eval(e.Y)
		if err != nil {
			return nil, err
		}
		return evalBinary(e.Op, left, right)
	case *ast.UnaryExpr:
		v, err := ev.eval(e.X)
		if err != nil {
			return nil, err
		}
		return evalUnary(e.Op, v)
	case *ast.ParenExpr:
		return ev.eval(e.X)
	case *ast.CallExpr:
		return ev.evalCall(e)
	case *ast.IndexExpr:
		return ev.evalIndex(e)
	default:
		return nil, rerr("SyntaxError", "unsupported expression %T", expr)
	}
}

func (ev *evaluator) evalCall(e *ast.CallExpr) (any, error) {
	ident, ok := e.Fun.(*ast.Ident)
	if !ok {
		return nil, rerr("SyntaxError", "unsupported call target %T", e.Fun)
	}
	fn, ok := ev.ns.Func(ident.Name)
	if !ok {
		return nil, rerr("NameError", "function %q is not defined or not whitelisted", ident.Name)
	}
	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	out, err := fn(args)
	if err != nil {
		return nil, rerr("RuntimeError", "%s: %s", ident.Name, err.Error())
	}
	if ident.Name == "print" {
		for i, a := range args {
			if i > 0 {
				ev.out.WriteString(" ")
			}
			ev.out.WriteString(reprOf(a))
		}
		ev.out.WriteString("\n")
	}
	return out, nil
}

func (ev *evaluator) evalIndex(e *ast.IndexExpr) (any, error) {
	container, err := ev.eval(e.X)
	if err != nil {
		return nil, err
	}
	idx, err := ev.eval(e.Index)
	if err != nil {
		return nil, err
	}
	switch c := container.(type) {
	case []any:
		i, ok := idx.(int64)
		if !ok || i < 0 || int(i) >= len(c) {
			return nil, rerr("IndexError", "list index out of range")
		}
		return c[i], nil
	case map[string]any:
		k, ok := idx.(string)
		if !ok {
			return nil, rerr("TypeError", "map key must be a string")
		}
		return c[k], nil
	case string:
		i, ok := idx.(int64)
		if !ok || i < 0 || int(i) >= len(c) {
			return nil, rerr("IndexError", "string index out of range")
		}
		return string(c[i]), nil
	default:
		return nil, rerr("TypeError", "cannot index %T", container)
	}
}

func evalBasicLit(e *ast.BasicLit) (any, error) {
	switch e.Kind {
	case token.INT:
		n, err := strconv.ParseInt(e.Value, 0, 64)
		if err != nil {
			return nil, rerr("SyntaxError", "invalid int literal %q", e.Value)
		}
		return n, nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return nil, rerr("SyntaxError", "invalid float literal %q", e.Value)
		}
		return f, nil
	case token.STRING:
		s, err := strconv.Unquote(e.Value)
		if err != nil {
			return nil, rerr("SyntaxError", "invalid string literal %q", e.Value)
		}
		return s, nil
	default:
		return nil, rerr("SyntaxError", "unsupported literal kind %v", e.Kind)
	}
}

func evalUnary(op token.Token, v any) (any, error) {
	switch op {
	case token.SUB:
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, rerr("TypeError", "unary - unsupported for %T", v)
	case token.NOT:
		b, ok := v.(bool)
		if !ok {
			return nil, rerr("TypeError", "unary ! requires boolean, got %T", v)
		}
		return !b, nil
	default:
		return nil, rerr("SyntaxError", "unsupported unary operator %v", op)
	}
}

func evalBinary(op token.Token, left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		if !ok {
			return nil, rerr("TypeError", "cannot combine string with %T", right)
		}
		switch op {
		case token.ADD:
			return ls + rs, nil
		case token.EQL:
			return ls == rs, nil
		case token.NEQ:
			return ls != rs, nil
		case token.LSS:
			return ls < rs, nil
		case token.LEQ:
			return ls <= rs, nil
		case token.GTR:
			return ls > rs, nil
		case token.GEQ:
			return ls >= rs, nil
		default:
			return nil, rerr("TypeError", "unsupported string operator %v", op)
		}
	}

	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		if !ok {
			return nil, rerr("TypeError", "cannot combine bool with %T", right)
		}
		switch op {
		case token.EQL:
			return lb == rb, nil
		case token.NEQ:
			return lb != rb, nil
		default:
			return nil, rerr("TypeError", "unsupported bool operator %v", op)
		}
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		return nil, rerr("TypeError", "unsupported operand types %T, %T", left, right)
	}
	_, leftIsInt := left.(int64)
	_, rightIsInt := right.(int64)
	bothInt := leftIsInt && rightIsInt

	switch op {
	case token.ADD:
		return numResult(lf+rf, bothInt), nil
	case token.SUB:
		return numResult(lf-rf, bothInt), nil
	case token.MUL:
		return numResult(lf*rf, bothInt), nil
	case token.QUO:
		if rf == 0 {
			return nil, rerr("ZeroDivisionError", "division by zero")
		}
		if bothInt {
			return left.(int64) / right.(int64), nil
		}
		return lf / rf, nil
	case token.REM:
		li, lok := left.(int64)
		ri, rok := right.(int64)
		if !lok || !rok {
			return nil, rerr("TypeError", "%% requires integer operands")
		}
		if ri == 0 {
			return nil, rerr("ZeroDivisionError", "division by zero")
		}
		return li % ri, nil
	case token.EQL:
		return lf == rf, nil
	case token.NEQ:
		return lf != rf, nil
	case token.LSS:
		return lf < rf, nil
	case token.LEQ:
		return lf <= rf, nil
	case token.GTR:
		return lf > rf, nil
	case token.GEQ:
		return lf >= rf, nil
	default:
		return nil, rerr("TypeError", "unsupported numeric operator %v", op)
	}
}

func numResult(f float64, asInt bool) any {
	if asInt {
		return int64(f)
	}
	return f
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
