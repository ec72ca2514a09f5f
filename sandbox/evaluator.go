package sandbox

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator runs a validated snippet and returns its result value.
// Anything the snippet prints goes to stdout.
type Evaluator interface {
	Eval(ctx context.Context, code string, stdout io.Writer) (any, error)
}

// DeadlineCapable marks evaluators that honor ctx cancellation mid-run.
// The engine uses a cooperative deadline guard for these; everything else
// gets the watchdog.
type DeadlineCapable interface {
	HonorsDeadline() bool
}

// ExprEvaluator evaluates expression-language snippets in a closed
// environment: no imports, no filesystem, no network. Host capabilities
// are exposed as plain functions in the environment.
type ExprEvaluator struct {
	// hostFuncs are extra capabilities merged into every run's environment.
	hostFuncs map[string]any
}

var _ Evaluator = (*ExprEvaluator)(nil)
var _ DeadlineCapable = (*ExprEvaluator)(nil)

// NewExprEvaluator creates an evaluator. hostFuncs may be nil.
func NewExprEvaluator(hostFuncs map[string]any) *ExprEvaluator {
	return &ExprEvaluator{hostFuncs: hostFuncs}
}

// HonorsDeadline reports that compiled programs check ctx between
// operations, so cancellation does not need a watchdog.
func (e *ExprEvaluator) HonorsDeadline() bool { return true }

// Eval compiles and runs code. Compile failures surface as errors with the
// compiler's position info; print output is captured to stdout.
func (e *ExprEvaluator) Eval(ctx context.Context, code string, stdout io.Writer) (any, error) {
	env := e.buildEnv(ctx, stdout)

	program, err := expr.Compile(code, expr.Env(env), expr.WithContext("ctx"))
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	out, err := vm.Run(program, env)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("run: %w", err)
	}
	return out, nil
}

func (e *ExprEvaluator) buildEnv(ctx context.Context, stdout io.Writer) map[string]any {
	env := map[string]any{
		"ctx": ctx,
		"print": func(args ...any) bool {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = fmt.Sprint(a)
			}
			fmt.Fprintln(stdout, strings.Join(parts, " "))
			return true
		},
		"sprintf": fmt.Sprintf,
		"sqrt":    math.Sqrt,
		"pow":     math.Pow,
		"pi":      math.Pi,
	}
	for name, fn := range e.hostFuncs {
		env[name] = fn
	}
	return env
}
