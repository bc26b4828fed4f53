package governor

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// exprEvaluator compiles and caches CEL policy expressions. An intent
// may carry a policy_expression constraint; compiled programs are
// reused across evaluations of the same expression.
type exprEvaluator struct {
	initOnce sync.Once
	initErr  error
	env      *cel.Env

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func newExprEvaluator() *exprEvaluator {
	return &exprEvaluator{prgCache: make(map[string]cel.Program)}
}

func (e *exprEvaluator) init() error {
	e.initOnce.Do(func() {
		e.env, e.initErr = cel.NewEnv(
			cel.Variable("tool", cel.StringType),
			cel.Variable("op", cel.StringType),
			cel.Variable("source", cel.StringType),
			cel.Variable("risk", cel.StringType),
			cel.Variable("tags", cel.ListType(cel.StringType)),
			cel.Variable("params", cel.DynType),
			cel.Variable("hour", cel.IntType),
			cel.Variable("recipient_count", cel.IntType),
		)
	})
	return e.initErr
}

// Allow evaluates expr against the action. A false result or any
// compile/eval failure denies; expressions fail closed.
func (e *exprEvaluator) Allow(expr string, action *contracts.Action, risk contracts.RiskLevel) (bool, error) {
	if err := e.init(); err != nil {
		return false, fmt.Errorf("cel env: %w", err)
	}

	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		if prg, hit = e.prgCache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.prgCache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	params := action.Params
	if params == nil {
		params = map[string]any{}
	}
	tags := action.Tags
	if tags == nil {
		tags = []string{}
	}
	input := map[string]any{
		"tool":            action.Tool,
		"op":              action.Op,
		"source":          string(action.Source),
		"risk":            string(risk),
		"tags":            tags,
		"params":          params,
		"hour":            action.RequestedAt.Hour(),
		"recipient_count": action.RecipientCount(),
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression result is not a bool")
	}
	return allowed, nil
}
