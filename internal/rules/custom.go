package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidRule marks a malformed rule configuration, such as a CEL
// expression that does not compile or does not return a boolean.
var ErrInvalidRule = errors.New("invalid rule configuration")

// CustomEvaluator compiles and runs CEL expressions for rule codes
// without a registered predicate. Expressions see the rule context as
// CEL variables:
//
//	features  map<string, dyn>   stored feature values
//	flags     map<string, bool>  raw risk-flag codes
//	signals   map<string, bool>  detected fraud patterns by type
//	company   map<string, dyn>   window stats (company scope only)
//	config    map<string, dyn>   the rule's own config
//
// and must return a boolean.
type CustomEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCustomEvaluator creates the CEL environment for rule expressions.
func NewCustomEvaluator() (*CustomEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("flags", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("signals", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("company", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("config", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate compiles a rule's expression without caching it, for use by
// the rule-management surface before a rule is accepted.
func (e *CustomEvaluator) Validate(rule *domain.RiskRule) error {
	if rule.Expression == "" {
		return nil
	}
	_, err := e.compile(rule.Expression)
	return err
}

// Evaluate runs the rule's expression against the context.
func (e *CustomEvaluator) Evaluate(ctx *Context, rule *domain.RiskRule) (bool, error) {
	prog, err := e.program(rule.Expression)
	if err != nil {
		return false, err
	}

	signals := make(map[string]bool, len(ctx.Signals))
	for t, s := range ctx.Signals {
		signals[string(t)] = s.Pattern.Detected
	}

	company := map[string]any{}
	if ctx.Company != nil {
		company = map[string]any{
			"window_days":               ctx.Company.WindowDays,
			"high_severity_docs":        ctx.Company.HighSeverityDocs,
			"invoice_count":             ctx.Company.InvoiceCount,
			"high_risk_invoices":        ctx.Company.HighRiskInvoices,
			"high_risk_invoice_ratio":   ctx.Company.HighRiskInvoiceRatio(),
			"duplicate_invoice_numbers": ctx.Company.DuplicateInvoiceNumbers,
			"fraud_pattern_hits":        ctx.Company.FraudPatternHits,
		}
	}

	config := rule.Config
	if config == nil {
		config = map[string]any{}
	}
	features := ctx.Features
	if features == nil {
		features = map[string]any{}
	}
	flags := ctx.RiskFlags
	if flags == nil {
		flags = map[string]bool{}
	}

	out, _, err := prog.Eval(map[string]any{
		"features": features,
		"flags":    flags,
		"signals":  signals,
		"company":  company,
		"config":   config,
	})
	if err != nil {
		return false, fmt.Errorf("rule %s: %w", rule.Code, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: rule %s expression did not return bool", ErrInvalidRule, rule.Code)
	}
	return bool(b), nil
}

// program returns a cached compiled program for the expression.
func (e *CustomEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := e.compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expr] = prog
	e.mu.Unlock()
	return prog, nil
}

func (e *CustomEvaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidRule, ast.OutputType())
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return prog, nil
}
