// Package policy maps verification results to service decisions using CEL expressions.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/cadence/internal/domain"
)

// Input holds the variables visible to policy expressions.
type Input struct {
	Confidence float64
	Outcome    domain.Outcome
	History    int
}

// Policy evaluates the verify, accept and adapt expressions.
type Policy struct {
	mu     sync.RWMutex
	env    *cel.Env
	cfg    domain.PolicyConfig
	verify cel.Program
	accept cel.Program
	adapt  cel.Program
}

// New compiles the configured expressions. Empty expressions fall back to defaults.
func New(cfg domain.PolicyConfig) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("outcome", cel.StringType),
		cel.Variable("history", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &Policy{env: env}
	if err := p.Reload(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload recompiles all expressions; on error the previous policy stays active.
func (p *Policy) Reload(cfg domain.PolicyConfig) error {
	def := domain.DefaultPolicyConfig()
	if cfg.Verify == "" {
		cfg.Verify = def.Verify
	}
	if cfg.Accept == "" {
		cfg.Accept = def.Accept
	}
	if cfg.Adapt == "" {
		cfg.Adapt = def.Adapt
	}

	verify, err := p.compile("verify", cfg.Verify)
	if err != nil {
		return err
	}
	accept, err := p.compile("accept", cfg.Accept)
	if err != nil {
		return err
	}
	adapt, err := p.compile("adapt", cfg.Adapt)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.verify, p.accept, p.adapt = verify, accept, adapt
	return nil
}

// Config returns the active expressions.
func (p *Policy) Config() domain.PolicyConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Verified reports whether an authentication attempt passes.
func (p *Policy) Verified(in Input) (bool, error) {
	p.mu.RLock()
	prog := p.verify
	p.mu.RUnlock()
	return p.eval("verify", prog, in)
}

// Accepted reports whether a submitted sample may be enrolled.
func (p *Policy) Accepted(in Input) (bool, error) {
	p.mu.RLock()
	prog := p.accept
	p.mu.RUnlock()
	return p.eval("accept", prog, in)
}

// Adapt reports whether a verified attempt should be added to the history.
func (p *Policy) Adapt(in Input) (bool, error) {
	p.mu.RLock()
	prog := p.adapt
	p.mu.RUnlock()
	return p.eval("adapt", prog, in)
}

func (p *Policy) compile(name, expr string) (cel.Program, error) {
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %s policy: %w", name, issues.Err())
	}

	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%s policy must return bool, got %s", name, out)
	}

	program, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %s policy: %w", name, err)
	}
	return program, nil
}

func (p *Policy) eval(name string, prog cel.Program, in Input) (bool, error) {
	out, _, err := prog.Eval(map[string]any{
		"confidence": in.Confidence,
		"outcome":    string(in.Outcome),
		"history":    int64(in.History),
	})
	if err != nil {
		return false, fmt.Errorf("%s policy evaluation failed: %w", name, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%s policy returned %s, expected bool", name, out.Type())
	}
	return bool(b), nil
}
