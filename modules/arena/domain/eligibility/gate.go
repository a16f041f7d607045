// Package eligibility decides whether a project should own an active ms arena.
package eligibility

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

const DefaultExpression = `project.arc_active == true &&
project.arc_access_level == "leaderboard" &&
access.application_status == "approved" &&
features.option2_normal_unlocked == true &&
features.leaderboard_enabled == true`

// Gate evaluates a compiled boolean CEL program. It holds no per-project state;
// every call reads the flags it is given.
type Gate struct {
	expr    string
	program cel.Program
}

var newGateCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("project", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("access", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
	)
}

func NewGate(expr string) (*Gate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("eligibility: expression required")
	}
	env, err := newGateCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("eligibility: compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.New("eligibility: expression must evaluate to bool")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Gate{expr: expr, program: program}, nil
}

func NewDefaultGate() (*Gate, error) {
	return NewGate(DefaultExpression)
}

func (g *Gate) Expression() string { return g.expr }

func (g *Gate) Eligible(p types.Project) (bool, error) {
	out, _, err := g.program.Eval(activation(p))
	if err != nil {
		return false, fmt.Errorf("eligibility: eval project %s: %w", p.ID, err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("eligibility: non-bool result")
	}
	return v, nil
}

func activation(p types.Project) map[string]any {
	return map[string]any{
		"project": map[string]any{
			"id":               p.ID,
			"slug":             p.Slug,
			"arc_active":       p.ArcActive,
			"arc_access_level": p.ArcAccessLevel,
		},
		"access": map[string]any{
			"application_status": p.ApplicationStatus,
		},
		"features": map[string]any{
			"option2_normal_unlocked": p.Option2NormalUnlocked,
			"leaderboard_enabled":     p.LeaderboardEnabled,
		},
	}
}

type rulesFile struct {
	Version    int    `yaml:"version"`
	Expression string `yaml:"expression"`
}

func ParseRulesYAML(b []byte) (string, error) {
	var rf rulesFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return "", err
	}
	if rf.Version != 1 {
		return "", errors.New("eligibility: unsupported rules version")
	}
	if strings.TrimSpace(rf.Expression) == "" {
		return "", errors.New("eligibility: rules missing expression")
	}
	return rf.Expression, nil
}

// LoadGate builds the gate from a rules file, or the default expression when
// path is empty.
func LoadGate(path string) (*Gate, error) {
	if strings.TrimSpace(path) == "" {
		return NewDefaultGate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expr, err := ParseRulesYAML(b)
	if err != nil {
		return nil, err
	}
	return NewGate(expr)
}
