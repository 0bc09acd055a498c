package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Planner builds execution plans from recipe documents.
// Building reads install sources and script metadata but never writes.
type Planner struct {
	// fs is used to read sources and check scripts
	fs FileSystem

	// root re-roots every install destination when set
	root string

	logger zerolog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithRoot re-roots every install destination under dir.
func WithRoot(dir string) PlannerOption {
	return func(p *Planner) {
		p.root = dir
	}
}

// WithPlannerLogger sets the planner logger.
func WithPlannerLogger(logger zerolog.Logger) PlannerOption {
	return func(p *Planner) {
		p.logger = logger.With().Str("component", "planner").Logger()
	}
}

// NewPlanner creates a planner that reads through fs.
func NewPlanner(fs FileSystem, opts ...PlannerOption) *Planner {
	p := &Planner{
		fs:     fs,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildPlan builds one plan from docs, in the given order. The first failure
// aborts the build and no plan is returned.
func (p *Planner) BuildPlan(ctx context.Context, docs ...*Document) (*Plan, error) {
	if len(docs) == 0 {
		return nil, NewError(ErrorKindParseDefect, "no recipe to plan", nil).
			WithCode(ErrCodeValidation)
	}

	plan := &Plan{
		ID:        newID(),
		Recipes:   make([]string, 0, len(docs)),
		Actions:   make([]Action, 0),
		CreatedAt: time.Now(),
	}
	packages := newOrderedSet()
	units := newOrderedSet()

	for _, doc := range docs {
		if doc == nil {
			return nil, NewError(ErrorKindParseDefect, "recipe is nil", nil).
				WithCode(ErrCodeValidation)
		}

		actions, err := p.buildDocument(ctx, doc)
		if err != nil {
			return nil, err
		}

		plan.Recipes = append(plan.Recipes, doc.Name)
		plan.Actions = append(plan.Actions, actions...)
		packages.add(doc.Packages...)
		units.add(doc.SystemdUnits...)
	}

	plan.Packages = packages.items
	plan.SystemdUnits = units.items

	p.logger.Debug().
		Str("plan_id", plan.ID).
		Int("actions", len(plan.Actions)).
		Int("packages", len(plan.Packages)).
		Int("units", len(plan.SystemdUnits)).
		Msg("Plan built")

	return plan, nil
}

// buildDocument walks the steps of one document in order.
func (p *Planner) buildDocument(ctx context.Context, doc *Document) ([]Action, error) {
	var actions []Action
	for i, step := range doc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, NewError(ErrorKindCancelled, "plan build interrupted", err).
				WithCode(ErrCodeCancelled)
		}
		if step == nil {
			return nil, NewError(ErrorKindParseDefect, "step is nil", nil).
				WithCode(ErrCodeValidation).
				WithRecipe(doc.Name).
				WithStep(i, "")
		}

		for _, unit := range Resolve(step, i, doc.TemplateVars) {
			action, err := p.execute(doc, unit)
			if err != nil {
				return nil, err
			}
			actions = append(actions, action)
		}
	}
	return actions, nil
}

func (p *Planner) reroot(path string) string {
	if p.root == "" {
		return path
	}
	return filepath.Join(p.root, path)
}

// BuildPlan builds a plan from doc using the host file system.
func BuildPlan(ctx context.Context, fs FileSystem, doc *Document) (*Plan, error) {
	plan, err := NewPlanner(fs).BuildPlan(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build plan: %w", err)
	}
	return plan, nil
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}

func newID() string {
	return uuid.New().String()
}
