// Package model compiles a data set into a solver-independent program for
// the cost-minimization or load-maximization problem.
package model

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
)

// zeroArea is the area at or below which a parcel counts as empty.
const zeroArea = 1e-9

// Phase is a compilation stage. Phases advance strictly in order.
type Phase int

const (
	PhaseNone Phase = iota
	Skeleton
	ObjectiveAttached
	ConstraintsAttached
	OtherExpressionsAttached
	Ready
)

func (p Phase) String() string {
	switch p {
	case Skeleton:
		return "skeleton"
	case ObjectiveAttached:
		return "objective-attached"
	case ConstraintsAttached:
		return "constraints-attached"
	case OtherExpressionsAttached:
		return "other-expressions-attached"
	case Ready:
		return "ready"
	default:
		return "none"
	}
}

// CapacityConstraint names the group-capacity rows.
const CapacityConstraint = "group_capacity"

// Options configure one compilation.
type Options struct {
	// TargetPollutant is the pollutant whose rows and objective parts are active.
	TargetPollutant string
	// Params seeds mutable parameters; bound parameters not given start at 0.
	Params map[string]float64
	Logger *zap.Logger
}

// Compiler turns one Dataset into one Program. A Compiler is single use.
type Compiler struct {
	ds    *dataset.Dataset
	spec  Spec
	phase Phase
	prog  *Program
	log   *zap.Logger
}

// NewCompiler builds the skeleton: variables, parcel load data and parameters.
func NewCompiler(ds *dataset.Dataset, spec Spec, opts Options) (*Compiler, error) {
	if ds == nil {
		return nil, errors.New("model: nil dataset")
	}
	variant, err := ParseVariant(string(spec.Variant))
	if err != nil {
		return nil, err
	}
	target := strings.TrimSpace(opts.TargetPollutant)
	if !contains(ds.Pollutants, target) {
		return nil, fmt.Errorf("target pollutant %q not in data set pollutants [%s]", target, strings.Join(ds.Pollutants, ", "))
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Compiler{ds: ds, spec: spec, log: log}
	c.prog = &Program{
		Variant:         variant,
		TargetPollutant: target,
		Pollutants:      append([]string(nil), ds.Pollutants...),
		Components:      map[string]Component{},
		Params:          map[string]float64{},
	}
	for k, v := range opts.Params {
		c.prog.Params[k] = v
	}
	c.skeleton()
	c.phase = Skeleton
	return c, nil
}

// skeleton creates x[bmp, parcel] for every parcel and every BMP linked to
// the parcel's load source, grouped by BMP group.
func (c *Compiler) skeleton() {
	for _, p := range c.ds.Parcels {
		alpha := c.ds.Alpha[p]
		pt := ParcelTerm{Parcel: p, Alpha: alpha, Base: map[string]float64{}}
		for _, pol := range c.ds.Pollutants {
			if rate := c.ds.Rate(p, pol); rate != 0 {
				pt.Base[pol] = rate * alpha
			}
		}
		groups, members := c.ds.ApplicableGroups(p.LoadSource)
		for _, g := range groups {
			gt := GroupTerm{Group: g, Eta: map[string][]float64{}}
			for _, b := range members[g] {
				gt.Vars = append(gt.Vars, len(c.prog.Vars))
				c.prog.Vars = append(c.prog.Vars, Var{BMP: b, Group: g, Parcel: p, Upper: alpha, Cost: c.ds.Tau[b]})
				for _, pol := range c.ds.Pollutants {
					gt.Eta[pol] = append(gt.Eta[pol], c.ds.Eff(b, p, pol))
				}
			}
			pt.Groups = append(pt.Groups, gt)
		}
		c.prog.Parcels = append(c.prog.Parcels, pt)
	}
}

// Phase reports the current compilation phase.
func (c *Compiler) Phase() Phase { return c.phase }

func (c *Compiler) require(op string, want Phase) error {
	if c.phase != want {
		return &PhaseError{Op: op, Want: want, Have: c.phase}
	}
	return nil
}

// attach builds a component under name, reusing an identical earlier one.
func (c *Compiler) attach(name string, id ExpressionID) (Component, error) {
	if existing, ok := c.prog.Components[name]; ok {
		if existing.Expression != id {
			return Component{}, &AmbiguousReuseError{Name: name, Existing: existing.Expression, Proposed: id}
		}
		return existing, nil
	}
	comp := Component{Name: name, Expression: id, Members: registry[id](c)}
	c.prog.Components[name] = comp
	return comp, nil
}

// AttachObjective attaches the objective expression. Without explicit
// deactivate indices only members indexed by the target pollutant count.
func (c *Compiler) AttachObjective() error {
	if err := c.require("attach objective", Skeleton); err != nil {
		return err
	}
	ospec := c.spec.Objective
	id, err := lookupExpression(ospec.Expression)
	if err != nil {
		return err
	}
	sense, err := parseSense(ospec.Sense)
	if err != nil {
		return err
	}
	comp, err := c.attach(string(id), id)
	if err != nil {
		return err
	}
	deactivate := map[string]bool{}
	for _, k := range ospec.DeactivateIndices {
		deactivate[k] = true
	}
	name := ospec.Name
	if name == "" {
		name = "objective"
	}
	obj := Objective{Name: name, Sense: sense, Expression: id}
	for _, m := range comp.Members {
		active := true
		switch {
		case len(deactivate) > 0:
			active = !deactivate[m.Key()]
		case len(m.Index) > 0:
			active = m.Index[len(m.Index)-1] == c.prog.TargetPollutant
		}
		obj.Parts = append(obj.Parts, ObjectivePart{IndexedExpr: m, Active: active})
	}
	c.prog.Objective = obj
	c.phase = ObjectiveAttached
	return nil
}

// AttachConstraints attaches every spec constraint and the group-capacity rows.
func (c *Compiler) AttachConstraints() error {
	if err := c.require("attach constraints", ObjectiveAttached); err != nil {
		return err
	}
	for _, cs := range c.spec.Constraints {
		if strings.TrimSpace(cs.Name) == "" {
			return fmt.Errorf("constraint on %q has no name", cs.Expression)
		}
		id, err := lookupExpression(cs.Expression)
		if err != nil {
			return err
		}
		bound, err := parseBound(cs.Name, cs.Bound)
		if err != nil {
			return err
		}
		comp, err := c.attach(cs.Name, id)
		if err != nil {
			return err
		}
		if cs.BoundParam != "" {
			if _, ok := c.prog.Params[cs.BoundParam]; !ok {
				c.prog.Params[cs.BoundParam] = 0
			}
			if c.prog.TargetParam == "" {
				c.prog.TargetParam = cs.BoundParam
			}
		}
		for _, m := range comp.Members {
			c.prog.Rows = append(c.prog.Rows, Row{
				Constraint: cs.Name,
				Index:      m.Index,
				Expr:       m.Expr,
				Bound:      bound,
				Param:      cs.BoundParam,
				Active:     c.rowActive(id, m),
			})
		}
	}
	c.attachCapacity()
	c.phase = ConstraintsAttached
	return nil
}

// rowActive keeps rows of the target pollutant. Per-segment rows of a
// segment without original target load stay inactive.
func (c *Compiler) rowActive(id ExpressionID, m IndexedExpr) bool {
	if len(m.Index) == 0 {
		return true
	}
	if m.Index[len(m.Index)-1] != c.prog.TargetPollutant {
		return false
	}
	if id == ExprSegmentPercentReduction {
		var orig float64
		for _, pt := range c.prog.Parcels {
			if pt.Parcel.Segment == m.Index[0] {
				orig += pt.Base[c.prog.TargetPollutant]
			}
		}
		return orig != 0
	}
	return true
}

// attachCapacity adds sum_{bmp in G} x[bmp, parcel] <= alpha[parcel] for
// every (group, parcel) pair.
func (c *Compiler) attachCapacity() {
	for _, pt := range c.prog.Parcels {
		for _, g := range pt.Groups {
			if len(g.Vars) == 0 {
				continue
			}
			e := Expr{Terms: make([]Term, 0, len(g.Vars))}
			for _, v := range g.Vars {
				e.Terms = append(e.Terms, Term{Var: v, Coef: 1})
			}
			c.prog.Rows = append(c.prog.Rows, Row{
				Constraint: CapacityConstraint,
				Index:      []string{g.Group, pt.Parcel.Segment, pt.Parcel.LoadSource, pt.Parcel.Agency},
				Expr:       e,
				Bound:      Upper,
				RHS:        pt.Alpha,
				Active:     true,
			})
		}
	}
}

// AttachOtherExpressions attaches the spec's extra components plus the
// original and new loads, which every program carries.
func (c *Compiler) AttachOtherExpressions() error {
	if err := c.require("attach other expressions", ConstraintsAttached); err != nil {
		return err
	}
	for _, oc := range c.spec.OtherComponents {
		id, err := lookupExpression(oc.Name)
		if err != nil {
			return err
		}
		if _, err := c.attach(oc.Name, id); err != nil {
			return err
		}
	}
	for _, id := range []ExpressionID{ExprOriginalLoad, ExprNewLoad} {
		if _, err := c.attach(string(id), id); err != nil {
			return err
		}
	}
	c.phase = OtherExpressionsAttached
	return nil
}

// Finalize marks the program ready and hands it out.
func (c *Compiler) Finalize() (*Program, error) {
	if err := c.require("finalize", OtherExpressionsAttached); err != nil {
		return nil, err
	}
	c.phase = Ready
	c.log.Info("model compiled",
		zap.String("variant", string(c.prog.Variant)),
		zap.String("objective", string(c.prog.Objective.Expression)),
		zap.Int("vars", len(c.prog.Vars)),
		zap.Int("rows", len(c.prog.Rows)),
		zap.Bool("linear", c.prog.Linear()),
	)
	return c.prog, nil
}

// Compile runs every phase in order.
func Compile(ds *dataset.Dataset, spec Spec, opts Options) (*Program, error) {
	c, err := NewCompiler(ds, spec, opts)
	if err != nil {
		return nil, err
	}
	steps := []func() error{c.AttachObjective, c.AttachConstraints, c.AttachOtherExpressions}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return c.Finalize()
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
