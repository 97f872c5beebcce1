package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
)

// Var is the area of one BMP applied on one parcel, bounded by [0, Upper].
type Var struct {
	BMP    string         `json:"bmp"`
	Group  string         `json:"group"`
	Parcel dataset.Parcel `json:"parcel"`
	Upper  float64        `json:"upper"`
	Cost   float64        `json:"cost"`
}

// Name renders the variable as x[bmp,segment,loadsource,agency].
func (v Var) Name() string {
	return fmt.Sprintf("x[%s,%s,%s,%s]", v.BMP, v.Parcel.Segment, v.Parcel.LoadSource, v.Parcel.Agency)
}

// GroupTerm lists the variables of one BMP group on one parcel with their
// effectiveness per pollutant, aligned with Vars.
type GroupTerm struct {
	Group string               `json:"group"`
	Vars  []int                `json:"vars"`
	Eta   map[string][]float64 `json:"eta"`
}

// ParcelTerm carries the load data of one parcel.
type ParcelTerm struct {
	Parcel dataset.Parcel     `json:"parcel"`
	Alpha  float64            `json:"alpha"`
	Base   map[string]float64 `json:"base"`
	Groups []GroupTerm        `json:"groups,omitempty"`
}

// PassThrough returns the fraction of the parcel's load of pollutant that
// survives group g at x. It is 1 on a zero-area parcel.
func (pt ParcelTerm) PassThrough(g GroupTerm, pollutant string, x []float64) float64 {
	if pt.Alpha <= zeroArea {
		return 1
	}
	f := 1.0
	for k, v := range g.Vars {
		f -= x[v] / pt.Alpha * g.Eta[pollutant][k]
	}
	return f
}

// IndexedExpr is one member of an indexed component. Index is empty for
// scalar components, [pollutant] or [segment, pollutant] otherwise.
type IndexedExpr struct {
	Index []string `json:"index,omitempty"`
	Expr  Expr     `json:"expr"`
}

// Key joins the index with "/".
func (ie IndexedExpr) Key() string { return strings.Join(ie.Index, "/") }

// Component is a named, attached expression family.
type Component struct {
	Name       string        `json:"name"`
	Expression ExpressionID  `json:"expression"`
	Members    []IndexedExpr `json:"members"`
}

// Lookup returns the member with the given index key.
func (c Component) Lookup(key string) (Expr, bool) {
	for _, m := range c.Members {
		if m.Key() == key {
			return m.Expr, true
		}
	}
	return Expr{}, false
}

// Row is one constraint instance: Expr >= limit (Lower) or Expr <= limit (Upper).
// The limit is Params[Param] when Param is set, RHS otherwise.
type Row struct {
	Constraint string    `json:"constraint"`
	Index      []string  `json:"index,omitempty"`
	Expr       Expr      `json:"expr"`
	Bound      BoundType `json:"bound"`
	Param      string    `json:"param,omitempty"`
	RHS        float64   `json:"rhs,omitempty"`
	Active     bool      `json:"active"`
}

// Name renders the row as constraint[index...].
func (r Row) Name() string {
	if len(r.Index) == 0 {
		return r.Constraint
	}
	return r.Constraint + "[" + strings.Join(r.Index, ",") + "]"
}

// ObjectivePart is one member of the objective sum.
type ObjectivePart struct {
	IndexedExpr
	Active bool `json:"active"`
}

// Objective is the sum of its active parts in the given sense.
type Objective struct {
	Name       string          `json:"name"`
	Sense      Sense           `json:"sense"`
	Expression ExpressionID    `json:"expression"`
	Parts      []ObjectivePart `json:"parts"`
}

// Value evaluates the objective at x.
func (o Objective) Value(x []float64) float64 {
	var v float64
	for _, p := range o.Parts {
		if p.Active {
			v += p.Expr.Value(x)
		}
	}
	return v
}

// Linear reports whether every active part is linear.
func (o Objective) Linear() bool {
	for _, p := range o.Parts {
		if p.Active && !p.Expr.Linear() {
			return false
		}
	}
	return true
}

// Program is a compiled model. It is plain data: it serializes to JSON and
// any solver may consume it. Only parameters change after compilation.
type Program struct {
	Variant         Variant              `json:"variant"`
	TargetPollutant string               `json:"target_pollutant"`
	Pollutants      []string             `json:"pollutants"`
	Vars            []Var                `json:"vars"`
	Parcels         []ParcelTerm         `json:"parcels"`
	Objective       Objective            `json:"objective"`
	Rows            []Row                `json:"rows"`
	Components      map[string]Component `json:"components"`
	Params          map[string]float64   `json:"params"`
	// TargetParam is the parameter UpdateTargetParameter changes.
	TargetParam string `json:"target_param,omitempty"`
}

// Limit returns the bound a row is compared against.
func (p *Program) Limit(r Row) float64 {
	if r.Param != "" {
		return p.Params[r.Param]
	}
	return r.RHS
}

// Linear reports whether the objective and every active row are linear.
func (p *Program) Linear() bool {
	if !p.Objective.Linear() {
		return false
	}
	for _, r := range p.Rows {
		if r.Active && !r.Expr.Linear() {
			return false
		}
	}
	return true
}

// UpdateTargetParameter sets the sweep parameter. The next Solve call on this
// program sees the new value; callers must not overlap solves with updates.
func (p *Program) UpdateTargetParameter(value float64) error {
	if p.TargetParam == "" {
		return fmt.Errorf("%w: program has no target parameter", ErrUnknownParameter)
	}
	return p.SetParam(p.TargetParam, value)
}

// SetParam changes a named mutable parameter.
func (p *Program) SetParam(name string, value float64) error {
	if _, ok := p.Params[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	if math.IsNaN(value) {
		return fmt.Errorf("parameter %s: value is NaN", name)
	}
	p.Params[name] = value
	return nil
}

// Evaluate returns the value of every member of a component at x, by index key.
func (p *Program) Evaluate(component string, x []float64) (map[string]float64, error) {
	c, ok := p.Components[component]
	if !ok {
		return nil, &UnrecognizedExpressionError{Name: component}
	}
	out := make(map[string]float64, len(c.Members))
	for _, m := range c.Members {
		out[m.Key()] = m.Expr.Value(x)
	}
	return out, nil
}

// Violation is one variable bound or active row not satisfied by a point.
type Violation struct {
	Kind  string  `json:"kind"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Limit float64 `json:"limit"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: value %.6g, limit %.6g", v.Kind, v.Name, v.Value, v.Limit)
}

func exceeds(value, limit, tol float64) bool {
	return value-limit > tol*math.Max(1, math.Abs(limit))
}

// Violations lists the variable bounds and active rows x violates beyond a
// relative tolerance, bounds first.
func (p *Program) Violations(x []float64, tol float64) []Violation {
	var out []Violation
	for i, v := range p.Vars {
		switch {
		case math.IsNaN(x[i]):
			out = append(out, Violation{Kind: "bound", Name: v.Name(), Value: x[i], Limit: v.Upper})
		case exceeds(0, x[i], tol):
			out = append(out, Violation{Kind: "bound", Name: v.Name(), Value: x[i], Limit: 0})
		case exceeds(x[i], v.Upper, tol):
			out = append(out, Violation{Kind: "bound", Name: v.Name(), Value: x[i], Limit: v.Upper})
		}
	}
	for _, r := range p.Rows {
		if !r.Active {
			continue
		}
		val, lim := r.Expr.Value(x), p.Limit(r)
		bad := math.IsNaN(val)
		if r.Bound == Lower {
			bad = bad || exceeds(lim, val, tol)
		} else {
			bad = bad || exceeds(val, lim, tol)
		}
		if bad {
			out = append(out, Violation{Kind: "constraint", Name: r.Name(), Value: val, Limit: lim})
		}
	}
	return out
}

// ActiveRows returns the names of the active rows in order.
func (p *Program) ActiveRows() []string {
	var out []string
	for _, r := range p.Rows {
		if r.Active {
			out = append(out, r.Name())
		}
	}
	return out
}

// ComponentNames returns the attached component names, sorted.
func (p *Program) ComponentNames() []string {
	out := make([]string, 0, len(p.Components))
	for n := range p.Components {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// MarshalIndent renders the program as indented JSON.
func (p *Program) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}
