// Package solution turns raw solver output into allocations, load summaries
// and a feasibility verdict with diagnostics.
package solution

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
	"github.com/KaramelBytes/bmpopt/internal/model"
	"github.com/KaramelBytes/bmpopt/internal/solver"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

// DefaultMateriality is the allocation size below which a solved value is noise.
const DefaultMateriality = 1e-6

// Allocation is one material BMP placement.
type Allocation struct {
	Var       int            `json:"var"`
	BMP       string         `json:"bmp"`
	Group     string         `json:"group"`
	Parcel    dataset.Parcel `json:"parcel"`
	Acres     float64        `json:"acres"`
	UnitCost  float64        `json:"unitcost"`
	TotalCost float64        `json:"totalcost"`
}

// LoadSummary is the solved load of one pollutant over the whole geography.
type LoadSummary struct {
	Pollutant        string  `json:"pollutant"`
	OriginalLoad     float64 `json:"original_load"`
	NewLoad          float64 `json:"new_load"`
	PercentReduction float64 `json:"percent_reduction"`
}

// ParcelLoad is the original and solved load of one parcel.
type ParcelLoad struct {
	Original map[string]float64 `json:"original"`
	New      map[string]float64 `json:"new"`
}

// Anomaly is a non-finite or out-of-range derived quantity.
type Anomaly struct {
	Kind       string  `json:"kind"`
	Pollutant  string  `json:"pollutant"`
	Segment    string  `json:"landriversegment,omitempty"`
	LoadSource string  `json:"loadsource,omitempty"`
	Agency     string  `json:"agency,omitempty"`
	Group      string  `json:"group,omitempty"`
	Value      float64 `json:"value"`
}

func (a Anomaly) String() string {
	ctx := a.LoadSource
	if a.Segment != "" {
		ctx = a.Segment + "|" + a.LoadSource + "|" + a.Agency
	}
	if a.Group != "" {
		ctx += " group " + a.Group
	}
	return fmt.Sprintf("%s %s at %s: %v", a.Kind, a.Pollutant, ctx, a.Value)
}

// Result is the validated outcome of one solve.
type Result struct {
	Solver          string                `json:"solver"`
	Status          solver.Status         `json:"status"`
	Feasible        bool                  `json:"feasible"`
	Objective       float64               `json:"objective"`
	ObjectiveName   string                `json:"objective_name"`
	TargetPollutant string                `json:"target_pollutant"`
	Pollutants      []string              `json:"pollutants"`
	TotalCost       float64               `json:"total_cost"`
	Allocations     []Allocation          `json:"allocations"`
	Loads           []LoadSummary         `json:"loads"`
	ParcelLoads     map[string]ParcelLoad `json:"parcel_loads,omitempty"`
	Violations      []model.Violation     `json:"violations,omitempty"`
	ActiveRows      []string              `json:"active_rows,omitempty"`
	Anomalies       []Anomaly             `json:"anomalies,omitempty"`
	Duals           map[string]float64    `json:"duals,omitempty"`
	Message         string                `json:"message,omitempty"`
}

// Load returns the summary of one pollutant.
func (r *Result) Load(pollutant string) (LoadSummary, bool) {
	for _, l := range r.Loads {
		if l.Pollutant == pollutant {
			return l, true
		}
	}
	return LoadSummary{}, false
}

// Option configures Extract.
type Option func(*extractor)

// WithMateriality sets the allocation tolerance.
func WithMateriality(tol float64) Option {
	return func(e *extractor) {
		if tol > 0 {
			e.materiality = tol
		}
	}
}

// WithFeasibilityTolerance sets the relative tolerance of the diagnostic pass.
func WithFeasibilityTolerance(tol float64) Option {
	return func(e *extractor) {
		if tol > 0 {
			e.tol = tol
		}
	}
}

// WithLogger sets the logger used for anomalies.
func WithLogger(l *zap.Logger) Option {
	return func(e *extractor) {
		if l != nil {
			e.log = l
		}
	}
}

type extractor struct {
	materiality float64
	tol         float64
	log         *zap.Logger
}

// Extract validates a solver result against the program it solved.
func Extract(p *model.Program, sr *solver.Result, opts ...Option) (*Result, error) {
	e := &extractor{materiality: DefaultMateriality, tol: 1e-6, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if p == nil {
		return nil, errors.New("extract: nil program")
	}
	if sr == nil || (len(sr.Values) == 0 && len(p.Vars) > 0) {
		return nil, solver.ErrNoSolution
	}
	if len(sr.Values) != len(p.Vars) {
		return nil, fmt.Errorf("extract: solver returned %d values for %d variables", len(sr.Values), len(p.Vars))
	}
	x := sr.Values

	res := &Result{
		Solver:          sr.Solver,
		Status:          sr.Status,
		Feasible:        sr.Status == solver.StatusOptimal,
		Objective:       sr.Objective,
		ObjectiveName:   p.Objective.Name,
		TargetPollutant: p.TargetPollutant,
		Pollutants:      append([]string(nil), p.Pollutants...),
		Duals:           sr.Duals,
		Message:         sr.Message,
	}
	res.Allocations = e.allocations(p, x)
	for _, a := range res.Allocations {
		res.TotalCost += a.TotalCost
	}
	if err := e.loads(p, x, res); err != nil {
		return nil, err
	}
	res.ParcelLoads, res.Anomalies = e.parcels(p, x, res.Anomalies)
	if !res.Feasible {
		res.Violations = p.Violations(x, e.tol)
		res.ActiveRows = p.ActiveRows()
		e.log.Warn("solution not optimal",
			zap.String("status", string(sr.Status)),
			zap.Int("violations", len(res.Violations)),
			zap.String("message", sr.Message),
		)
	}
	for _, a := range res.Anomalies {
		e.log.Warn("load anomaly", zap.String("anomaly", a.String()))
	}
	return res, nil
}

func (e *extractor) allocations(p *model.Program, x []float64) []Allocation {
	var out []Allocation
	for i, v := range p.Vars {
		if !(x[i] > e.materiality) {
			continue
		}
		out = append(out, Allocation{
			Var:       i,
			BMP:       v.BMP,
			Group:     v.Group,
			Parcel:    v.Parcel,
			Acres:     x[i],
			UnitCost:  v.Cost,
			TotalCost: v.Cost * x[i],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Parcel != b.Parcel {
			return a.Parcel.String() < b.Parcel.String()
		}
		return a.BMP < b.BMP
	})
	return out
}

// loads fills the per-pollutant summaries from the attached load components.
func (e *extractor) loads(p *model.Program, x []float64, res *Result) error {
	orig, err := p.Evaluate(string(model.ExprOriginalLoad), x)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	next, err := p.Evaluate(string(model.ExprNewLoad), x)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	for _, pol := range p.Pollutants {
		s := LoadSummary{Pollutant: pol, OriginalLoad: orig[pol], NewLoad: next[pol]}
		if s.OriginalLoad != 0 {
			s.PercentReduction = (s.OriginalLoad - s.NewLoad) / s.OriginalLoad * 100
		}
		kinds := []string{"original_load", "new_load", "percent_reduction"}
		for i, v := range []float64{s.OriginalLoad, s.NewLoad, s.PercentReduction} {
			if !finite(v) {
				res.Anomalies = append(res.Anomalies, Anomaly{Kind: kinds[i], Pollutant: pol, Value: v})
			}
		}
		res.Loads = append(res.Loads, s)
	}
	return nil
}

// parcels computes the per-parcel loads, reporting non-finite loads and
// pass-through factors outside [0, 1] with their parcel context.
func (e *extractor) parcels(p *model.Program, x []float64, anomalies []Anomaly) (map[string]ParcelLoad, []Anomaly) {
	out := make(map[string]ParcelLoad, len(p.Parcels))
	for _, pt := range p.Parcels {
		pl := ParcelLoad{Original: map[string]float64{}, New: map[string]float64{}}
		for _, pol := range p.Pollutants {
			base := pt.Base[pol]
			load := base
			for _, g := range pt.Groups {
				f := pt.PassThrough(g, pol, x)
				if f < -e.tol || f > 1+e.tol || !finite(f) {
					anomalies = append(anomalies, anomaly("pass_through", pol, pt.Parcel, g.Group, f))
				}
				load *= f
			}
			if !finite(load) {
				anomalies = append(anomalies, anomaly("new_load", pol, pt.Parcel, "", load))
			}
			pl.Original[pol] = base
			pl.New[pol] = load
		}
		out[pt.Parcel.String()] = pl
	}
	return out, anomalies
}

func anomaly(kind, pol string, p dataset.Parcel, group string, v float64) Anomaly {
	return Anomaly{Kind: kind, Pollutant: pol, Segment: p.Segment, LoadSource: p.LoadSource, Agency: p.Agency, Group: group, Value: v}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// LoadColumns returns the original and new load column names of a pollutant.
// Headers are lower-case like every table column, so N becomes original_load_n.
func LoadColumns(pollutant string) []string {
	p := strings.ToLower(pollutant)
	return []string{"original_load_" + p, "new_load_" + p}
}

// Frame renders the result table: one row per allocation, with the parcel's
// loads, the target percent reduction, feasibility and the objective value.
// An empty portfolio yields a single row without allocation columns.
func (r *Result) Frame() *table.Frame {
	cols := []string{"bmp", "landriversegment", "loadsource", "agency", "acres", "unitcost", "totalcost"}
	for _, p := range r.Pollutants {
		cols = append(cols, LoadColumns(p)...)
	}
	cols = append(cols, "percent_reduction", "feasible", "objective")
	f := table.New("result", cols...)

	var pct float64
	if s, ok := r.Load(r.TargetPollutant); ok {
		pct = s.PercentReduction
	}
	tail := []string{num(pct), strconv.FormatBool(r.Feasible), num(r.Objective)}
	if len(r.Allocations) == 0 {
		row := make([]string, 7, len(cols))
		for _, p := range r.Pollutants {
			s, _ := r.Load(p)
			row = append(row, num(s.OriginalLoad), num(s.NewLoad))
		}
		_ = f.Append(append(row, tail...)...)
		return f
	}
	for _, a := range r.Allocations {
		row := []string{a.BMP, a.Parcel.Segment, a.Parcel.LoadSource, a.Parcel.Agency, num(a.Acres), num(a.UnitCost), num(a.TotalCost)}
		pl := r.ParcelLoads[a.Parcel.String()]
		for _, p := range r.Pollutants {
			row = append(row, num(pl.Original[p]), num(pl.New[p]))
		}
		_ = f.Append(append(row, tail...)...)
	}
	return f
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
