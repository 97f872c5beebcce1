package model_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
	"github.com/KaramelBytes/bmpopt/internal/model"
	"github.com/KaramelBytes/bmpopt/internal/repository"
	"github.com/KaramelBytes/bmpopt/internal/sample"
)

var (
	crop = dataset.Parcel{Segment: "S1", LoadSource: "crop", Agency: "A"}
	pas  = dataset.Parcel{Segment: "S1", LoadSource: "pas", Agency: "A"}
)

// handDataset has one 100-acre parcel with two groups and one zero-area parcel.
func handDataset() *dataset.Dataset {
	return &dataset.Dataset{
		Pollutants:  []string{"N", "P"},
		Segments:    []string{"S1", "S2"},
		LoadSources: []string{"crop", "pas"},
		Agencies:    []string{"A"},
		BMPs:        []string{"b1", "b2", "b3"},
		Groups:      []string{"G1", "G2"},
		Parcels:     []dataset.Parcel{crop, pas},
		Grouping:    map[string]string{"b1": "G1", "b2": "G1", "b3": "G2"},
		BMPSourceLinks: []dataset.BMPSource{
			{BMP: "b1", LoadSource: "crop"},
			{BMP: "b1", LoadSource: "pas"},
			{BMP: "b2", LoadSource: "crop"},
			{BMP: "b3", LoadSource: "crop"},
		},
		Tau: map[string]float64{"b1": 10, "b2": 20, "b3": 5},
		Eta: map[dataset.EtaKey]float64{
			{BMP: "b1", Segment: "S1", LoadSource: "crop", Pollutant: "N"}: 0.5,
			{BMP: "b2", Segment: "S1", LoadSource: "crop", Pollutant: "N"}: 0.2,
			{BMP: "b3", Segment: "S1", LoadSource: "crop", Pollutant: "N"}: 0.5,
			{BMP: "b1", Segment: "S1", LoadSource: "pas", Pollutant: "N"}:  0.4,
		},
		Phi: map[dataset.PhiKey]float64{
			{Parcel: crop, Pollutant: "N"}: 10,
			{Parcel: pas, Pollutant: "N"}:  8,
		},
		Alpha: map[dataset.Parcel]float64{crop: 100, pas: 0},
	}
}

func twoBMP(t *testing.T) *dataset.Dataset {
	t.Helper()
	repo, err := repository.FromTables(sample.TwoBMP())
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	a, err := dataset.NewAssembler(repo)
	if err != nil {
		t.Fatalf("assembler: %v", err)
	}
	ds, err := a.Assemble(dataset.Request{Scale: "segment", Entities: []string{"S1"}, BaselineYear: 2010})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return ds
}

func compile(t *testing.T, ds *dataset.Dataset, spec model.Spec, params map[string]float64) *model.Program {
	t.Helper()
	p, err := model.Compile(ds, spec, model.Options{TargetPollutant: "N", Params: params})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return p
}

func component(t *testing.T, p *model.Program, name, key string) model.Expr {
	t.Helper()
	c, ok := p.Components[name]
	if !ok {
		t.Fatalf("component %s missing (have %v)", name, p.ComponentNames())
	}
	e, ok := c.Lookup(key)
	if !ok {
		t.Fatalf("component %s has no member %q", name, key)
	}
	return e
}

func TestPhasesAreStrictlyOrdered(t *testing.T) {
	c, err := model.NewCompiler(twoBMP(t), model.DefaultSpec(model.CostMin, model.Aggregate, ""), model.Options{TargetPollutant: "N"})
	if err != nil {
		t.Fatalf("new compiler: %v", err)
	}
	if c.Phase() != model.Skeleton {
		t.Fatalf("phase = %s, want skeleton", c.Phase())
	}
	var pe *model.PhaseError
	if err := c.AttachConstraints(); !errors.As(err, &pe) || pe.Have != model.Skeleton {
		t.Fatalf("constraints before objective: %v", err)
	}
	if _, err := c.Finalize(); !errors.As(err, &pe) {
		t.Fatalf("finalize from skeleton: %v", err)
	}
	if err := c.AttachObjective(); err != nil {
		t.Fatalf("objective: %v", err)
	}
	if err := c.AttachObjective(); !errors.As(err, &pe) {
		t.Fatalf("objective twice: %v", err)
	}
	if err := c.AttachConstraints(); err != nil {
		t.Fatalf("constraints: %v", err)
	}
	if err := c.AttachOtherExpressions(); err != nil {
		t.Fatalf("other: %v", err)
	}
	if _, err := c.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if c.Phase() != model.Ready {
		t.Fatalf("phase = %s, want ready", c.Phase())
	}
	if _, err := c.Finalize(); !errors.As(err, &pe) {
		t.Fatalf("finalize twice: %v", err)
	}
}

func TestSkeletonVariablesAndCapacity(t *testing.T) {
	p := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, ""), nil)
	var vars []string
	for _, v := range p.Vars {
		vars = append(vars, v.Name())
	}
	want := []string{"x[b1,S1,crop,A]", "x[b2,S1,crop,A]", "x[b3,S1,crop,A]", "x[b1,S1,pas,A]"}
	if diff := cmp.Diff(want, vars); diff != "" {
		t.Fatalf("vars (-want +got):\n%s", diff)
	}
	if p.Vars[0].Upper != 100 || p.Vars[3].Upper != 0 {
		t.Fatalf("area bounds = %v, %v", p.Vars[0].Upper, p.Vars[3].Upper)
	}
	var capacity []model.Row
	for _, r := range p.Rows {
		if r.Constraint == model.CapacityConstraint {
			capacity = append(capacity, r)
		}
	}
	if len(capacity) != 3 {
		t.Fatalf("capacity rows = %d, want 3", len(capacity))
	}
	if capacity[0].Name() != "group_capacity[G1,S1,crop,A]" || capacity[0].RHS != 100 || len(capacity[0].Expr.Terms) != 2 {
		t.Fatalf("first capacity row = %+v", capacity[0])
	}
	over := []float64{80, 30, 0, 0}
	var names []string
	for _, v := range p.Violations(over, 1e-9) {
		names = append(names, v.Name)
	}
	if diff := cmp.Diff([]string{"group_capacity[G1,S1,crop,A]"}, names); diff != "" {
		t.Fatalf("violations (-want +got):\n%s", diff)
	}
}

func TestLoadModel(t *testing.T) {
	full := []float64{100, 0, 100, 0}
	nlp := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, model.VariantNLP), nil)
	if got := component(t, nlp, "original_load", "N").Value(full); got != 1000 {
		t.Fatalf("original N = %v, want 1000", got)
	}
	if got := component(t, nlp, "new_load", "N").Value(full); math.Abs(got-250) > 1e-9 {
		t.Fatalf("nlp new N = %v, want 250", got)
	}
	if got := component(t, nlp, "percent_reduction", "N").Value(full); math.Abs(got-75) > 1e-9 {
		t.Fatalf("nlp percent = %v, want 75", got)
	}
	if nlp.Linear() {
		t.Fatalf("nlp program with two groups should not be linear")
	}

	lp := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, model.VariantLP), nil)
	if got := component(t, lp, "new_load", "N").Value(full); math.Abs(got) > 1e-9 {
		t.Fatalf("lp new N = %v, want 0", got)
	}
	if !lp.Linear() {
		t.Fatalf("lp program should be linear")
	}
}

func TestPassThroughPolicy(t *testing.T) {
	p := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, ""), nil)
	x := []float64{60, 40, 100, 5}
	for _, pt := range p.Parcels {
		for _, g := range pt.Groups {
			for _, pol := range p.Pollutants {
				v := pt.PassThrough(g, pol, x)
				if pt.Alpha == 0 && v != 1 {
					t.Fatalf("zero-area pass-through = %v, want exactly 1", v)
				}
				if v < 0 || v > 1 {
					t.Fatalf("pass-through %s/%s/%s = %v out of [0,1]", pt.Parcel, g.Group, pol, v)
				}
			}
		}
	}
}

func TestPercentReductionZeroOriginalLoad(t *testing.T) {
	p := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, ""), nil)
	e := component(t, p, "percent_reduction", "P")
	for _, x := range [][]float64{{0, 0, 0, 0}, {100, 0, 100, 0}} {
		if got := e.Value(x); got != 0 {
			t.Fatalf("percent for zero original load = %v, want exactly 0", got)
		}
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	p := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, ""), nil)
	e := component(t, p, "percent_reduction", "N")
	x := []float64{30, 20, 40, 0}
	grad := e.Gradient(x, len(x))
	const h = 1e-6
	for i := range x {
		up := append([]float64(nil), x...)
		dn := append([]float64(nil), x...)
		up[i] += h
		dn[i] -= h
		fd := (e.Value(up) - e.Value(dn)) / (2 * h)
		if math.Abs(fd-grad[i]) > 1e-5*math.Max(1, math.Abs(fd)) {
			t.Fatalf("d/dx%d: analytic %v, numeric %v", i, grad[i], fd)
		}
	}
}

func TestRowActivation(t *testing.T) {
	agg := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, ""), map[string]float64{model.ParamTargetPercent: 20})
	seg := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.PerSegment, ""), nil)
	active := func(p *model.Program) []string {
		var out []string
		for _, r := range p.Rows {
			if r.Constraint != model.CapacityConstraint {
				out = append(out, r.Name()+map[bool]string{true: "+", false: "-"}[r.Active])
			}
		}
		return out
	}
	if diff := cmp.Diff([]string{"target_reduction[N]+", "target_reduction[P]-"}, active(agg)); diff != "" {
		t.Fatalf("aggregate rows (-want +got):\n%s", diff)
	}
	want := []string{"target_reduction[S1,N]+", "target_reduction[S1,P]-", "target_reduction[S2,N]-", "target_reduction[S2,P]-"}
	if diff := cmp.Diff(want, active(seg)); diff != "" {
		t.Fatalf("per-segment rows (-want +got):\n%s", diff)
	}
	if got := agg.Limit(agg.Rows[0]); got != 20 {
		t.Fatalf("row limit = %v, want parameter value 20", got)
	}
}

func TestObjectiveDeactivation(t *testing.T) {
	p := compile(t, handDataset(), model.DefaultSpec(model.LoadMax, model.Aggregate, ""), nil)
	if p.Objective.Sense != model.Maximize {
		t.Fatalf("sense = %s", p.Objective.Sense)
	}
	var keys []string
	for _, part := range p.Objective.Parts {
		if part.Active {
			keys = append(keys, part.Key())
		}
	}
	if diff := cmp.Diff([]string{"N"}, keys); diff != "" {
		t.Fatalf("active objective parts (-want +got):\n%s", diff)
	}

	spec := model.DefaultSpec(model.LoadMax, model.Aggregate, "")
	spec.Objective.DeactivateIndices = []string{"P"}
	p = compile(t, handDataset(), spec, nil)
	if !p.Objective.Parts[0].Active || p.Objective.Parts[1].Active {
		t.Fatalf("explicit deactivation not honored: %+v", p.Objective.Parts)
	}
}

const yamlSpec = `
variant: nlp
objective:
  name: min_cost
  sense: minimize
  expression: total_cost
constraints:
  - name: target_reduction
    bound: lower
    bound_param: target_percent_reduction
    expression: percent_reduction
other_components:
  - name: new_load
`

func TestParseSpecAndCompile(t *testing.T) {
	spec, err := model.ParseSpec([]byte(yamlSpec))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(model.DefaultSpec(model.CostMin, model.Aggregate, "").Constraints, spec.Constraints); diff != "" {
		t.Fatalf("constraints (-default +parsed):\n%s", diff)
	}
	p := compile(t, twoBMP(t), spec, map[string]float64{model.ParamTargetPercent: 20})
	if p.TargetParam != model.ParamTargetPercent {
		t.Fatalf("target param = %q", p.TargetParam)
	}
	if diff := cmp.Diff([]string{"new_load", "original_load", "target_reduction", "total_cost"}, p.ComponentNames()); diff != "" {
		t.Fatalf("components (-want +got):\n%s", diff)
	}
}

func TestCompilationErrors(t *testing.T) {
	ds := handDataset()
	opts := model.Options{TargetPollutant: "N"}

	spec := model.DefaultSpec(model.CostMin, model.Aggregate, "")
	spec.Objective.Expression = "total_happiness"
	var ue *model.UnrecognizedExpressionError
	if _, err := model.Compile(ds, spec, opts); !errors.As(err, &ue) {
		t.Fatalf("unknown expression: %v", err)
	}

	spec = model.DefaultSpec(model.CostMin, model.Aggregate, "")
	spec.Constraints[0].Bound = "sideways"
	var be *model.UnrecognizedBoundTypeError
	if _, err := model.Compile(ds, spec, opts); !errors.As(err, &be) {
		t.Fatalf("bad bound: %v", err)
	}

	spec = model.DefaultSpec(model.CostMin, model.Aggregate, "")
	spec.Objective.Sense = "sideways"
	var se *model.UnrecognizedSenseError
	if _, err := model.Compile(ds, spec, opts); !errors.As(err, &se) {
		t.Fatalf("bad sense: %v", err)
	}

	var ve *model.UnrecognizedVariantError
	if _, err := model.ParseSpec([]byte("variant: milp\n")); !errors.As(err, &ve) {
		t.Fatalf("bad variant: %v", err)
	}

	spec = model.DefaultSpec(model.CostMin, model.Aggregate, "")
	spec.Constraints[0].Name = "new_load"
	var re *model.AmbiguousReuseError
	if _, err := model.Compile(ds, spec, opts); !errors.As(err, &re) || re.Name != "new_load" {
		t.Fatalf("ambiguous reuse: %v", err)
	}

	if _, err := model.Compile(ds, model.DefaultSpec(model.CostMin, model.Aggregate, ""), model.Options{TargetPollutant: "Q"}); err == nil {
		t.Fatalf("unknown target pollutant should fail")
	}
}

func TestUpdateTargetParameter(t *testing.T) {
	p := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, ""), map[string]float64{model.ParamTargetPercent: 20})
	if err := p.UpdateTargetParameter(35); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := p.Params[model.ParamTargetPercent]; got != 35 {
		t.Fatalf("target = %v, want 35", got)
	}
	if err := p.SetParam("nope", 1); !errors.Is(err, model.ErrUnknownParameter) {
		t.Fatalf("unknown param: %v", err)
	}
	lm := compile(t, handDataset(), model.DefaultSpec(model.LoadMax, model.Aggregate, ""), map[string]float64{model.ParamCostUpperBound: 500})
	if lm.TargetParam != model.ParamCostUpperBound {
		t.Fatalf("load-max target param = %q", lm.TargetParam)
	}
}

func TestProgramJSONSnapshot(t *testing.T) {
	p := compile(t, handDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, ""), map[string]float64{model.ParamTargetPercent: 10})
	b, err := p.MarshalIndent()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back model.Program
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	x := []float64{30, 20, 40, 0}
	if got, want := back.Objective.Value(x), p.Objective.Value(x); got != want {
		t.Fatalf("objective after round trip = %v, want %v", got, want)
	}
	if got, want := back.Rows[0].Expr.Value(x), p.Rows[0].Expr.Value(x); math.Abs(got-want) > 1e-12 {
		t.Fatalf("row after round trip = %v, want %v", got, want)
	}
}
