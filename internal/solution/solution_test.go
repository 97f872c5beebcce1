package solution_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
	"github.com/KaramelBytes/bmpopt/internal/model"
	"github.com/KaramelBytes/bmpopt/internal/repository"
	"github.com/KaramelBytes/bmpopt/internal/sample"
	"github.com/KaramelBytes/bmpopt/internal/solution"
	"github.com/KaramelBytes/bmpopt/internal/solver"
)

func program(t *testing.T, target float64) *model.Program {
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
	p, err := model.Compile(ds, model.DefaultSpec(model.CostMin, model.Aggregate, model.VariantNLP), model.Options{
		TargetPollutant: "N",
		Params:          map[string]float64{model.ParamTargetPercent: target},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return p
}

func TestExtractSolvedPortfolio(t *testing.T) {
	p := program(t, 20)
	sr, err := solver.NewSLP(50, 1e-7, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	res, err := solution.Extract(p, sr)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !res.Feasible || len(res.Violations) != 0 {
		t.Fatalf("feasible=%v violations=%v", res.Feasible, res.Violations)
	}
	n, ok := res.Load("N")
	if !ok {
		t.Fatal("no N summary")
	}
	if math.Abs(n.OriginalLoad-10000) > 1e-9 || math.Abs(n.NewLoad-8000) > 1e-6 || math.Abs(n.PercentReduction-20) > 1e-6 {
		t.Fatalf("N summary = %+v", n)
	}
	if math.Abs(res.TotalCost-20000.0/3) > 1e-4 {
		t.Fatalf("total cost = %v", res.TotalCost)
	}
	if math.Abs(res.TotalCost-res.Objective) > 1e-6 {
		t.Fatalf("allocation costs %v disagree with objective %v", res.TotalCost, res.Objective)
	}
	if len(res.Anomalies) != 0 {
		t.Fatalf("anomalies: %v", res.Anomalies)
	}

	f := res.Frame()
	want := []string{"bmp", "landriversegment", "loadsource", "agency", "acres", "unitcost", "totalcost"}
	for _, pol := range p.Pollutants {
		want = append(want, "original_load_"+strings.ToLower(pol), "new_load_"+strings.ToLower(pol))
	}
	want = append(want, "percent_reduction", "feasible", "objective")
	if diff := cmp.Diff(want, f.Columns()); diff != "" {
		t.Fatalf("columns (-want +got):\n%s", diff)
	}
	if f.Len() != len(res.Allocations) || f.Len() == 0 {
		t.Fatalf("rows = %d, allocations = %d", f.Len(), len(res.Allocations))
	}
	if got := f.Value(0, "feasible"); got != "true" {
		t.Fatalf("feasible cell = %q", got)
	}
	if got := f.Value(0, "original_load_n"); got != "10000" {
		t.Fatalf("original_load_n cell = %q", got)
	}
	if diff := cmp.Diff([]string{"original_load_p", "new_load_p"}, solution.LoadColumns("P")); diff != "" {
		t.Fatalf("load columns (-want +got):\n%s", diff)
	}
}

func TestMaterialityFilter(t *testing.T) {
	p := program(t, 20)
	// x[b1] is sub-tolerance noise; x[b2] covers half the parcel.
	sr := &solver.Result{Solver: "test", Status: solver.StatusOptimal, Values: []float64{1e-9, 500}, Objective: 10000}
	res, err := solution.Extract(p, sr)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	got := make([]string, 0, len(res.Allocations))
	for _, a := range res.Allocations {
		got = append(got, a.BMP)
	}
	if diff := cmp.Diff([]string{"b2"}, got); diff != "" {
		t.Fatalf("allocations (-want +got):\n%s", diff)
	}
	a := res.Allocations[0]
	if a.Acres != 500 || a.UnitCost != 20 || a.TotalCost != 10000 {
		t.Fatalf("allocation = %+v", a)
	}
	if n, _ := res.Load("N"); math.Abs(n.PercentReduction-30) > 1e-6 {
		t.Fatalf("N reduction = %v, want 30", n.PercentReduction)
	}

	res, err = solution.Extract(p, sr, solution.WithMateriality(1000))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res.Allocations) != 0 {
		t.Fatalf("allocations above a 1000-acre tolerance: %v", res.Allocations)
	}
	if f := res.Frame(); f.Len() != 1 || f.Value(0, "bmp") != "" {
		t.Fatalf("empty portfolio frame: %d rows", f.Len())
	}
}

func TestZeroOriginalLoadHasZeroReduction(t *testing.T) {
	p := program(t, 20)
	res, err := solution.Extract(p, &solver.Result{Status: solver.StatusOptimal, Values: []float64{0, 1000}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	s, ok := res.Load("P")
	if !ok {
		t.Fatal("no P summary")
	}
	if s.OriginalLoad != 0 || s.PercentReduction != 0 {
		t.Fatalf("P summary = %+v", s)
	}
}

func TestNonOptimalListsViolations(t *testing.T) {
	p := program(t, 70)
	sr := &solver.Result{Status: solver.StatusInfeasible, Values: []float64{0, 1000}, Message: "no feasible point"}
	res, err := solution.Extract(p, sr)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Feasible {
		t.Fatal("infeasible status reported as feasible")
	}
	var names []string
	for _, v := range res.Violations {
		names = append(names, v.Kind+":"+v.Name)
	}
	if diff := cmp.Diff([]string{"constraint:target_reduction[N]"}, names); diff != "" {
		t.Fatalf("violations (-want +got):\n%s", diff)
	}
	if len(res.ActiveRows) == 0 {
		t.Fatal("diagnostics should list the active rows")
	}
	if got := res.Frame().Value(0, "feasible"); got != "false" {
		t.Fatalf("feasible cell = %q", got)
	}
}

func TestNonFiniteLoadsAreAnomalies(t *testing.T) {
	p := program(t, 20)
	res, err := solution.Extract(p, &solver.Result{Status: solver.StatusOther, Values: []float64{math.NaN(), 0}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var found bool
	for _, a := range res.Anomalies {
		if a.Kind == "new_load" && a.Pollutant == "N" && a.LoadSource == "u3" && a.Segment == "S1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no parcel-level N anomaly in %v", res.Anomalies)
	}
}

func TestExtractRejectsMissingValues(t *testing.T) {
	p := program(t, 20)
	if _, err := solution.Extract(p, &solver.Result{Status: solver.StatusOther}); !errors.Is(err, solver.ErrNoSolution) {
		t.Fatalf("err = %v, want ErrNoSolution", err)
	}
	if _, err := solution.Extract(p, &solver.Result{Values: []float64{1}}); err == nil {
		t.Fatal("expected a length mismatch error")
	}
}
