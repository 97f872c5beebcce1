package solver

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
	"github.com/KaramelBytes/bmpopt/internal/model"
	"github.com/KaramelBytes/bmpopt/internal/repository"
	"github.com/KaramelBytes/bmpopt/internal/sample"
)

func twoBMPProgram(t *testing.T, variant model.Variant, target float64) *model.Program {
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
	p, err := model.Compile(ds, model.DefaultSpec(model.CostMin, model.Aggregate, variant), model.Options{
		TargetPollutant: "N",
		Params:          map[string]float64{model.ParamTargetPercent: target},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return p
}

// twoGroupDataset has one 100-acre parcel treated by two BMP groups, so
// the new load multiplies two pass-through factors.
func twoGroupDataset() *dataset.Dataset {
	crop := dataset.Parcel{Segment: "S1", LoadSource: "crop", Agency: "A"}
	return &dataset.Dataset{
		Pollutants:     []string{"N"},
		Segments:       []string{"S1"},
		LoadSources:    []string{"crop"},
		Agencies:       []string{"A"},
		BMPs:           []string{"b1", "b2", "b3"},
		Groups:         []string{"G1", "G2"},
		Parcels:        []dataset.Parcel{crop},
		Grouping:       map[string]string{"b1": "G1", "b2": "G1", "b3": "G2"},
		BMPSourceLinks: []dataset.BMPSource{{BMP: "b1", LoadSource: "crop"}, {BMP: "b2", LoadSource: "crop"}, {BMP: "b3", LoadSource: "crop"}},
		Tau:            map[string]float64{"b1": 10, "b2": 20, "b3": 5},
		Eta: map[dataset.EtaKey]float64{
			{BMP: "b1", Segment: "S1", LoadSource: "crop", Pollutant: "N"}: 0.5,
			{BMP: "b2", Segment: "S1", LoadSource: "crop", Pollutant: "N"}: 0.2,
			{BMP: "b3", Segment: "S1", LoadSource: "crop", Pollutant: "N"}: 0.5,
		},
		Phi:   map[dataset.PhiKey]float64{{Parcel: crop, Pollutant: "N"}: 10},
		Alpha: map[dataset.Parcel]float64{crop: 100},
	}
}

func solve(t *testing.T, p *model.Program) *Result {
	t.Helper()
	s, ok := Get(NameSLP, Config{})
	if !ok {
		t.Fatal("slp not registered")
	}
	res, err := s.Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	return res
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b)) }

// gridMinimum evaluates the objective on every feasible point of a grid over
// two variables and returns the smallest value found.
func gridMinimum(p *model.Program, step float64) (float64, bool) {
	best, found := math.Inf(1), false
	x := make([]float64, 2)
	for x[0] = 0; x[0] <= p.Vars[0].Upper; x[0] += step {
		for x[1] = 0; x[1] <= p.Vars[1].Upper; x[1] += step {
			if len(p.Violations(x, 1e-9)) != 0 {
				continue
			}
			if v := p.Objective.Value(x); v < best {
				best, found = v, true
			}
		}
	}
	return best, found
}

func TestSLPTwoBMPMatchesEnumeration(t *testing.T) {
	const step = 10.0
	for _, variant := range []model.Variant{model.VariantNLP, model.VariantLP} {
		for _, target := range []float64{5, 20, 45} {
			p := twoBMPProgram(t, variant, target)
			if len(p.Vars) != 2 {
				t.Fatalf("%s: %d variables, want 2", variant, len(p.Vars))
			}
			res := solve(t, p)
			if res.Status != StatusOptimal {
				t.Fatalf("%s %v%%: status %s (%s)", variant, target, res.Status, res.Message)
			}
			if v := p.Violations(res.Values, 1e-7); len(v) != 0 {
				t.Fatalf("%s %v%%: violations %v", variant, target, v)
			}
			if res.Iterations != 1 {
				t.Fatalf("%s %v%%: linear program took %d iterations", variant, target, res.Iterations)
			}
			best, ok := gridMinimum(p, step)
			if !ok {
				t.Fatalf("%s %v%%: no feasible grid point", variant, target)
			}
			// The grid can overshoot the optimum by at most one step of the
			// dearer variable.
			var dearest float64
			for _, v := range p.Vars {
				dearest = math.Max(dearest, v.Cost*step)
			}
			if res.Objective > best+1e-6 || res.Objective < best-dearest-1e-6 {
				t.Fatalf("%s %v%%: cost = %v, grid minimum %v (resolution %v)", variant, target, res.Objective, best, dearest)
			}
		}
	}
	// Either BMP buys 1% of the N load for 333.33.
	if res := solve(t, twoBMPProgram(t, model.VariantNLP, 20)); !near(res.Objective, 20000.0/3, 1e-6) {
		t.Fatalf("cost = %v, want %v", res.Objective, 20000.0/3)
	}
}

func TestSLPZeroTargetCostsNothing(t *testing.T) {
	p := twoBMPProgram(t, model.VariantNLP, 0)
	res := solve(t, p)
	if res.Status != StatusOptimal || math.Abs(res.Objective) > 1e-9 {
		t.Fatalf("status %s objective %v", res.Status, res.Objective)
	}
	for i, x := range res.Values {
		if math.Abs(x) > 1e-12 {
			t.Fatalf("%s = %v, want 0", p.Vars[i].Name(), x)
		}
	}
}

func TestSLPInfeasibleTarget(t *testing.T) {
	// The strongest BMP on every acre removes 60%.
	res := solve(t, twoBMPProgram(t, model.VariantNLP, 70))
	if res.Status != StatusInfeasible {
		t.Fatalf("status %s, want infeasible", res.Status)
	}
	if res.Message == "" {
		t.Fatal("expected a diagnostic message")
	}
}

func TestSLPMultiplicativeCostMin(t *testing.T) {
	p, err := model.Compile(twoGroupDataset(), model.DefaultSpec(model.CostMin, model.Aggregate, model.VariantNLP), model.Options{
		TargetPollutant: "N",
		Params:          map[string]float64{model.ParamTargetPercent: 50},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if p.Linear() {
		t.Fatal("two groups on one parcel should be nonlinear")
	}
	res := solve(t, p)
	if res.Status != StatusOptimal {
		t.Fatalf("status %s (%s)", res.Status, res.Message)
	}
	if !near(res.Objective, 500, 1e-6) {
		t.Fatalf("cost = %v, want 500", res.Objective)
	}
}

func TestSLPMultiplicativeLoadMax(t *testing.T) {
	p, err := model.Compile(twoGroupDataset(), model.DefaultSpec(model.LoadMax, model.Aggregate, model.VariantNLP), model.Options{
		TargetPollutant: "N",
		Params:          map[string]float64{model.ParamCostUpperBound: 750},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	res := solve(t, p)
	if res.Status != StatusOptimal {
		t.Fatalf("status %s (%s)", res.Status, res.Message)
	}
	// All of b3, then the rest of the budget on b1: 1 - 0.875*0.5.
	if !near(res.Objective, 56.25, 1e-6) {
		t.Fatalf("percent = %v, want 56.25", res.Objective)
	}
}

func TestSLPHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSLP(10, 1e-7, nil).Solve(ctx, twoBMPProgram(t, model.VariantNLP, 20))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRegistry(t *testing.T) {
	names := Names()
	if len(names) != 2 || names[0] != NameRemote || names[1] != NameSLP {
		t.Fatalf("names = %v", names)
	}
	if _, ok := Get("cplex", Config{}); ok {
		t.Fatal("unexpected solver")
	}
	s, _ := Get(NameRemote, Config{URL: "http://127.0.0.1:1/solve"})
	if s.Name() != NameRemote {
		t.Fatalf("name = %s", s.Name())
	}
}

func TestSLPWarnsOnLargeTableau(t *testing.T) {
	if got := tableauBytes(1, 2); got != 3*6*8 {
		t.Fatalf("tableauBytes(1, 2) = %d", got)
	}
	core, logs := observer.New(zap.WarnLevel)
	s := NewSLP(50, 1e-7, zap.New(core))
	if _, err := s.Solve(context.Background(), twoBMPProgram(t, model.VariantLP, 20)); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if n := logs.FilterMessageSnippet("remote solver").Len(); n != 0 {
		t.Fatalf("small program logged %d warnings", n)
	}
	s.warnBytes = 0
	if _, err := s.Solve(context.Background(), twoBMPProgram(t, model.VariantLP, 20)); err != nil {
		t.Fatalf("solve: %v", err)
	}
	entries := logs.FilterMessageSnippet("remote solver").All()
	if len(entries) != 1 || entries[0].ContextMap()["free_vars"] != int64(2) {
		t.Fatalf("warnings = %+v", entries)
	}
}
