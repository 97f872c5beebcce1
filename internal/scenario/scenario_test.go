package scenario_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"github.com/KaramelBytes/bmpopt/internal/model"
	"github.com/KaramelBytes/bmpopt/internal/scenario"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "adams")
	s := scenario.New("adams", "Adams County N", dir)
	s.Request.Entities = []string{"Adams, PA"}
	s.Target = 12.5
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if left, _ := filepath.Glob(filepath.Join(dir, ".scenario.json.*")); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
	got, err := scenario.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(s, got, cmpopts.IgnoreUnexported(scenario.Scenario{}), cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
	if got.RootDir() != dir {
		t.Fatalf("root dir = %q", got.RootDir())
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Fatalf("id %q is not a uuid: %v", got.ID, err)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := scenario.Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing scenario.json")
	}
}

func TestValidate(t *testing.T) {
	s := scenario.New("x", "", t.TempDir())
	if err := s.Validate(); err == nil {
		t.Fatal("expected error without entities")
	}
	s.Request.Entities = []string{"S1"}
	if err := s.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	s.Objective = "fastest"
	if err := s.Validate(); err == nil {
		t.Fatal("expected objective error")
	}
	s.Objective = "loadmax"
	s.Variant = "milp"
	if err := s.Validate(); err == nil {
		t.Fatal("expected variant error")
	}
}

func TestSpecAndParams(t *testing.T) {
	dir := t.TempDir()
	s := scenario.New("x", "", dir)
	spec, err := s.Spec()
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	if spec.Objective.Expression != string(model.ExprTotalCost) {
		t.Fatalf("default objective = %+v", spec.Objective)
	}
	if diff := cmp.Diff(map[string]float64{model.ParamTargetPercent: 5}, s.Params()); diff != "" {
		t.Fatalf("params (-want +got):\n%s", diff)
	}

	s.Objective = "loadmax"
	s.Target = 1e6
	if diff := cmp.Diff(map[string]float64{model.ParamCostUpperBound: 1e6}, s.Params()); diff != "" {
		t.Fatalf("params (-want +got):\n%s", diff)
	}

	yml := []byte("variant: lp\nobjective: {name: m, sense: max, expression: percent_reduction}\nconstraints:\n  - {name: budget, bound: upper, bound_param: cost_upper_bound, expression: total_cost}\n")
	if err := os.WriteFile(filepath.Join(dir, "model.yaml"), yml, 0o644); err != nil {
		t.Fatal(err)
	}
	s.SpecFile = "model.yaml"
	spec, err = s.Spec()
	if err != nil {
		t.Fatalf("spec file: %v", err)
	}
	if spec.Variant != model.VariantLP || spec.Objective.Name != "m" {
		t.Fatalf("spec from file = %+v", spec)
	}
}

func TestRecordRunAndList(t *testing.T) {
	root := t.TempDir()
	a := scenario.New("b-second", "", filepath.Join(root, "b"))
	b := scenario.New("a-first", "", filepath.Join(root, "a"))
	for _, s := range []*scenario.Scenario{a, b} {
		if err := s.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "not-a-scenario"), 0o755); err != nil {
		t.Fatal(err)
	}

	f := table.New("result", "bmp", "acres")
	if err := f.Append("b1", "10"); err != nil {
		t.Fatal(err)
	}
	run := &scenario.Run{Kind: scenario.KindSingle, Solver: "slp", Status: "optimal", Feasible: true, Objective: 100}
	if err := a.RecordRun(run, f); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := uuid.Parse(run.ID); err != nil {
		t.Fatalf("run id %q: %v", run.ID, err)
	}
	if run.ResultFile != filepath.Join("results", run.ID+".csv") {
		t.Fatalf("result file = %q", run.ResultFile)
	}
	back, err := table.ReadFile(a.ResultPath(run.ID))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if back.Value(0, "bmp") != "b1" {
		t.Fatalf("result row = %v", back.Row(0))
	}
	if err := a.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := scenario.List(root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, s := range all {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"a-first", "b-second"}, names); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	if last := all[1].LastRun(); last == nil || last.ID != run.ID {
		t.Fatalf("last run = %+v", last)
	}
	if none, err := scenario.List(filepath.Join(root, "missing")); err != nil || none != nil {
		t.Fatalf("missing dir: %v %v", none, err)
	}
}
