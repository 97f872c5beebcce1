// Package scenario persists named optimization scenarios and their run history.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/bmpopt/internal/dataset"
	"github.com/KaramelBytes/bmpopt/internal/model"
	"github.com/KaramelBytes/bmpopt/internal/table"
	"github.com/KaramelBytes/bmpopt/internal/utils"
)

const resultsDirName = "results"

// Scenario is an optimization request persisted on disk as scenario.json.
type Scenario struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Request         dataset.Request `json:"request"`
	Objective       string          `json:"objective"`
	Aggregation     string          `json:"aggregation"`
	Variant         model.Variant   `json:"variant"`
	TargetPollutant string          `json:"target_pollutant"`
	Target          float64         `json:"target"`
	SpecFile        string          `json:"spec_file,omitempty"`
	Solver          string          `json:"solver,omitempty"`
	Runs            []*Run          `json:"runs"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	rootDir string
}

// New constructs an in-memory cost-minimization scenario. Call Save to persist.
func New(name, description, rootDir string) *Scenario {
	now := time.Now()
	return &Scenario{
		ID:              uuid.NewString(),
		Name:            name,
		Description:     description,
		Request:         dataset.Request{Scale: "county", BaselineYear: 2010},
		Objective:       model.CostMin.String(),
		Aggregation:     model.Aggregate.String(),
		Variant:         model.VariantNLP,
		TargetPollutant: "N",
		Target:          5,
		CreatedAt:       now,
		UpdatedAt:       now,
		rootDir:         rootDir,
	}
}

// Load reads scenario.json from dir.
func Load(dir string) (*Scenario, error) {
	path := filepath.Join(dir, utils.ScenarioFile)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("scenario not found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	s.rootDir = dir
	return &s, nil
}

// List loads every scenario stored in a direct subdirectory of dir, by name.
// A missing dir holds no scenarios.
func List(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(sub, utils.ScenarioFile)); err != nil {
			continue
		}
		s, err := Load(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RootDir returns the scenario directory.
func (s *Scenario) RootDir() string { return s.rootDir }

// Save writes scenario.json atomically.
func (s *Scenario) Save() error {
	if s.rootDir == "" {
		return errors.New("scenario root directory not set")
	}
	if err := utils.EnsureDir(s.rootDir); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	s.UpdatedAt = time.Now()
	data, err := utils.PrettyJSON(s)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(filepath.Join(s.rootDir, utils.ScenarioFile), data)
}

// Validate checks the fields a run depends on.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("scenario name is empty")
	}
	if len(s.Request.Entities) == 0 {
		return errors.New("scenario has no geography entities")
	}
	if s.TargetPollutant == "" {
		return errors.New("scenario has no target pollutant")
	}
	if _, err := model.ParseObjectiveVariant(s.Objective); err != nil {
		return err
	}
	if _, err := model.ParseAggregation(s.Aggregation); err != nil {
		return err
	}
	if _, err := model.ParseVariant(string(s.Variant)); err != nil {
		return err
	}
	return nil
}

// Spec returns the model spec of the scenario: the YAML spec file when one is
// set (relative paths resolve against the scenario directory), otherwise the
// default spec for its objective and aggregation.
func (s *Scenario) Spec() (model.Spec, error) {
	if s.SpecFile != "" {
		path := s.SpecFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.rootDir, path)
		}
		return model.LoadSpec(path)
	}
	obj, err := model.ParseObjectiveVariant(s.Objective)
	if err != nil {
		return model.Spec{}, err
	}
	agg, err := model.ParseAggregation(s.Aggregation)
	if err != nil {
		return model.Spec{}, err
	}
	return model.DefaultSpec(obj, agg, s.Variant), nil
}

// TargetParam names the parameter Target binds for the scenario's objective.
func (s *Scenario) TargetParam() string {
	if obj, _ := model.ParseObjectiveVariant(s.Objective); obj == model.LoadMax {
		return model.ParamCostUpperBound
	}
	return model.ParamTargetPercent
}

// Params returns the mutable parameters of a run at the scenario target.
func (s *Scenario) Params() map[string]float64 {
	return map[string]float64{s.TargetParam(): s.Target}
}

// ResultPath returns where the result table of a run is stored.
func (s *Scenario) ResultPath(runID string) string {
	return filepath.Join(s.rootDir, resultsDirName, runID+".csv")
}

// RecordRun writes the result table of a run and appends the run to the
// history. An empty run ID is assigned a new UUID.
func (s *Scenario) RecordRun(r *Run, result *table.Frame) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if result != nil {
		path := s.ResultPath(r.ID)
		if err := table.WriteCSV(path, result); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		rel, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			rel = path
		}
		r.ResultFile = rel
	}
	s.Runs = append(s.Runs, r)
	return nil
}

// LastRun returns the most recent run, or nil.
func (s *Scenario) LastRun() *Run {
	if len(s.Runs) == 0 {
		return nil
	}
	return s.Runs[len(s.Runs)-1]
}
