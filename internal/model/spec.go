package model

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variant selects the load formula.
type Variant string

const (
	// VariantNLP keeps the multiplicative pass-through product.
	VariantNLP Variant = "nlp"
	// VariantLP replaces the product by its first-order expansion, making
	// every load expression linear.
	VariantLP Variant = "lp"
)

// Sense is the optimization direction.
type Sense string

const (
	Minimize Sense = "minimize"
	Maximize Sense = "maximize"
)

// BoundType is the side a constraint bounds its expression on.
type BoundType string

const (
	Lower BoundType = "lower"
	Upper BoundType = "upper"
)

// Parameter names used by the default specs.
const (
	ParamTargetPercent  = "target_percent_reduction"
	ParamCostUpperBound = "cost_upper_bound"
)

// ObjectiveSpec names the objective expression.
type ObjectiveSpec struct {
	Name       string `yaml:"name" json:"name"`
	Sense      string `yaml:"sense" json:"sense"`
	Expression string `yaml:"expression" json:"expression"`
	// DeactivateIndices lists index keys ("N", "seg/N") excluded from the
	// objective. When empty every non-target pollutant index is excluded.
	DeactivateIndices []string `yaml:"deactivate_indices,omitempty" json:"deactivate_indices,omitempty"`
}

// ConstraintSpec bounds an expression by a mutable parameter.
type ConstraintSpec struct {
	Name       string `yaml:"name" json:"name"`
	Bound      string `yaml:"bound" json:"bound"`
	BoundParam string `yaml:"bound_param" json:"bound_param"`
	Expression string `yaml:"expression" json:"expression"`
}

// ComponentSpec names an additional expression to attach.
type ComponentSpec struct {
	Name string `yaml:"name" json:"name"`
}

// Spec is the declarative description a Compiler assembles a program from.
type Spec struct {
	Variant         Variant          `yaml:"variant" json:"variant"`
	Objective       ObjectiveSpec    `yaml:"objective" json:"objective"`
	Constraints     []ConstraintSpec `yaml:"constraints" json:"constraints"`
	OtherComponents []ComponentSpec  `yaml:"other_components,omitempty" json:"other_components,omitempty"`
}

// ParseSpec decodes a YAML model spec. An empty variant means nlp.
func ParseSpec(data []byte) (Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Spec{}, fmt.Errorf("parse model spec: %w", err)
	}
	if s.Variant == "" {
		s.Variant = VariantNLP
	}
	if _, err := ParseVariant(string(s.Variant)); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// LoadSpec reads a YAML model spec from disk.
func LoadSpec(path string) (Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read model spec: %w", err)
	}
	return ParseSpec(b)
}

// Marshal encodes the spec as YAML.
func (s Spec) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// ParseVariant accepts nlp (the default for an empty string) and lp.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantNLP, "":
		return VariantNLP, nil
	case VariantLP:
		return VariantLP, nil
	default:
		return "", &UnrecognizedVariantError{Variant: s}
	}
}

func parseSense(s string) (Sense, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimize", "min":
		return Minimize, nil
	case "maximize", "max":
		return Maximize, nil
	default:
		return "", &UnrecognizedSenseError{Sense: s}
	}
}

func parseBound(constraint, s string) (BoundType, error) {
	switch BoundType(strings.ToLower(strings.TrimSpace(s))) {
	case Lower:
		return Lower, nil
	case Upper:
		return Upper, nil
	default:
		return "", &UnrecognizedBoundTypeError{Constraint: constraint, Bound: s}
	}
}

// ObjectiveVariant selects one of the two problem families.
type ObjectiveVariant int

const (
	// CostMin minimizes total cost subject to a reduction target.
	CostMin ObjectiveVariant = iota + 1
	// LoadMax maximizes reduction subject to a budget.
	LoadMax
)

func (v ObjectiveVariant) String() string {
	switch v {
	case CostMin:
		return "costmin"
	case LoadMax:
		return "loadmax"
	default:
		return fmt.Sprintf("objective(%d)", int(v))
	}
}

// ParseObjectiveVariant accepts costmin/loadmax and a few spellings of each.
func ParseObjectiveVariant(s string) (ObjectiveVariant, error) {
	switch strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(strings.TrimSpace(s))) {
	case "costmin", "mincost", "cost":
		return CostMin, nil
	case "loadmax", "maxload", "load", "reductionmax":
		return LoadMax, nil
	default:
		return 0, fmt.Errorf("unrecognized objective variant %q (want costmin or loadmax)", s)
	}
}

// Aggregation selects where the reduction target applies under CostMin.
type Aggregation int

const (
	// Aggregate applies the target to the whole geography.
	Aggregate Aggregation = iota + 1
	// PerSegment applies the target to every land segment.
	PerSegment
)

func (a Aggregation) String() string {
	if a == PerSegment {
		return "segment"
	}
	return "total"
}

// ParseAggregation accepts total/aggregate and segment/per-segment.
func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "total", "aggregate", "geography":
		return Aggregate, nil
	case "segment", "per-segment", "per_segment", "lrseg":
		return PerSegment, nil
	default:
		return 0, fmt.Errorf("unrecognized aggregation %q (want total or segment)", s)
	}
}

// DefaultSpec returns the spec for an objective variant and aggregation.
func DefaultSpec(obj ObjectiveVariant, agg Aggregation, variant Variant) Spec {
	if variant == "" {
		variant = VariantNLP
	}
	s := Spec{
		Variant: variant,
		OtherComponents: []ComponentSpec{
			{Name: string(ExprOriginalLoad)},
			{Name: string(ExprNewLoad)},
			{Name: string(ExprPercentReduction)},
		},
	}
	switch obj {
	case LoadMax:
		s.Objective = ObjectiveSpec{Name: "max_reduction", Sense: string(Maximize), Expression: string(ExprPercentReduction)}
		s.Constraints = []ConstraintSpec{{
			Name: "budget", Bound: string(Upper), BoundParam: ParamCostUpperBound, Expression: string(ExprTotalCost),
		}}
	default:
		expr := ExprPercentReduction
		if agg == PerSegment {
			expr = ExprSegmentPercentReduction
		}
		s.Objective = ObjectiveSpec{Name: "min_cost", Sense: string(Minimize), Expression: string(ExprTotalCost)}
		s.Constraints = []ConstraintSpec{{
			Name: "target_reduction", Bound: string(Lower), BoundParam: ParamTargetPercent, Expression: string(expr),
		}}
	}
	return s
}
