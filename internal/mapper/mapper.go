// Package mapper translates identifiers between columns of reference tables
// and joins columns from one table onto another.
package mapper

import (
	"fmt"
	"sort"

	"github.com/KaramelBytes/bmpopt/internal/table"
)

// Multiplicity selects how many outputs a translated value may have.
type Multiplicity int

const (
	// Single requires exactly one output per input value.
	Single Multiplicity = iota
	// ToDict groups every output under its input value.
	ToDict
	// ToFlattenedSet returns the sorted union of all outputs.
	ToFlattenedSet
)

func (m Multiplicity) String() string {
	switch m {
	case Single:
		return "single"
	case ToDict:
		return "toDict"
	case ToFlattenedSet:
		return "toFlattenedSet"
	default:
		return fmt.Sprintf("multiplicity(%d)", int(m))
	}
}

// UnmappedValueError is returned under Single when a value has no row in the reference table.
type UnmappedValueError struct {
	Table string
	From  string
	To    string
	Value string
}

func (e *UnmappedValueError) Error() string {
	return fmt.Sprintf("%s: value %q of %s has no %s", e.Table, e.Value, e.From, e.To)
}

// DuplicateMappingError is returned under Single when a value maps to more than one target.
type DuplicateMappingError struct {
	Table   string
	From    string
	To      string
	Value   string
	Targets []string
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("%s: value %q of %s maps to %d values of %s %v", e.Table, e.Value, e.From, len(e.Targets), e.To, e.Targets)
}

// Translation holds the result of Translate. Only the field matching the
// requested multiplicity is populated.
type Translation struct {
	// Values is aligned with the input sequence (Single).
	Values []string
	// Dict maps each mapped input to its outputs in reference order (ToDict).
	Dict map[string][]string
	// Set is the sorted, de-duplicated union of outputs (ToFlattenedSet).
	Set []string
}

// lookup indexes ref by from, keeping distinct targets in reference-row order.
func lookup(ref *table.Frame, from, to string) (map[string][]string, error) {
	if err := ref.Require(from, to); err != nil {
		return nil, err
	}
	keys, _ := ref.Column(from)
	vals, _ := ref.Column(to)
	out := make(map[string][]string, len(keys))
	for i, k := range keys {
		dup := false
		for _, v := range out[k] {
			if v == vals[i] {
				dup = true
				break
			}
		}
		if !dup {
			out[k] = append(out[k], vals[i])
		}
	}
	return out, nil
}

// Translate maps values from one column of ref to another.
func Translate(values []string, ref *table.Frame, from, to string, m Multiplicity) (Translation, error) {
	idx, err := lookup(ref, from, to)
	if err != nil {
		return Translation{}, err
	}
	switch m {
	case Single:
		out := make([]string, len(values))
		for i, v := range values {
			targets := idx[v]
			switch len(targets) {
			case 0:
				return Translation{}, &UnmappedValueError{Table: ref.Name, From: from, To: to, Value: v}
			case 1:
				out[i] = targets[0]
			default:
				return Translation{}, &DuplicateMappingError{Table: ref.Name, From: from, To: to, Value: v, Targets: targets}
			}
		}
		return Translation{Values: out}, nil
	case ToDict:
		out := make(map[string][]string, len(values))
		for _, v := range values {
			if targets, ok := idx[v]; ok {
				out[v] = append([]string(nil), targets...)
			}
		}
		return Translation{Dict: out}, nil
	case ToFlattenedSet:
		seen := map[string]struct{}{}
		var out []string
		for _, v := range values {
			for _, t := range idx[v] {
				if _, dup := seen[t]; dup {
					continue
				}
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
		sort.Strings(out)
		return Translation{Set: out}, nil
	default:
		return Translation{}, fmt.Errorf("unknown multiplicity %v", m)
	}
}

// SingleValues is Translate with Single multiplicity.
func SingleValues(values []string, ref *table.Frame, from, to string) ([]string, error) {
	tr, err := Translate(values, ref, from, to, Single)
	return tr.Values, err
}

// Dict is Translate with ToDict multiplicity.
func Dict(values []string, ref *table.Frame, from, to string) (map[string][]string, error) {
	tr, err := Translate(values, ref, from, to, ToDict)
	return tr.Dict, err
}

// FlattenedSet is Translate with ToFlattenedSet multiplicity.
func FlattenedSet(values []string, ref *table.Frame, from, to string) ([]string, error) {
	tr, err := Translate(values, ref, from, to, ToFlattenedSet)
	return tr.Set, err
}

// TranslateFrame translates one column of a frame and returns a frame.
// Single yields one column named to, aligned with in. ToDict yields (from, to)
// pair rows. ToFlattenedSet yields one column of sorted unique values.
// An empty column name is allowed when in has exactly one column.
func TranslateFrame(in *table.Frame, column string, ref *table.Frame, from, to string, m Multiplicity) (*table.Frame, error) {
	if column == "" {
		cols := in.Columns()
		if len(cols) != 1 {
			return nil, fmt.Errorf("%s: column name required for a %d-column table", in.Name, len(cols))
		}
		column = cols[0]
	}
	values, err := in.Column(column)
	if err != nil {
		return nil, err
	}
	tr, err := Translate(values, ref, from, to, m)
	if err != nil {
		return nil, err
	}
	switch m {
	case Single:
		out := table.New(in.Name, to)
		for _, v := range tr.Values {
			_ = out.Append(v)
		}
		return out, nil
	case ToDict:
		out := table.New(in.Name, from, to)
		for _, v := range distinct(values) {
			for _, t := range tr.Dict[v] {
				_ = out.Append(v, t)
			}
		}
		return out, nil
	default:
		out := table.New(in.Name, to)
		for _, v := range tr.Set {
			_ = out.Append(v)
		}
		return out, nil
	}
}

func distinct(values []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
