package mapper

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/bmpopt/internal/table"
)

// JoinOptions tunes JoinAppend.
type JoinOptions struct {
	// PreserveInputOrder emits rows in base-table order instead of reference order.
	PreserveInputOrder bool
	// Strict requires every base key to match exactly one distinct reference
	// row. Identical reference rows collapse into one. Strict implies
	// PreserveInputOrder.
	Strict bool
}

// JoinAppend inner-joins base with ref on the on column and appends appendCols
// from ref. Base rows whose key is absent from ref are dropped, unless Strict
// is set, which returns an *UnmappedValueError instead.
func JoinAppend(base, ref *table.Frame, on string, appendCols []string, opt JoinOptions) (*table.Frame, error) {
	if err := base.Require(on); err != nil {
		return nil, err
	}
	if err := ref.Require(append([]string{on}, appendCols...)...); err != nil {
		return nil, err
	}
	cols := base.Columns()
	for _, c := range appendCols {
		if base.Has(c) {
			return nil, fmt.Errorf("join %s with %s: column %q already present", base.Name, ref.Name, table.NormalizeHeader(c))
		}
		cols = append(cols, c)
	}
	out := table.New(base.Name, cols...)

	baseKeys, _ := base.Column(on)
	refKeys, _ := ref.Column(on)
	emit := func(bi, ri int) {
		row := base.Row(bi)
		for _, c := range appendCols {
			row = append(row, ref.Value(ri, c))
		}
		_ = out.Append(row...)
	}
	if opt.Strict {
		byKey, err := distinctRows(ref, refKeys, on, appendCols)
		if err != nil {
			return nil, err
		}
		for bi, k := range baseKeys {
			ri, ok := byKey[k]
			if !ok {
				return nil, &UnmappedValueError{Table: ref.Name, From: on, To: strings.Join(appendCols, ","), Value: k}
			}
			emit(bi, ri)
		}
		return out, nil
	}
	if opt.PreserveInputOrder {
		byKey := make(map[string][]int, len(refKeys))
		for ri, k := range refKeys {
			byKey[k] = append(byKey[k], ri)
		}
		for bi, k := range baseKeys {
			for _, ri := range byKey[k] {
				emit(bi, ri)
			}
		}
		return out, nil
	}
	byKey := make(map[string][]int, len(baseKeys))
	for bi, k := range baseKeys {
		byKey[k] = append(byKey[k], bi)
	}
	for ri, k := range refKeys {
		for _, bi := range byKey[k] {
			emit(bi, ri)
		}
	}
	return out, nil
}

// distinctRows indexes ref by key to its first row, failing when a key has
// rows that disagree on any of cols.
func distinctRows(ref *table.Frame, keys []string, on string, cols []string) (map[string]int, error) {
	first := make(map[string]int, len(keys))
	for ri, k := range keys {
		fi, seen := first[k]
		if !seen {
			first[k] = ri
			continue
		}
		for _, c := range cols {
			if a, b := ref.Value(fi, c), ref.Value(ri, c); a != b {
				return nil, &DuplicateMappingError{Table: ref.Name, From: on, To: c, Value: k, Targets: []string{a, b}}
			}
		}
	}
	return first, nil
}
