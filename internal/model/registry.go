package model

import (
	"sort"
	"strings"
)

// ExpressionID names a registered expression builder.
type ExpressionID string

const (
	ExprTotalCost               ExpressionID = "total_cost"
	ExprOriginalLoad            ExpressionID = "original_load"
	ExprNewLoad                 ExpressionID = "new_load"
	ExprPercentReduction        ExpressionID = "percent_reduction"
	ExprSegmentPercentReduction ExpressionID = "segment_percent_reduction"
)

// builder produces the members of one expression family.
type builder func(c *Compiler) []IndexedExpr

var registry = map[ExpressionID]builder{
	ExprTotalCost:               buildTotalCost,
	ExprOriginalLoad:            buildOriginalLoad,
	ExprNewLoad:                 buildNewLoad,
	ExprPercentReduction:        buildPercentReduction,
	ExprSegmentPercentReduction: buildSegmentPercentReduction,
}

// lookupExpression resolves a spec name to a registered expression.
func lookupExpression(name string) (ExpressionID, error) {
	id := ExpressionID(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := registry[id]; !ok {
		return "", &UnrecognizedExpressionError{Name: name}
	}
	return id, nil
}

// Expressions returns the registered expression ids, sorted.
func Expressions() []ExpressionID {
	out := make([]ExpressionID, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func expressionNames() []string {
	ids := Expressions()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func buildTotalCost(c *Compiler) []IndexedExpr {
	var e Expr
	for i, v := range c.prog.Vars {
		if v.Cost != 0 {
			e.Terms = append(e.Terms, Term{Var: i, Coef: v.Cost})
		}
	}
	return []IndexedExpr{{Expr: e}}
}

func buildOriginalLoad(c *Compiler) []IndexedExpr {
	out := make([]IndexedExpr, 0, len(c.prog.Pollutants))
	for _, p := range c.prog.Pollutants {
		out = append(out, IndexedExpr{Index: []string{p}, Expr: Expr{Constant: originalLoad(c.prog.Parcels, p)}})
	}
	return out
}

func buildNewLoad(c *Compiler) []IndexedExpr {
	out := make([]IndexedExpr, 0, len(c.prog.Pollutants))
	for _, p := range c.prog.Pollutants {
		out = append(out, IndexedExpr{Index: []string{p}, Expr: loadExpr(c.prog.Parcels, p, c.prog.Variant)})
	}
	return out
}

func buildPercentReduction(c *Compiler) []IndexedExpr {
	out := make([]IndexedExpr, 0, len(c.prog.Pollutants))
	for _, p := range c.prog.Pollutants {
		out = append(out, IndexedExpr{Index: []string{p}, Expr: percentExpr(c.prog.Parcels, p, c.prog.Variant)})
	}
	return out
}

func buildSegmentPercentReduction(c *Compiler) []IndexedExpr {
	bySeg := map[string][]ParcelTerm{}
	for _, pt := range c.prog.Parcels {
		bySeg[pt.Parcel.Segment] = append(bySeg[pt.Parcel.Segment], pt)
	}
	var out []IndexedExpr
	for _, seg := range c.ds.Segments {
		for _, p := range c.prog.Pollutants {
			out = append(out, IndexedExpr{Index: []string{seg, p}, Expr: percentExpr(bySeg[seg], p, c.prog.Variant)})
		}
	}
	return out
}

func originalLoad(parcels []ParcelTerm, pollutant string) float64 {
	var total float64
	for _, pt := range parcels {
		total += pt.Base[pollutant]
	}
	return total
}

// loadExpr builds the new load of a pollutant over parcels. A group applies
// only on parcels with non-zero area; its pass-through is
// 1 - sum (x/alpha)*eta over the group's linked BMPs.
func loadExpr(parcels []ParcelTerm, pollutant string, variant Variant) Expr {
	var e Expr
	for _, pt := range parcels {
		base := pt.Base[pollutant]
		if base == 0 {
			continue
		}
		lt := LoadTerm{Base: base}
		if pt.Alpha > zeroArea {
			for _, g := range pt.Groups {
				var terms []Term
				for k, v := range g.Vars {
					if eta := g.Eta[pollutant][k]; eta != 0 {
						terms = append(terms, Term{Var: v, Coef: eta / pt.Alpha})
					}
				}
				if len(terms) > 0 {
					lt.Groups = append(lt.Groups, terms)
				}
			}
		}
		switch {
		case len(lt.Groups) == 0:
			e.Constant += base
		case variant == VariantLP:
			e.Constant += base
			for _, g := range lt.Groups {
				for _, t := range g {
					e.Terms = append(e.Terms, Term{Var: t.Var, Coef: -base * t.Coef})
				}
			}
		default:
			e.Loads = append(e.Loads, lt)
		}
	}
	if len(e.Loads) > 0 {
		e.Scale = 1
	}
	return e
}

// percentExpr is 100*(original-new)/original, and exactly 0 when the
// original load is zero.
func percentExpr(parcels []ParcelTerm, pollutant string, variant Variant) Expr {
	orig := originalLoad(parcels, pollutant)
	if orig == 0 {
		return Expr{}
	}
	return loadExpr(parcels, pollutant, variant).Affine(-100/orig, 100)
}
