package dataset

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/KaramelBytes/bmpopt/internal/mapper"
	"github.com/KaramelBytes/bmpopt/internal/repository"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

// BMP type names.
const (
	TypeEfficiency       = "efficiency"
	TypeSourceConversion = "sourceconversion"
	TypeLoadReduction    = "loadreduction"
	TypeAnimal           = "animal"
)

// typeTables lists the tables whose membership marks a BMP's type.
var typeTables = []struct {
	table string
	kind  string
}{
	{repository.TableBMPEfficiency, TypeEfficiency},
	{repository.TableBMPSourceConversion, TypeSourceConversion},
	{repository.TableBMPLoadReduction, TypeLoadReduction},
	{repository.TableBMPAnimal, TypeAnimal},
}

// normalizeType folds "Source Conversion", "source_conversion" and the like
// into the type names above.
func normalizeType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// bmpTypes classifies every BMP by id.
func (a *Assembler) bmpTypes() (map[string]string, error) {
	bmps, err := a.tables.Table(repository.TableBMP)
	if err != nil {
		return nil, err
	}
	member := map[string][]string{}
	for _, tt := range typeTables {
		if !a.tables.Has(tt.table) {
			continue
		}
		f, err := a.tables.Table(tt.table)
		if err != nil {
			return nil, err
		}
		for _, id := range f.Distinct("bmpid") {
			member[id] = append(member[id], tt.kind)
		}
	}
	fallback := map[string]string{}
	if a.tables.Has(repository.TableBMPType) {
		types, err := a.tables.Table(repository.TableBMPType)
		if err != nil {
			return nil, err
		}
		for i := 0; i < types.Len(); i++ {
			fallback[types.Value(i, "bmptypeid")] = normalizeType(types.Value(i, "bmptype"))
		}
	}

	out := make(map[string]string, bmps.Len())
	for i := 0; i < bmps.Len(); i++ {
		id, name := bmps.Value(i, "bmpid"), bmps.Value(i, "bmpshortname")
		kinds := member[id]
		switch {
		case len(kinds) > 1:
			return nil, &AmbiguousBMPTypeError{BMP: name, Types: kinds}
		case len(kinds) == 1:
			out[id] = kinds[0]
		default:
			kind := fallback[bmps.Value(i, "bmptypeid")]
			if kind == "" {
				return nil, &MissingBMPTypeError{BMP: name}
			}
			out[id] = kind
		}
	}
	return out, nil
}

// meanCosts aggregates bmpcost rows by mean per BMP id.
func (a *Assembler) meanCosts() (map[string]float64, error) {
	costs, err := a.tables.Table(repository.TableBMPCost)
	if err != nil {
		return nil, err
	}
	acc := map[string]*mean{}
	for i := 0; i < costs.Len(); i++ {
		v, err := costs.Float(i, "costperunit")
		if err != nil {
			return nil, err
		}
		id := costs.Value(i, "bmpid")
		if acc[id] == nil {
			acc[id] = &mean{}
		}
		acc[id].add(v)
	}
	out := make(map[string]float64, len(acc))
	for id, m := range acc {
		out[id] = m.value()
	}
	return out, nil
}

// bmpIDs selects efficiency-type BMPs that are not excluded, have a
// non-negative unit cost, and are effective on an eligible load source
// within the segments.
func (a *Assembler) bmpIDs(sc scope) ([]string, error) {
	types, err := a.bmpTypes()
	if err != nil {
		return nil, err
	}
	costs, err := a.meanCosts()
	if err != nil {
		return nil, err
	}
	eff, err := a.tables.Table(repository.TableBMPEfficiency)
	if err != nil {
		return nil, err
	}
	linked := map[string]bool{}
	for _, i := range matching(eff, map[string]map[string]bool{"lrsegid": sc.segs, "loadsourceid": sc.sources}) {
		linked[eff.Value(i, "bmpid")] = true
	}

	bmps, err := a.tables.Table(repository.TableBMP)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for i := 0; i < bmps.Len(); i++ {
		id, name := bmps.Value(i, "bmpid"), bmps.Value(i, "bmpshortname")
		if seen[id] || types[id] != TypeEfficiency || !linked[id] {
			continue
		}
		seen[id] = true
		if a.excluded[name] {
			a.log.Debug("bmp excluded by configuration", zap.String("bmp", name))
			continue
		}
		cost, ok := costs[id]
		if !ok {
			a.log.Warn("bmp has no unit cost; excluded", zap.String("bmp", name))
			continue
		}
		if cost < 0 {
			a.log.Info("bmp has negative unit cost; excluded", zap.String("bmp", name), zap.Float64("cost", cost))
			continue
		}
		if bmps.Value(i, "bmpgroupid") == "" {
			a.log.Warn("bmp has no group; excluded", zap.String("bmp", name))
			continue
		}
		out = append(out, id)
	}
	sortIDs(out)
	return out, nil
}

// grouping returns sorted BMP names and the BMP name to group name map.
// Names and groups are joined onto the id list, so every id needs exactly
// one bmp row and every group id exactly one bmpgroup row.
func (a *Assembler) grouping(bmpIDs []string) ([]string, map[string]string, error) {
	bmps, err := a.tables.Table(repository.TableBMP)
	if err != nil {
		return nil, nil, err
	}
	groups, err := a.tables.Table(repository.TableBMPGroup)
	if err != nil {
		return nil, nil, err
	}
	ids := table.New(repository.TableBMP, "bmpid")
	for _, id := range bmpIDs {
		if err := ids.Append(id); err != nil {
			return nil, nil, err
		}
	}
	strict := mapper.JoinOptions{Strict: true}
	named, err := mapper.JoinAppend(ids, bmps, "bmpid", []string{"bmpshortname", "bmpgroupid"}, strict)
	if err != nil {
		return nil, nil, err
	}
	grouped, err := mapper.JoinAppend(named, groups, "bmpgroupid", []string{"bmpgroupname"}, strict)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bmp groups: %w", err)
	}
	names, _ := grouped.Column("bmpshortname")
	groupNames, _ := grouped.Column("bmpgroupname")
	grouping := make(map[string]string, len(names))
	for i, n := range names {
		grouping[n] = groupNames[i]
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return sorted, grouping, nil
}

func groupsOf(grouping map[string]string) []string {
	set := map[string]bool{}
	for _, g := range grouping {
		set[g] = true
	}
	return sortedKeys(set)
}

// links collects distinct (bmp, load source) pairs with an effectiveness
// record in scope, and the group links they imply.
func (a *Assembler) links(sc scope, grouping map[string]string) ([]BMPSource, []GroupSource, error) {
	eff, err := a.tables.Table(repository.TableBMPEfficiency)
	if err != nil {
		return nil, nil, err
	}
	rows := matching(eff, map[string]map[string]bool{
		"lrsegid":      sc.segs,
		"loadsourceid": sc.sources,
		"bmpid":        sc.bmps,
	})
	pairs := distinctPairs(rows, func(i int) (string, string) {
		return eff.Value(i, "bmpid"), eff.Value(i, "loadsourceid")
	})
	var bmpIDs, lsIDs []string
	for _, p := range pairs {
		bmpIDs = append(bmpIDs, p[0])
		lsIDs = append(lsIDs, p[1])
	}
	bmpName, err := a.nameIndex(repository.TableBMP, "bmpid", "bmpshortname", bmpIDs)
	if err != nil {
		return nil, nil, err
	}
	lsName, err := a.nameIndex(repository.TableLoadSource, "loadsourceid", "loadsource", lsIDs)
	if err != nil {
		return nil, nil, err
	}
	var bmpLinks []BMPSource
	groupSeen := map[GroupSource]bool{}
	var groupLinks []GroupSource
	for _, p := range pairs {
		b, ls := bmpName[p[0]], lsName[p[1]]
		bmpLinks = append(bmpLinks, BMPSource{BMP: b, LoadSource: ls})
		gl := GroupSource{Group: grouping[b], LoadSource: ls}
		if !groupSeen[gl] {
			groupSeen[gl] = true
			groupLinks = append(groupLinks, gl)
		}
	}
	sort.Slice(bmpLinks, func(i, j int) bool {
		if bmpLinks[i].BMP != bmpLinks[j].BMP {
			return bmpLinks[i].BMP < bmpLinks[j].BMP
		}
		return bmpLinks[i].LoadSource < bmpLinks[j].LoadSource
	})
	sort.Slice(groupLinks, func(i, j int) bool {
		if groupLinks[i].Group != groupLinks[j].Group {
			return groupLinks[i].Group < groupLinks[j].Group
		}
		return groupLinks[i].LoadSource < groupLinks[j].LoadSource
	})
	return bmpLinks, groupLinks, nil
}

// distinctPairs returns the distinct pairs produced by key over rows, in first-seen order.
func distinctPairs(rows []int, key func(i int) (string, string)) [][2]string {
	seen := map[[2]string]bool{}
	var out [][2]string
	for _, i := range rows {
		a, b := key(i)
		k := [2]string{a, b}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
