package dataset

import (
	"fmt"

	"github.com/KaramelBytes/bmpopt/internal/mapper"
	"github.com/KaramelBytes/bmpopt/internal/repository"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

// idLabels lists the identifier columns LabelIDs knows how to name.
var idLabels = []struct {
	id, table, name string
}{
	{"lrsegid", repository.TableLandRiverSegment, "landriversegment"},
	{"loadsourceid", repository.TableLoadSource, "loadsource"},
	{"agencyid", repository.TableAgency, "agencycode"},
	{"bmpid", repository.TableBMP, "bmpshortname"},
	{"bmpgroupid", repository.TableBMPGroup, "bmpgroupname"},
	{"pollutantid", repository.TablePollutant, "pollutant"},
}

// LabelIDs returns a copy of f with each known identifier column replaced,
// in place, by the matching name column of its reference table. Columns
// whose name is already present are left alone. Every id must name exactly
// one reference row.
func LabelIDs(tables Tables, f *table.Frame) (*table.Frame, error) {
	cols := f.Columns()
	names := map[int][]string{}
	for _, l := range idLabels {
		if !f.Has(l.id) || f.Has(l.name) || !tables.Has(l.table) {
			continue
		}
		ref, err := tables.Table(l.table)
		if err != nil {
			return nil, err
		}
		tr, err := mapper.TranslateFrame(f, l.id, ref, l.id, l.name, mapper.Single)
		if err != nil {
			return nil, fmt.Errorf("label %s.%s: %w", f.Name, l.id, err)
		}
		vals, _ := tr.Column(l.name)
		for j, c := range cols {
			if c == l.id {
				cols[j] = l.name
				names[j] = vals
			}
		}
	}
	out := table.New(f.Name, cols...)
	for i := 0; i < f.Len(); i++ {
		row := f.Row(i)
		for j, vals := range names {
			row[j] = vals[i]
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}
