// Package sample provides small reference-table sets: a demo watershed for
// trying the CLI, and the two-BMP scenario whose optimum is known in closed form.
package sample

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/KaramelBytes/bmpopt/internal/table"
)

type raw map[string][][]string

func build(r raw) map[string]*table.Frame {
	out := make(map[string]*table.Frame, len(r))
	for name, rows := range r {
		f := table.New(name, rows[0]...)
		for _, row := range rows[1:] {
			if err := f.Append(row...); err != nil {
				panic(fmt.Sprintf("sample table %s: %v", name, err))
			}
		}
		out[name] = f
	}
	return out
}

var pollutants = [][]string{
	{"pollutantid", "pollutant", "pollutantname"},
	{"1", "N", "Nitrogen"},
	{"2", "P", "Phosphorus"},
	{"3", "S", "Sediment"},
}

// TwoBMP is one 1000-acre segment with one eligible load source and one BMP
// group holding b1 (cost 10, N efficiency 0.3) and b2 (cost 20, N efficiency 0.6).
func TwoBMP() map[string]*table.Frame {
	return build(raw{
		"pollutant": pollutants,
		"county": {
			{"countyid", "countyname", "stateabbreviation"},
			{"1", "Test", "XX"},
		},
		"landriversegment": {
			{"lrsegid", "landriversegment", "countyid", "totalacres"},
			{"1", "S1", "1", "1000"},
		},
		"agency": {
			{"agencyid", "agencycode", "agencyname"},
			{"1", "NONFED", "Non-Federal"},
		},
		"loadsource": {
			{"loadsourceid", "loadsource", "loadsourceshortname"},
			{"1", "u3", "u3"},
		},
		"loadsourcegroupcomponents": {
			{"loadsourcegroupid", "loadsourceid"},
			{"1", "1"},
		},
		"bmp": {
			{"bmpid", "bmpshortname", "bmpfullname", "bmpgroupid", "bmptypeid"},
			{"1", "b1", "Cheap BMP", "10", "1"},
			{"2", "b2", "Strong BMP", "10", "1"},
		},
		"bmpgroup": {
			{"bmpgroupid", "bmpgroupname"},
			{"10", "G"},
		},
		"bmpefficiency": {
			{"bmpid", "lrsegid", "loadsourceid", "pollutantid", "effectiveness"},
			{"1", "1", "1", "1", "0.3"},
			{"2", "1", "1", "1", "0.6"},
		},
		"bmpcost": {
			{"bmpid", "costperunit"},
			{"1", "10"},
			{"2", "20"},
		},
		"loadingrate": {
			{"lrsegid", "loadsourceid", "agencyid", "pollutantid", "baseyear", "loadingrate"},
			{"1", "1", "1", "1", "2010", "10"},
		},
		"landusearea": {
			{"lrsegid", "loadsourceid", "agencyid", "acres"},
			{"1", "1", "1", "1000"},
		},
	})
}

// Watershed is a two-county demo data set. It carries a zero-area segment, a
// zero-area parcel, a multi-member load-source group, a load source without a
// base rate, a source-conversion BMP and a BMP with negative unit cost.
func Watershed() map[string]*table.Frame {
	return build(raw{
		"pollutant": pollutants,
		"county": {
			{"countyid", "countyname", "stateabbreviation"},
			{"10", "Adams", "PA"},
			{"20", "Kent", "DE"},
		},
		"landriversegment": {
			{"lrsegid", "landriversegment", "countyid", "totalacres"},
			{"1", "N42001PU0_3000_3090", "10", "5000"},
			{"2", "N42001PU2_2790_3290", "10", "0"},
			{"3", "N10001EU0_0000_0001", "20", "3000"},
		},
		"agency": {
			{"agencyid", "agencycode", "agencyname"},
			{"1", "NONFED", "Non-Federal"},
			{"2", "DOD", "Department of Defense"},
		},
		"loadsource": {
			{"loadsourceid", "loadsource", "loadsourceshortname"},
			{"1", "Cropland", "crop"},
			{"2", "Pasture", "pas"},
			{"3", "Urban1", "urb1"},
			{"4", "Urban2", "urb2"},
			{"5", "Turf", "turf"},
			{"6", "Forest", "for"},
		},
		"loadsourcegroupcomponents": {
			{"loadsourcegroupid", "loadsourceid"},
			{"101", "1"},
			{"102", "2"},
			{"103", "3"},
			{"103", "4"},
			{"105", "5"},
			{"106", "6"},
		},
		"bmp": {
			{"bmpid", "bmpshortname", "bmpfullname", "bmpgroupid", "bmptypeid"},
			{"1", "CoverCrop", "Cover Crops", "201", "1"},
			{"2", "NutMan", "Nutrient Management", "202", "1"},
			{"3", "Buffer", "Riparian Forest Buffer", "201", "1"},
			{"4", "ForestPlant", "Forest Planting", "203", "2"},
			{"5", "UrbStorm", "Urban Stormwater", "204", "1"},
			{"6", "Credit", "Credit Practice", "202", "1"},
		},
		"bmpgroup": {
			{"bmpgroupid", "bmpgroupname"},
			{"201", "CoverAndBuffer"},
			{"202", "Nutrient"},
			{"203", "Conversion"},
			{"204", "Stormwater"},
		},
		"bmptype": {
			{"bmptypeid", "bmptype"},
			{"1", "efficiency"},
			{"2", "sourceconversion"},
		},
		"bmpsourceconversion": {
			{"bmpid", "fromloadsourceid", "toloadsourceid"},
			{"4", "1", "6"},
		},
		"bmpefficiency": {
			{"bmpid", "lrsegid", "loadsourceid", "pollutantid", "effectiveness"},
			{"1", "1", "1", "1", "0.30"},
			{"1", "1", "1", "2", "0.10"},
			{"1", "1", "1", "3", "0.05"},
			{"1", "3", "1", "1", "0.25"},
			{"1", "3", "1", "2", "0.10"},
			{"1", "3", "1", "3", "0.05"},
			{"3", "1", "1", "1", "0.40"},
			{"3", "1", "1", "2", "0.30"},
			{"3", "1", "1", "3", "0.50"},
			{"3", "3", "1", "1", "0.35"},
			{"3", "3", "1", "2", "0.30"},
			{"3", "3", "1", "3", "0.45"},
			{"2", "1", "1", "1", "0.15"},
			{"2", "1", "1", "2", "0.20"},
			{"2", "1", "2", "1", "0.10"},
			{"2", "1", "2", "2", "0.15"},
			{"2", "3", "1", "1", "0.15"},
			{"2", "3", "1", "2", "0.20"},
			{"5", "1", "5", "1", "0.20"},
			{"5", "1", "5", "2", "0.40"},
			{"5", "1", "5", "3", "0.60"},
			{"5", "1", "3", "1", "0.20"},
			{"6", "1", "1", "1", "0.50"},
		},
		"bmpcost": {
			{"bmpid", "costperunit"},
			{"1", "45"},
			{"1", "55"},
			{"2", "12"},
			{"3", "120"},
			{"4", "80"},
			{"5", "300"},
			{"6", "-5"},
		},
		"loadingrate": {
			{"lrsegid", "loadsourceid", "agencyid", "pollutantid", "baseyear", "loadingrate"},
			{"1", "1", "1", "1", "2010", "20"},
			{"1", "1", "1", "2", "2010", "1.5"},
			{"1", "1", "1", "3", "2010", "800"},
			{"1", "1", "1", "1", "2015", "18"},
			{"1", "1", "2", "1", "2010", "18"},
			{"1", "1", "2", "2", "2010", "1.2"},
			{"1", "1", "2", "3", "2010", "700"},
			{"1", "2", "1", "1", "2010", "10"},
			{"1", "2", "1", "2", "2010", "0.8"},
			{"1", "2", "1", "3", "2010", "400"},
			{"1", "5", "1", "1", "2010", "12"},
			{"1", "5", "1", "2", "2010", "0.6"},
			{"1", "5", "1", "3", "2010", "300"},
			{"1", "3", "1", "1", "2010", "9"},
			{"1", "4", "1", "1", "2010", "8"},
			{"3", "1", "1", "1", "2010", "25"},
			{"3", "1", "1", "2", "2010", "2"},
			{"3", "1", "1", "3", "2010", "900"},
			{"3", "2", "1", "1", "2010", "11"},
			{"3", "2", "1", "2", "2010", "0.9"},
			{"3", "2", "1", "3", "2010", "350"},
		},
		"landusearea": {
			{"lrsegid", "loadsourceid", "agencyid", "acres"},
			{"1", "1", "1", "1200"},
			{"1", "1", "2", "0"},
			{"1", "2", "1", "600"},
			{"1", "5", "1", "150"},
			{"1", "3", "1", "80"},
			{"1", "4", "1", "50"},
			{"1", "6", "1", "900"},
			{"2", "1", "1", "10"},
			{"3", "1", "1", "800"},
			{"3", "2", "1", "300"},
		},
	})
}

// Write stores every table as <name>.csv under dir.
func Write(dir string, tables map[string]*table.Frame) error {
	names := make([]string, 0, len(tables))
	for n := range tables {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := table.WriteCSV(filepath.Join(dir, n+".csv"), tables[n]); err != nil {
			return fmt.Errorf("write %s: %w", n, err)
		}
	}
	return nil
}
