package repository

import "sort"

// Reference table names.
const (
	TablePollutant            = "pollutant"
	TableCounty               = "county"
	TableLandRiverSegment     = "landriversegment"
	TableAgency               = "agency"
	TableLoadSource           = "loadsource"
	TableLoadSourceGroupComps = "loadsourcegroupcomponents"
	TableSourceGroupOneSource = "sourcegrouponesource"
	TableBMP                  = "bmp"
	TableBMPGroup             = "bmpgroup"
	TableBMPType              = "bmptype"
	TableBMPEfficiency        = "bmpefficiency"
	TableBMPSourceConversion  = "bmpsourceconversion"
	TableBMPLoadReduction     = "bmploadreduction"
	TableBMPAnimal            = "bmpanimal"
	TableBMPCost              = "bmpcost"
	TableLoadingRate          = "loadingrate"
	TableLandUseArea          = "landusearea"
)

// schema lists the columns each table must carry. Extra columns are kept.
var schema = map[string][]string{
	TablePollutant:            {"pollutantid", "pollutant"},
	TableCounty:               {"countyid", "countyname", "stateabbreviation"},
	TableLandRiverSegment:     {"lrsegid", "landriversegment", "countyid", "totalacres"},
	TableAgency:               {"agencyid", "agencycode"},
	TableLoadSource:           {"loadsourceid", "loadsource"},
	TableLoadSourceGroupComps: {"loadsourcegroupid", "loadsourceid"},
	TableSourceGroupOneSource: {"loadsourcegroupid", "loadsourceid"},
	TableBMP:                  {"bmpid", "bmpshortname", "bmpgroupid"},
	TableBMPGroup:             {"bmpgroupid", "bmpgroupname"},
	TableBMPType:              {"bmptypeid", "bmptype"},
	TableBMPEfficiency:        {"bmpid", "lrsegid", "loadsourceid", "pollutantid", "effectiveness"},
	TableBMPSourceConversion:  {"bmpid"},
	TableBMPLoadReduction:     {"bmpid"},
	TableBMPAnimal:            {"bmpid"},
	TableBMPCost:              {"bmpid", "costperunit"},
	TableLoadingRate:          {"lrsegid", "loadsourceid", "agencyid", "pollutantid", "baseyear", "loadingrate"},
	TableLandUseArea:          {"lrsegid", "loadsourceid", "agencyid", "acres"},
}

var optional = map[string]bool{
	TableSourceGroupOneSource: true,
	TableBMPType:              true,
	TableBMPSourceConversion:  true,
	TableBMPLoadReduction:     true,
	TableBMPAnimal:            true,
}

// KnownTables returns every reference table name in sorted order.
func KnownTables() []string {
	out := make([]string, 0, len(schema))
	for name := range schema {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Optional reports whether a table may be absent from a source.
func Optional(name string) bool { return optional[name] }

// RequiredColumns returns the columns a table must carry.
func RequiredColumns(name string) []string { return schema[name] }
