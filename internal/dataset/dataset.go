// Package dataset assembles the sets and parameters of one optimization
// request from the normalized reference tables.
package dataset

import (
	"sort"
)

// Request identifies one (geography, baseline year, agency) data set.
type Request struct {
	Scale        string   `json:"scale" yaml:"scale" mapstructure:"scale"`
	Entities     []string `json:"entities" yaml:"entities" mapstructure:"entities"`
	BaselineYear int      `json:"baseline_year" yaml:"baseline_year" mapstructure:"baseline_year"`
	// Agencies are agency codes; empty means every agency.
	Agencies []string `json:"agencies,omitempty" yaml:"agencies,omitempty" mapstructure:"agencies"`
}

// Parcel is the (land segment, load source, agency) unit that carries area and load.
type Parcel struct {
	Segment    string `json:"segment"`
	LoadSource string `json:"loadsource"`
	Agency     string `json:"agency"`
}

func (p Parcel) String() string { return p.Segment + "|" + p.LoadSource + "|" + p.Agency }

// BMPSource links a BMP to a load source it is effective on.
type BMPSource struct {
	BMP        string `json:"bmp"`
	LoadSource string `json:"loadsource"`
}

// GroupSource links a BMP group to a load source one of its members is effective on.
type GroupSource struct {
	Group      string `json:"group"`
	LoadSource string `json:"loadsource"`
}

// EtaKey indexes effectiveness.
type EtaKey struct {
	BMP        string
	Segment    string
	LoadSource string
	Pollutant  string
}

// PhiKey indexes base loading rates.
type PhiKey struct {
	Parcel    Parcel
	Pollutant string
}

// Dataset is the immutable output of an Assembler. Every slice is sorted.
type Dataset struct {
	Request     Request
	Pollutants  []string
	Segments    []string
	LoadSources []string
	Agencies    []string
	BMPs        []string
	Groups      []string
	Parcels     []Parcel

	// Grouping maps each BMP to its single group.
	Grouping         map[string]string
	BMPSourceLinks   []BMPSource
	GroupSourceLinks []GroupSource

	Tau   map[string]float64
	Eta   map[EtaKey]float64
	Phi   map[PhiKey]float64
	Alpha map[Parcel]float64
}

// Eff returns eta for a BMP on a parcel, zero when no record exists.
func (d *Dataset) Eff(bmp string, p Parcel, pollutant string) float64 {
	return d.Eta[EtaKey{BMP: bmp, Segment: p.Segment, LoadSource: p.LoadSource, Pollutant: pollutant}]
}

// Rate returns phi for a parcel, zero when no record exists.
func (d *Dataset) Rate(p Parcel, pollutant string) float64 {
	return d.Phi[PhiKey{Parcel: p, Pollutant: pollutant}]
}

// LinkedBMPs returns the BMPs linked to a load source, sorted.
func (d *Dataset) LinkedBMPs(loadSource string) []string {
	var out []string
	for _, l := range d.BMPSourceLinks {
		if l.LoadSource == loadSource {
			out = append(out, l.BMP)
		}
	}
	sort.Strings(out)
	return out
}

// ApplicableGroups returns the groups linked to a load source with their
// linked member BMPs, groups in sorted order.
func (d *Dataset) ApplicableGroups(loadSource string) ([]string, map[string][]string) {
	members := map[string][]string{}
	for _, b := range d.LinkedBMPs(loadSource) {
		g := d.Grouping[b]
		members[g] = append(members[g], b)
	}
	groups := make([]string, 0, len(members))
	for g := range members {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, members
}

// OriginalLoad returns sum over parcels of phi*alpha for a pollutant.
func (d *Dataset) OriginalLoad(pollutant string) float64 {
	var total float64
	for _, p := range d.Parcels {
		total += d.Rate(p, pollutant) * d.Alpha[p]
	}
	return total
}

func sortParcels(ps []Parcel) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Segment != b.Segment {
			return a.Segment < b.Segment
		}
		if a.LoadSource != b.LoadSource {
			return a.LoadSource < b.LoadSource
		}
		return a.Agency < b.Agency
	})
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func setOf(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
