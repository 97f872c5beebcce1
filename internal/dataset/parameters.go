package dataset

import (
	"fmt"
	"sort"

	"github.com/KaramelBytes/bmpopt/internal/repository"
)

// mean accumulates an arithmetic mean.
type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) { m.sum += v; m.n++ }

func (m *mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

type idParcel struct{ seg, ls, agency string }

// build resolves links and parameters for a fully scoped request and
// translates every identifier to its name.
func (a *Assembler) build(req Request, sc scope) (*Dataset, error) {
	bmpIDs := sortedKeys(sc.bmps)
	bmpNames, grouping, err := a.grouping(bmpIDs)
	if err != nil {
		return nil, err
	}
	bmpLinks, groupLinks, err := a.links(sc, grouping)
	if err != nil {
		return nil, err
	}

	segName, err := a.nameIndex(repository.TableLandRiverSegment, "lrsegid", "landriversegment", sortedKeys(sc.segs))
	if err != nil {
		return nil, err
	}
	lsName, err := a.nameIndex(repository.TableLoadSource, "loadsourceid", "loadsource", sortedKeys(sc.sources))
	if err != nil {
		return nil, err
	}
	agencyCode, err := a.nameIndex(repository.TableAgency, "agencyid", "agencycode", sortedKeys(sc.agencies))
	if err != nil {
		return nil, err
	}
	bmpName, err := a.nameIndex(repository.TableBMP, "bmpid", "bmpshortname", bmpIDs)
	if err != nil {
		return nil, err
	}
	pollutants, err := a.tables.Table(repository.TablePollutant)
	if err != nil {
		return nil, err
	}
	pollutantName, err := a.nameIndex(repository.TablePollutant, "pollutantid", "pollutant", pollutants.Distinct("pollutantid"))
	if err != nil {
		return nil, err
	}
	parcelOf := func(p idParcel) Parcel {
		return Parcel{Segment: segName[p.seg], LoadSource: lsName[p.ls], Agency: agencyCode[p.agency]}
	}

	ds := &Dataset{
		Request:          req,
		Pollutants:       valuesSorted(pollutantName),
		Segments:         valuesSorted(segName),
		LoadSources:      valuesSorted(lsName),
		Agencies:         valuesSorted(agencyCode),
		BMPs:             bmpNames,
		Groups:           groupsOf(grouping),
		Grouping:         grouping,
		BMPSourceLinks:   bmpLinks,
		GroupSourceLinks: groupLinks,
		Tau:              map[string]float64{},
		Eta:              map[EtaKey]float64{},
		Phi:              map[PhiKey]float64{},
		Alpha:            map[Parcel]float64{},
	}

	// tau
	costs, err := a.meanCosts()
	if err != nil {
		return nil, err
	}
	for _, id := range bmpIDs {
		v := costs[id]
		if !finite(v) {
			return nil, &InvalidParameterError{Param: "tau", Key: bmpName[id], Value: v, Want: "a finite unit cost"}
		}
		ds.Tau[bmpName[id]] = v
	}

	// alpha
	areas, err := a.tables.Table(repository.TableLandUseArea)
	if err != nil {
		return nil, err
	}
	alpha := map[idParcel]float64{}
	for _, i := range matching(areas, map[string]map[string]bool{
		"lrsegid": sc.segs, "loadsourceid": sc.sources, "agencyid": sc.agencies,
	}) {
		v, err := areas.Float(i, "acres")
		if err != nil {
			return nil, err
		}
		k := idParcel{areas.Value(i, "lrsegid"), areas.Value(i, "loadsourceid"), areas.Value(i, "agencyid")}
		alpha[k] += v
	}
	for k, v := range alpha {
		p := parcelOf(k)
		if !finite(v) || v < 0 {
			return nil, &InvalidParameterError{Param: "alpha", Key: p.String(), Value: v, Want: "a finite area >= 0"}
		}
		ds.Alpha[p] = v
		ds.Parcels = append(ds.Parcels, p)
	}
	sortParcels(ds.Parcels)

	// phi
	rates, err := a.tables.Table(repository.TableLoadingRate)
	if err != nil {
		return nil, err
	}
	type idPhi struct {
		p         idParcel
		pollutant string
	}
	phi := map[idPhi]*mean{}
	for _, i := range matching(rates, map[string]map[string]bool{
		"lrsegid": sc.segs, "loadsourceid": sc.sources, "agencyid": sc.agencies,
	}) {
		if !yearMatches(rates.Value(i, "baseyear"), sc.year) {
			continue
		}
		k := idPhi{idParcel{rates.Value(i, "lrsegid"), rates.Value(i, "loadsourceid"), rates.Value(i, "agencyid")}, rates.Value(i, "pollutantid")}
		if _, ok := alpha[k.p]; !ok {
			continue
		}
		if _, ok := pollutantName[k.pollutant]; !ok {
			return nil, fmt.Errorf("loadingrate references unknown pollutant id %q", k.pollutant)
		}
		v, err := rates.Float(i, "loadingrate")
		if err != nil {
			return nil, err
		}
		if phi[k] == nil {
			phi[k] = &mean{}
		}
		phi[k].add(v)
	}
	for k, m := range phi {
		p, pol := parcelOf(k.p), pollutantName[k.pollutant]
		rate, area := m.value(), alpha[k.p]
		if !finite(rate * area) {
			return nil, &NonFiniteLoadError{Pollutant: pol, LoadSource: p.LoadSource, Segment: p.Segment, Agency: p.Agency, Rate: rate, Area: area}
		}
		ds.Phi[PhiKey{Parcel: p, Pollutant: pol}] = rate
	}

	// eta
	eff, err := a.tables.Table(repository.TableBMPEfficiency)
	if err != nil {
		return nil, err
	}
	eta := map[[4]string]*mean{}
	for _, i := range matching(eff, map[string]map[string]bool{
		"lrsegid": sc.segs, "loadsourceid": sc.sources, "bmpid": sc.bmps,
	}) {
		v, err := eff.Float(i, "effectiveness")
		if err != nil {
			return nil, err
		}
		k := [4]string{eff.Value(i, "bmpid"), eff.Value(i, "lrsegid"), eff.Value(i, "loadsourceid"), eff.Value(i, "pollutantid")}
		if eta[k] == nil {
			eta[k] = &mean{}
		}
		eta[k].add(v)
	}
	for k, m := range eta {
		key := EtaKey{BMP: bmpName[k[0]], Segment: segName[k[1]], LoadSource: lsName[k[2]], Pollutant: pollutantName[k[3]]}
		v := m.value()
		if !(v >= 0 && v <= 1) {
			return nil, &InvalidParameterError{
				Param: "eta",
				Key:   key.BMP + "|" + key.Segment + "|" + key.LoadSource + "|" + key.Pollutant,
				Value: v,
				Want:  "a value in [0, 1]",
			}
		}
		ds.Eta[key] = v
	}
	return ds, nil
}

func valuesSorted(m map[string]string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(m))
	for _, v := range m {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
