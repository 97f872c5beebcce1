package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/KaramelBytes/bmpopt/internal/table"
	"github.com/KaramelBytes/bmpopt/internal/utils"
)

const requestFile = "request.json"

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func column(name, col string, values []string) *table.Frame {
	f := table.New(name, col)
	for _, v := range values {
		_ = f.Append(v)
	}
	return f
}

// Export writes the data set as CSV tables plus the request under dir.
func (d *Dataset) Export(dir string) error {
	if err := utils.EnsureDir(dir); err != nil {
		return err
	}
	reqJSON, err := utils.PrettyJSON(d.Request)
	if err != nil {
		return err
	}
	if err := utils.SafeWriteFile(filepath.Join(dir, requestFile), reqJSON); err != nil {
		return err
	}

	bmps := table.New("bmps", "bmp", "group", "tau")
	for _, b := range d.BMPs {
		_ = bmps.Append(b, d.Grouping[b], formatFloat(d.Tau[b]))
	}
	parcels := table.New("parcels", "landriversegment", "loadsource", "agency", "alpha")
	for _, p := range d.Parcels {
		_ = parcels.Append(p.Segment, p.LoadSource, p.Agency, formatFloat(d.Alpha[p]))
	}
	links := table.New("links", "bmp", "loadsource")
	for _, l := range d.BMPSourceLinks {
		_ = links.Append(l.BMP, l.LoadSource)
	}

	etaKeys := make([]EtaKey, 0, len(d.Eta))
	for k := range d.Eta {
		etaKeys = append(etaKeys, k)
	}
	sort.Slice(etaKeys, func(i, j int) bool { return etaKeyString(etaKeys[i]) < etaKeyString(etaKeys[j]) })
	eta := table.New("eta", "bmp", "landriversegment", "loadsource", "pollutant", "eta")
	for _, k := range etaKeys {
		_ = eta.Append(k.BMP, k.Segment, k.LoadSource, k.Pollutant, formatFloat(d.Eta[k]))
	}

	phiKeys := make([]PhiKey, 0, len(d.Phi))
	for k := range d.Phi {
		phiKeys = append(phiKeys, k)
	}
	sort.Slice(phiKeys, func(i, j int) bool {
		a, b := phiKeys[i], phiKeys[j]
		if a.Parcel != b.Parcel {
			return a.Parcel.String() < b.Parcel.String()
		}
		return a.Pollutant < b.Pollutant
	})
	phi := table.New("phi", "landriversegment", "loadsource", "agency", "pollutant", "phi")
	for _, k := range phiKeys {
		_ = phi.Append(k.Parcel.Segment, k.Parcel.LoadSource, k.Parcel.Agency, k.Pollutant, formatFloat(d.Phi[k]))
	}

	frames := []*table.Frame{
		column("pollutants", "pollutant", d.Pollutants),
		column("segments", "landriversegment", d.Segments),
		column("loadsources", "loadsource", d.LoadSources),
		column("agencies", "agency", d.Agencies),
		bmps, parcels, links, eta, phi,
	}
	for _, f := range frames {
		if err := table.WriteCSV(filepath.Join(dir, f.Name+".csv"), f); err != nil {
			return fmt.Errorf("export %s: %w", f.Name, err)
		}
	}
	return nil
}

func etaKeyString(k EtaKey) string {
	return k.BMP + "|" + k.Segment + "|" + k.LoadSource + "|" + k.Pollutant
}

// Import reads a data set written by Export.
func Import(dir string) (*Dataset, error) {
	b, err := os.ReadFile(filepath.Join(dir, requestFile))
	if err != nil {
		return nil, fmt.Errorf("read dataset request: %w", err)
	}
	d := &Dataset{
		Grouping: map[string]string{},
		Tau:      map[string]float64{},
		Eta:      map[EtaKey]float64{},
		Phi:      map[PhiKey]float64{},
		Alpha:    map[Parcel]float64{},
	}
	if err := json.Unmarshal(b, &d.Request); err != nil {
		return nil, fmt.Errorf("parse dataset request: %w", err)
	}
	read := func(name string) (*table.Frame, error) {
		return table.ReadCSV(filepath.Join(dir, name+".csv"), ',')
	}
	sets := []struct {
		name, col string
		dst       *[]string
	}{
		{"pollutants", "pollutant", &d.Pollutants},
		{"segments", "landriversegment", &d.Segments},
		{"loadsources", "loadsource", &d.LoadSources},
		{"agencies", "agency", &d.Agencies},
	}
	for _, s := range sets {
		f, err := read(s.name)
		if err != nil {
			return nil, err
		}
		if *s.dst, err = f.Column(s.col); err != nil {
			return nil, err
		}
	}

	bmps, err := read("bmps")
	if err != nil {
		return nil, err
	}
	for i := 0; i < bmps.Len(); i++ {
		name := bmps.Value(i, "bmp")
		tau, err := bmps.Float(i, "tau")
		if err != nil {
			return nil, err
		}
		d.BMPs = append(d.BMPs, name)
		d.Grouping[name] = bmps.Value(i, "group")
		d.Tau[name] = tau
	}
	d.Groups = groupsOf(d.Grouping)

	parcels, err := read("parcels")
	if err != nil {
		return nil, err
	}
	for i := 0; i < parcels.Len(); i++ {
		p := Parcel{Segment: parcels.Value(i, "landriversegment"), LoadSource: parcels.Value(i, "loadsource"), Agency: parcels.Value(i, "agency")}
		v, err := parcels.Float(i, "alpha")
		if err != nil {
			return nil, err
		}
		d.Parcels = append(d.Parcels, p)
		d.Alpha[p] = v
	}

	links, err := read("links")
	if err != nil {
		return nil, err
	}
	seen := map[GroupSource]bool{}
	for i := 0; i < links.Len(); i++ {
		l := BMPSource{BMP: links.Value(i, "bmp"), LoadSource: links.Value(i, "loadsource")}
		d.BMPSourceLinks = append(d.BMPSourceLinks, l)
		g := GroupSource{Group: d.Grouping[l.BMP], LoadSource: l.LoadSource}
		if !seen[g] {
			seen[g] = true
			d.GroupSourceLinks = append(d.GroupSourceLinks, g)
		}
	}
	sort.Slice(d.GroupSourceLinks, func(i, j int) bool {
		a, b := d.GroupSourceLinks[i], d.GroupSourceLinks[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.LoadSource < b.LoadSource
	})

	eta, err := read("eta")
	if err != nil {
		return nil, err
	}
	for i := 0; i < eta.Len(); i++ {
		v, err := eta.Float(i, "eta")
		if err != nil {
			return nil, err
		}
		d.Eta[EtaKey{
			BMP:        eta.Value(i, "bmp"),
			Segment:    eta.Value(i, "landriversegment"),
			LoadSource: eta.Value(i, "loadsource"),
			Pollutant:  eta.Value(i, "pollutant"),
		}] = v
	}

	phi, err := read("phi")
	if err != nil {
		return nil, err
	}
	for i := 0; i < phi.Len(); i++ {
		v, err := phi.Float(i, "phi")
		if err != nil {
			return nil, err
		}
		p := Parcel{Segment: phi.Value(i, "landriversegment"), LoadSource: phi.Value(i, "loadsource"), Agency: phi.Value(i, "agency")}
		d.Phi[PhiKey{Parcel: p, Pollutant: phi.Value(i, "pollutant")}] = v
	}
	return d, nil
}
