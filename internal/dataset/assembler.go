package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/KaramelBytes/bmpopt/internal/mapper"
	"github.com/KaramelBytes/bmpopt/internal/repository"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

// Tables is the read side of a built reference repository.
type Tables interface {
	Table(name string) (*table.Frame, error)
	Has(name string) bool
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithExcludedBMPs removes BMPs (by short name) from every assembled data set.
func WithExcludedBMPs(names ...string) Option {
	return func(a *Assembler) {
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				a.excluded[n] = true
			}
		}
	}
}

// WithLogger sets the logger used for exclusion and summary messages.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.log = l
		}
	}
}

// Assembler derives Datasets from reference tables. It holds no per-request state.
type Assembler struct {
	tables   Tables
	excluded map[string]bool
	log      *zap.Logger
}

// NewAssembler binds an Assembler to reference tables. The tables must be
// present and, when they report a lifecycle, already built.
func NewAssembler(tables Tables, opts ...Option) (*Assembler, error) {
	if tables == nil {
		return nil, ErrRepositoryUnavailable
	}
	if b, ok := tables.(interface{ Built() bool }); ok && !b.Built() {
		return nil, fmt.Errorf("%w: %w", ErrRepositoryUnavailable, repository.ErrNotBuilt)
	}
	a := &Assembler{tables: tables, excluded: map[string]bool{}, log: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// scope is one request expressed in reference-table identifiers.
type scope struct {
	segs     map[string]bool
	sources  map[string]bool
	agencies map[string]bool
	bmps     map[string]bool
	year     int
}

// Assemble resolves every set and parameter for req.
func (a *Assembler) Assemble(req Request) (*Dataset, error) {
	segIDs, err := a.geographyIDs(req.Scale, req.Entities)
	if err != nil {
		return nil, err
	}
	agencyIDs, err := a.agencyIDs(req.Agencies)
	if err != nil {
		return nil, err
	}
	sc := scope{segs: setOf(segIDs), agencies: setOf(agencyIDs), year: req.BaselineYear}
	lsIDs, err := a.loadSourceIDs(sc)
	if err != nil {
		return nil, err
	}
	sc.sources = setOf(lsIDs)
	bmpIDs, err := a.bmpIDs(sc)
	if err != nil {
		return nil, err
	}
	sc.bmps = setOf(bmpIDs)

	ds, err := a.build(req, sc)
	if err != nil {
		return nil, err
	}
	a.log.Info("dataset assembled",
		zap.Int("segments", len(ds.Segments)),
		zap.Int("load_sources", len(ds.LoadSources)),
		zap.Int("bmps", len(ds.BMPs)),
		zap.Int("groups", len(ds.Groups)),
		zap.Int("parcels", len(ds.Parcels)),
	)
	return ds, nil
}

// ResolveGeography returns the sorted names of the land segments selected by
// the entities at the given scale. Zero-area segments are never returned.
func (a *Assembler) ResolveGeography(scale string, entities []string) ([]string, error) {
	ids, err := a.geographyIDs(scale, entities)
	if err != nil {
		return nil, err
	}
	return a.names(repository.TableLandRiverSegment, "lrsegid", "landriversegment", ids)
}

// ResolveLoadSourceSet returns the sorted names of the load sources eligible in
// the segments for the baseline year, across every agency.
func (a *Assembler) ResolveLoadSourceSet(segments []string, baselineYear int) ([]string, error) {
	sc, err := a.scopeFor(segments, nil, baselineYear)
	if err != nil {
		return nil, err
	}
	ids, err := a.loadSourceIDs(sc)
	if err != nil {
		return nil, err
	}
	return a.names(repository.TableLoadSource, "loadsourceid", "loadsource", ids)
}

// BMPSet is the result of ResolveBMPSet.
type BMPSet struct {
	BMPs     []string
	Groups   []string
	Grouping map[string]string
}

// ResolveBMPSet returns the efficiency-type BMPs that are not excluded and are
// linked to at least one of the load sources within the segments.
func (a *Assembler) ResolveBMPSet(segments, loadSources []string) (BMPSet, error) {
	sc, err := a.scopeFor(segments, loadSources, 0)
	if err != nil {
		return BMPSet{}, err
	}
	ids, err := a.bmpIDs(sc)
	if err != nil {
		return BMPSet{}, err
	}
	names, grouping, err := a.grouping(ids)
	if err != nil {
		return BMPSet{}, err
	}
	return BMPSet{BMPs: names, Groups: groupsOf(grouping), Grouping: grouping}, nil
}

// ResolveLinks returns the BMP to load-source links backed by an effectiveness
// record within the segments, and the group links derived from them.
func (a *Assembler) ResolveLinks(segments, bmps, loadSources []string) ([]BMPSource, []GroupSource, error) {
	sc, err := a.scopeFor(segments, loadSources, 0)
	if err != nil {
		return nil, nil, err
	}
	bmpIDs, err := a.ids(repository.TableBMP, "bmpshortname", "bmpid", bmps)
	if err != nil {
		return nil, nil, err
	}
	sc.bmps = setOf(bmpIDs)
	_, grouping, err := a.grouping(bmpIDs)
	if err != nil {
		return nil, nil, err
	}
	return a.links(sc, grouping)
}

func (a *Assembler) scopeFor(segments, loadSources []string, year int) (scope, error) {
	segIDs, err := a.ids(repository.TableLandRiverSegment, "landriversegment", "lrsegid", segments)
	if err != nil {
		return scope{}, err
	}
	agencyIDs, err := a.agencyIDs(nil)
	if err != nil {
		return scope{}, err
	}
	sc := scope{segs: setOf(segIDs), agencies: setOf(agencyIDs), year: year}
	if loadSources != nil {
		lsIDs, err := a.ids(repository.TableLoadSource, "loadsource", "loadsourceid", loadSources)
		if err != nil {
			return scope{}, err
		}
		sc.sources = setOf(lsIDs)
	}
	return sc, nil
}

func (a *Assembler) geographyIDs(scale string, entities []string) ([]string, error) {
	gs, err := ParseGeoScale(scale)
	if err != nil {
		return nil, err
	}
	r, err := newGeographyResolver(gs, a.tables)
	if err != nil {
		return nil, err
	}
	ids, unmatched, err := r.resolve(entities)
	if err != nil {
		return nil, err
	}
	if len(unmatched) > 0 && len(ids) > 0 {
		a.log.Warn("geography entities matched no land segment",
			zap.String("scale", gs.String()),
			zap.Strings("entities", unmatched),
		)
	}
	if len(ids) == 0 {
		return nil, &NoMatchingGeographyError{Scale: gs, Entities: entities}
	}
	sortIDs(ids)
	return ids, nil
}

// agencyIDs maps agency codes to ids; no codes selects every agency.
func (a *Assembler) agencyIDs(codes []string) ([]string, error) {
	agencies, err := a.tables.Table(repository.TableAgency)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return agencies.Distinct("agencyid"), nil
	}
	return mapper.SingleValues(codes, agencies, "agencycode", "agencyid")
}

// loadSourceIDs applies the three-part eligibility rule: a loading rate for
// the baseline year, an area record in the segments, and membership of a
// single-member load-source group.
func (a *Assembler) loadSourceIDs(sc scope) ([]string, error) {
	rates, err := a.tables.Table(repository.TableLoadingRate)
	if err != nil {
		return nil, err
	}
	areas, err := a.tables.Table(repository.TableLandUseArea)
	if err != nil {
		return nil, err
	}
	single, err := a.tables.Table(repository.TableSourceGroupOneSource)
	if err != nil {
		return nil, err
	}
	withRate := map[string]bool{}
	for i := 0; i < rates.Len(); i++ {
		if sc.segs[rates.Value(i, "lrsegid")] && sc.agencies[rates.Value(i, "agencyid")] &&
			yearMatches(rates.Value(i, "baseyear"), sc.year) {
			withRate[rates.Value(i, "loadsourceid")] = true
		}
	}
	withArea := map[string]bool{}
	for i := 0; i < areas.Len(); i++ {
		if sc.segs[areas.Value(i, "lrsegid")] {
			withArea[areas.Value(i, "loadsourceid")] = true
		}
	}
	var out []string
	for _, id := range single.Distinct("loadsourceid") {
		if withRate[id] && withArea[id] {
			out = append(out, id)
		}
	}
	sortIDs(out)
	a.log.Debug("load sources resolved",
		zap.Int("with_rate", len(withRate)),
		zap.Int("with_area", len(withArea)),
		zap.Int("eligible", len(out)),
	)
	return out, nil
}

func yearMatches(cell string, year int) bool {
	cell = strings.TrimSpace(cell)
	if n, err := strconv.Atoi(cell); err == nil {
		return n == year
	}
	f, err := strconv.ParseFloat(cell, 64)
	return err == nil && f == float64(year)
}

// ids translates names to identifiers, one to one.
func (a *Assembler) ids(tableName, nameCol, idCol string, names []string) ([]string, error) {
	f, err := a.tables.Table(tableName)
	if err != nil {
		return nil, err
	}
	return mapper.SingleValues(names, f, nameCol, idCol)
}

// names translates identifiers to names and sorts them.
func (a *Assembler) names(tableName, idCol, nameCol string, ids []string) ([]string, error) {
	f, err := a.tables.Table(tableName)
	if err != nil {
		return nil, err
	}
	out, err := mapper.SingleValues(ids, f, idCol, nameCol)
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// nameIndex maps each id to its name for the given ids.
func (a *Assembler) nameIndex(tableName, idCol, nameCol string, ids []string) (map[string]string, error) {
	f, err := a.tables.Table(tableName)
	if err != nil {
		return nil, err
	}
	names, err := mapper.SingleValues(ids, f, idCol, nameCol)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(ids))
	for i, id := range ids {
		out[id] = names[i]
	}
	return out, nil
}

// matching returns the row indices of f whose columns fall inside the given sets.
func matching(f *table.Frame, filters map[string]map[string]bool) []int {
	var out []int
rows:
	for i := 0; i < f.Len(); i++ {
		for col, set := range filters {
			if !set[f.Value(i, col)] {
				continue rows
			}
		}
		out = append(out, i)
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
