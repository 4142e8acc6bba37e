// Package reconcile brings the SDS index in line with the catalog for one scene.
package reconcile

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/podaac/swodlr-raster-create/internal/catalog"
	"github.com/samber/lo"
)

// Granule identifies one physical file. Two granules are equal only when both
// name and URL match, so a relocated file is a different granule.
type Granule struct {
	Name string
	URL  string
}

// Filename returns the last path element of the granule URL.
func (g Granule) Filename() string {
	u, err := url.Parse(g.URL)
	if err != nil || u.Path == "" {
		return path.Base(g.URL)
	}
	return path.Base(u.Path)
}

func (g Granule) String() string {
	return g.Name + " (" + g.URL + ")"
}

// GranuleSet is a set of granules.
type GranuleSet map[Granule]struct{}

// NewGranuleSet builds a set from gs.
func NewGranuleSet(gs ...Granule) GranuleSet {
	s := make(GranuleSet, len(gs))
	for _, g := range gs {
		s[g] = struct{}{}
	}
	return s
}

// Has reports whether g is in the set.
func (s GranuleSet) Has(g Granule) bool {
	_, ok := s[g]
	return ok
}

// Union returns a new set holding the members of s and o.
func (s GranuleSet) Union(o GranuleSet) GranuleSet {
	out := make(GranuleSet, len(s)+len(o))
	for g := range s {
		out[g] = struct{}{}
	}
	for g := range o {
		out[g] = struct{}{}
	}
	return out
}

// Minus returns a new set holding the members of s not in o.
func (s GranuleSet) Minus(o GranuleSet) GranuleSet {
	out := make(GranuleSet)
	for g := range s {
		if !o.Has(g) {
			out[g] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members ordered by name, then URL.
func (s GranuleSet) Sorted() []Granule {
	out := lo.Keys(s)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// Names returns the sorted granule names.
func (s GranuleSet) Names() []string {
	return lo.Map(s.Sorted(), func(g Granule, _ int) string { return g.Name })
}

// Diff is the repair plan for one scene.
type Diff struct {
	ToIngest GranuleSet
	ToDelete GranuleSet
}

// Empty reports whether nothing needs to change.
func (d Diff) Empty() bool {
	return len(d.ToIngest) == 0 && len(d.ToDelete) == 0
}

// ComputeDiff plans the repair of the index against the catalog. Anything in
// the catalog but not the index is ingested. Tile granules in the index but not
// the catalog are deleted; orbit granules are never deleted.
func ComputeDiff(cmrTiles, cmrOrbit, idxTiles, idxOrbit GranuleSet) Diff {
	return Diff{
		ToIngest: cmrTiles.Union(cmrOrbit).Minus(idxTiles.Union(idxOrbit)),
		ToDelete: idxTiles.Minus(cmrTiles),
	}
}

// TileNumbers returns the zero-padded tile numbers covering a scene:
// 2*scene-1 through 2*scene+2.
func TileNumbers(scene int) []string {
	out := make([]string, 0, 4)
	for i := scene*2 - 1; i <= scene*2+2; i++ {
		out = append(out, fmt.Sprintf("%03d", i))
	}
	return out
}

// TileWindow returns the padded left and right tile ids covering a scene,
// e.g. 005L, 005R, 006L, ...
func TileWindow(scene int) []string {
	return sides(TileNumbers(scene))
}

// UnpaddedTileWindow is TileWindow without zero padding, e.g. 5L, 5R, ...
func UnpaddedTileWindow(scene int) []string {
	nums := lo.Map(TileNumbers(scene), func(n string, _ int) string {
		if t := strings.TrimLeft(n, "0"); t != "" {
			return t
		}
		return "0"
	})
	return sides(nums)
}

// CatalogTiles returns the tile ids sent to the catalog: padded and unpadded forms.
func CatalogTiles(scene int) []string {
	return lo.Uniq(append(TileWindow(scene), UnpaddedTileWindow(scene)...))
}

func sides(nums []string) []string {
	out := make([]string, 0, len(nums)*2)
	for _, n := range nums {
		out = append(out, n+"L", n+"R")
	}
	return out
}

// FindS3Link returns the first related URL of type GET DATA* with an s3 scheme.
func FindS3Link(urls []catalog.RelatedURL) (string, bool) {
	for _, ru := range urls {
		if !strings.HasPrefix(ru.Type, "GET DATA") {
			continue
		}
		u, err := url.Parse(ru.URL)
		if err != nil {
			continue
		}
		if strings.EqualFold(u.Scheme, "s3") {
			return ru.URL, true
		}
	}
	return "", false
}
