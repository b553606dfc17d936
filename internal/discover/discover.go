// Package discover implements context discovery and the tier-1 authority
// filter: it scans a working tree's path list for marker files, generates
// candidate project contexts, and partitions them into pending and
// detached sets according to workspace configuration.
package discover

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/jward/trellis/internal/langs"
	"github.com/jward/trellis/internal/pathutil"
)

// Probe status values for candidate contexts.
const (
	ProbePending  = "pending"
	ProbeValid    = "valid"
	ProbeDetached = "detached"
	ProbeInvalid  = "invalid"
)

// Tier values. TierAmbient marks marker-less repo-root contexts.
const (
	TierWorkspace    = 1
	TierPackage      = 2
	TierRootFallback = 3
	TierAmbient      = 0
)

// Candidate is a potential project context produced by discovery.
type Candidate struct {
	LanguageFamily string
	RootPath       string // POSIX, "" = repo root
	Tier           int
	Markers        []string
	IncludeSpec    []string
	ExcludeSpec    []string
	ProbeStatus    string
	IsRootFallback bool
}

// Marker is a marker file discovered during scanning.
type Marker struct {
	Path   string // relative POSIX path
	Family string
	Tier   langs.MarkerTier
}

// Result is the output of discovery.
type Result struct {
	Candidates []Candidate
	Markers    []Marker
	Errors     []string
}

// ReadFileFn reads a repo-relative file, returning nil when it does not
// exist. Errors are non-fatal to discovery.
type ReadFileFn func(path string) ([]byte, error)

// Discovery scans a path list for markers and generates candidates.
type Discovery struct {
	paths    []string
	readFile ReadFileFn
}

// New creates a Discovery over the given repo-relative POSIX paths.
func New(paths []string, readFile ReadFileFn) *Discovery {
	return &Discovery{paths: paths, readFile: readFile}
}

// DiscoverAll discovers candidate contexts for every registered family,
// adds ambient candidates for marker-less ambient families, and puts the
// tier-3 root fallback first in the candidate list.
func (d *Discovery) DiscoverAll() Result {
	var result Result

	markers := d.scanMarkers(&result)
	result.Markers = markers

	byFamily := map[string][]*Candidate{}
	var familyOrder []string
	for _, m := range markers {
		if _, ok := byFamily[m.Family]; !ok {
			familyOrder = append(familyOrder, m.Family)
		}
		byFamily[m.Family] = d.addMarker(byFamily[m.Family], m)
	}

	// Ambient candidates for families that found no markers.
	for _, family := range langs.AmbientFamilies() {
		if _, ok := byFamily[family]; ok {
			continue
		}
		def, _ := langs.ByFamily(family)
		byFamily[family] = []*Candidate{{
			LanguageFamily: family,
			RootPath:       "",
			Tier:           TierAmbient,
			IncludeSpec:    def.IncludeSpec,
			ExcludeSpec:    append([]string(nil), pathutil.UniversalExcludeGlobs...),
			ProbeStatus:    ProbePending,
		}}
		familyOrder = append(familyOrder, family)
	}

	// Tier-3 root fallback catches files no other context claims.
	result.Candidates = append(result.Candidates, Candidate{
		LanguageFamily: langs.FamilyConfig,
		RootPath:       "",
		Tier:           TierRootFallback,
		IncludeSpec:    []string{"**/*"},
		ExcludeSpec:    append([]string(nil), pathutil.UniversalExcludeGlobs...),
		ProbeStatus:    ProbeValid,
		IsRootFallback: true,
	})

	for _, family := range familyOrder {
		for _, c := range byFamily[family] {
			result.Candidates = append(result.Candidates, *c)
		}
	}
	return result
}

// DiscoverFamily discovers candidates for a single family.
func (d *Discovery) DiscoverFamily(family string) Result {
	var result Result
	var markers []Marker
	for _, m := range d.scanMarkers(&result) {
		if m.Family == family {
			markers = append(markers, m)
		}
	}
	result.Markers = markers

	var cands []*Candidate
	for _, m := range markers {
		cands = d.addMarker(cands, m)
	}
	if len(cands) == 0 {
		if def, ok := langs.ByFamily(family); ok && def.Ambient {
			cands = append(cands, &Candidate{
				LanguageFamily: family,
				Tier:           TierAmbient,
				IncludeSpec:    def.IncludeSpec,
				ExcludeSpec:    append([]string(nil), pathutil.UniversalExcludeGlobs...),
				ProbeStatus:    ProbePending,
			})
		}
	}
	for _, c := range cands {
		result.Candidates = append(result.Candidates, *c)
	}
	return result
}

// addMarker merges a marker into the family's candidate list: markers in
// the same directory collapse into one candidate holding the strongest
// tier.
func (d *Discovery) addMarker(cands []*Candidate, m Marker) []*Candidate {
	dir := pathutil.Dir(m.Path)
	for _, c := range cands {
		if c.RootPath == dir {
			c.Markers = append(c.Markers, m.Path)
			if m.Tier == langs.TierWorkspace && c.Tier != TierWorkspace {
				c.Tier = TierWorkspace
			}
			return cands
		}
	}
	def, _ := langs.ByFamily(m.Family)
	tier := TierPackage
	if m.Tier == langs.TierWorkspace {
		tier = TierWorkspace
	}
	return append(cands, &Candidate{
		LanguageFamily: m.Family,
		RootPath:       dir,
		Tier:           tier,
		Markers:        []string{m.Path},
		IncludeSpec:    def.IncludeSpec,
		ExcludeSpec:    append([]string(nil), pathutil.UniversalExcludeGlobs...),
		ProbeStatus:    ProbePending,
	})
}

// scanMarkers walks the path list once and records every marker hit,
// then applies content-based tier upgrades.
func (d *Discovery) scanMarkers(result *Result) []Marker {
	type markerKey struct{ name, family string }
	workspaceNames := map[markerKey]bool{}
	packageNames := map[markerKey]bool{}
	for _, def := range langs.Definitions() {
		for _, n := range def.WorkspaceMarkers {
			workspaceNames[markerKey{n, def.Family}] = true
		}
		for _, n := range def.PackageMarkers {
			packageNames[markerKey{n, def.Family}] = true
		}
	}

	var markers []Marker
	for _, p := range d.paths {
		p = pathutil.ToPosix(p)
		if pathutil.IsUniversallyExcluded(p) {
			continue
		}
		base := path.Base(p)

		for _, def := range langs.Definitions() {
			if workspaceNames[markerKey{base, def.Family}] {
				markers = append(markers, Marker{Path: p, Family: def.Family, Tier: langs.TierWorkspace})
			} else if packageNames[markerKey{base, def.Family}] {
				markers = append(markers, Marker{Path: p, Family: def.Family, Tier: langs.TierPackage})
			}
		}

		// .NET markers are matched by extension glob, not exact name.
		switch {
		case strings.HasSuffix(base, ".sln"):
			markers = append(markers, Marker{Path: p, Family: langs.FamilyDotnet, Tier: langs.TierWorkspace})
		case strings.HasSuffix(base, ".csproj"), strings.HasSuffix(base, ".fsproj"), strings.HasSuffix(base, ".vbproj"):
			markers = append(markers, Marker{Path: p, Family: langs.FamilyDotnet, Tier: langs.TierPackage})
		}
	}

	markers = d.upgradeRustWorkspaces(markers)
	markers = d.upgradeJSWorkspaces(markers, result)
	markers = d.upgradeMavenModules(markers)
	return markers
}

// upgradeRustWorkspaces re-tags Cargo.toml containing [workspace] as
// workspace tier. Read errors leave the marker at its discovered tier.
func (d *Discovery) upgradeRustWorkspaces(markers []Marker) []Marker {
	for i, m := range markers {
		if m.Family != langs.FamilyRust || !strings.HasSuffix(m.Path, "Cargo.toml") {
			continue
		}
		content, err := d.readFile(m.Path)
		if err != nil || content == nil {
			continue
		}
		if strings.Contains(string(content), "[workspace]") {
			markers[i].Tier = langs.TierWorkspace
		}
	}
	return markers
}

// upgradeJSWorkspaces re-tags package.json containing a "workspaces" key
// as workspace tier.
func (d *Discovery) upgradeJSWorkspaces(markers []Marker, result *Result) []Marker {
	for i, m := range markers {
		if m.Family != langs.FamilyJavaScript || !strings.HasSuffix(m.Path, "package.json") || m.Tier != langs.TierPackage {
			continue
		}
		content, err := d.readFile(m.Path)
		if err != nil || content == nil {
			continue
		}
		var data map[string]json.RawMessage
		if err := json.Unmarshal(content, &data); err != nil {
			result.Errors = append(result.Errors, "parse "+m.Path+": "+err.Error())
			continue
		}
		if _, ok := data["workspaces"]; ok {
			markers[i].Tier = langs.TierWorkspace
		}
	}
	return markers
}

// upgradeMavenModules re-tags pom.xml containing <modules> as workspace
// tier.
func (d *Discovery) upgradeMavenModules(markers []Marker) []Marker {
	for i, m := range markers {
		if m.Family != langs.FamilyJVM || !strings.HasSuffix(m.Path, "pom.xml") || m.Tier != langs.TierPackage {
			continue
		}
		content, err := d.readFile(m.Path)
		if err != nil || content == nil {
			continue
		}
		if strings.Contains(string(content), "<modules>") {
			markers[i].Tier = langs.TierWorkspace
		}
	}
	return markers
}
