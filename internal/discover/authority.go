package discover

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"

	"github.com/jward/trellis/internal/langs"
	"github.com/jward/trellis/internal/pathutil"
)

// AuthorityResult partitions candidates after tier-1 filtering.
type AuthorityResult struct {
	Pending  []Candidate
	Detached []Candidate
	Warnings []string
}

// Authority applies tier-1 workspace configuration to tier-2 candidates.
// Families with strict workspace management (javascript, go, rust, jvm,
// dotnet) require tier-2 candidates nested under a tier-1 root to be
// listed in its configuration; unlisted candidates are marked detached.
// Families without a workspace mechanism pass through unchanged.
type Authority struct {
	readFile ReadFileFn
}

// NewAuthority creates an authority filter reading workspace configs via
// readFile.
func NewAuthority(readFile ReadFileFn) *Authority {
	return &Authority{readFile: readFile}
}

// Apply filters candidates family by family.
func (a *Authority) Apply(candidates []Candidate) AuthorityResult {
	var result AuthorityResult

	byFamily := map[string][]Candidate{}
	var order []string
	for _, c := range candidates {
		if _, ok := byFamily[c.LanguageFamily]; !ok {
			order = append(order, c.LanguageFamily)
		}
		byFamily[c.LanguageFamily] = append(byFamily[c.LanguageFamily], c)
	}

	for _, family := range order {
		group := byFamily[family]
		var pending, detached []Candidate
		switch family {
		case langs.FamilyJavaScript:
			pending, detached = a.filterByGlobs(group, a.jsWorkspaceGlobs, &result)
		case langs.FamilyGo:
			pending, detached = a.filterGo(group, &result)
		case langs.FamilyRust:
			pending, detached = a.filterByGlobs(group, a.cargoWorkspaceMembers, &result)
		case langs.FamilyJVM:
			pending, detached = a.filterJVM(group, &result)
		case langs.FamilyDotnet:
			pending, detached = a.filterDotnet(group, &result)
		default:
			// No tier-1 workspace mechanism: only tier-2 package markers
			// exist (pyproject.toml, Gemfile, composer.json, ...). All
			// candidates pass through.
			pending = group
		}
		result.Pending = append(result.Pending, pending...)
		result.Detached = append(result.Detached, detached...)
	}
	return result
}

// globsFn extracts the allowed sub-path globs from a tier-1 candidate's
// workspace markers.
type globsFn func(t1 Candidate, result *AuthorityResult) []string

// filterByGlobs is the shared strict-authority shape: a tier-2 candidate
// under a tier-1 root must match one of the root's globs.
func (a *Authority) filterByGlobs(group []Candidate, fn globsFn, result *AuthorityResult) (pending, detached []Candidate) {
	tier1 := tier1Of(group)
	if len(tier1) == 0 {
		return group, nil
	}

	globsByRoot := map[string][]string{}
	for _, t1 := range tier1 {
		if globs := fn(t1, result); len(globs) > 0 {
			globsByRoot[t1.RootPath] = globs
		}
	}

	for _, c := range group {
		if c.Tier == TierWorkspace {
			pending = append(pending, c)
			continue
		}
		matched := false
		nested := false
		for root, globs := range globsByRoot {
			if pathutil.IsInside(c.RootPath, root) {
				nested = true
				rel := pathutil.RelativeTo(c.RootPath, root)
				if matchesAnyGlob(rel, globs) {
					matched = true
					break
				}
			}
		}
		if matched || !nested {
			pending = append(pending, c)
		} else {
			c.ProbeStatus = ProbeDetached
			detached = append(detached, c)
		}
	}
	return pending, detached
}

// filterGo uses go.work use directives; module paths are matched exactly
// (with ./ stripped), not as globs.
func (a *Authority) filterGo(group []Candidate, result *AuthorityResult) (pending, detached []Candidate) {
	tier1 := tier1Of(group)
	if len(tier1) == 0 {
		return group, nil
	}

	modulesByRoot := map[string][]string{}
	for _, t1 := range tier1 {
		if mods := a.goWorkModules(t1, result); len(mods) > 0 {
			modulesByRoot[t1.RootPath] = mods
		}
	}

	for _, c := range group {
		if c.Tier == TierWorkspace {
			pending = append(pending, c)
			continue
		}
		matched := false
		nested := false
		for root, mods := range modulesByRoot {
			if pathutil.IsInside(c.RootPath, root) {
				nested = true
				rel := pathutil.RelativeTo(c.RootPath, root)
				for _, m := range mods {
					m = strings.TrimPrefix(m, "./")
					if m == rel || (m == "." && rel == "") {
						matched = true
						break
					}
				}
				if matched {
					break
				}
			}
		}
		if matched || !nested {
			pending = append(pending, c)
		} else {
			c.ProbeStatus = ProbeDetached
			detached = append(detached, c)
		}
	}
	return pending, detached
}

// filterJVM uses settings.gradle include(...) statements, falling back to
// Maven <modules>. Gradle settings that interpolate variables make the
// whole group permissive.
func (a *Authority) filterJVM(group []Candidate, result *AuthorityResult) (pending, detached []Candidate) {
	tier1 := tier1Of(group)
	if len(tier1) == 0 {
		return group, nil
	}

	type wsInfo struct {
		includes []string
		strict   bool
	}
	infoByRoot := map[string]wsInfo{}
	for _, t1 := range tier1 {
		includes, strict := a.gradleIncludes(t1)
		if len(includes) == 0 {
			includes = a.mavenModules(t1)
			strict = len(includes) > 0
		}
		infoByRoot[t1.RootPath] = wsInfo{includes: includes, strict: strict}
	}

	for _, c := range group {
		if c.Tier == TierWorkspace {
			pending = append(pending, c)
			continue
		}
		matched := false
		strictMode := false
		for root, info := range infoByRoot {
			if !pathutil.IsInside(c.RootPath, root) {
				continue
			}
			strictMode = info.strict
			rel := pathutil.RelativeTo(c.RootPath, root)
			// Gradle uses : as path separator; :foo:bar == foo/bar.
			gradlePath := strings.ReplaceAll(rel, "/", ":")
			for _, inc := range info.includes {
				norm := strings.TrimPrefix(inc, ":")
				if norm == gradlePath || norm == rel || inc == gradlePath || inc == rel {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if matched || !strictMode {
			pending = append(pending, c)
		} else {
			c.ProbeStatus = ProbeDetached
			detached = append(detached, c)
		}
	}
	return pending, detached
}

// filterDotnet matches tier-2 project directories against .sln project
// entries. Paths in .sln files use backslashes on disk; they are
// normalized before comparison.
func (a *Authority) filterDotnet(group []Candidate, result *AuthorityResult) (pending, detached []Candidate) {
	tier1 := tier1Of(group)
	if len(tier1) == 0 {
		return group, nil
	}

	projectsByRoot := map[string][]string{}
	for _, t1 := range tier1 {
		if projects := a.slnProjects(t1); len(projects) > 0 {
			projectsByRoot[t1.RootPath] = projects
		}
	}

	for _, c := range group {
		if c.Tier == TierWorkspace {
			pending = append(pending, c)
			continue
		}
		matched := false
		nested := false
		for root, projects := range projectsByRoot {
			if !pathutil.IsInside(c.RootPath, root) {
				continue
			}
			nested = true
			rel := pathutil.RelativeTo(c.RootPath, root)
			for _, proj := range projects {
				proj = pathutil.ToPosix(proj)
				projDir := pathutil.Dir(proj)
				if rel == projDir || strings.HasPrefix(proj, rel+"/") {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if matched || !nested {
			pending = append(pending, c)
		} else {
			c.ProbeStatus = ProbeDetached
			detached = append(detached, c)
		}
	}
	return pending, detached
}

// --- workspace config parsers ---

// jsWorkspaceGlobs extracts package globs from pnpm-workspace.yaml,
// package.json workspaces, or lerna.json. Malformed files contribute no
// globs and add a warning; with zero globs the group stays permissive.
func (a *Authority) jsWorkspaceGlobs(t1 Candidate, result *AuthorityResult) []string {
	var globs []string
	for _, marker := range t1.Markers {
		content, err := a.readFile(marker)
		if err != nil || content == nil {
			continue
		}
		switch {
		case strings.HasSuffix(marker, "pnpm-workspace.yaml"):
			var doc struct {
				Packages []string `yaml:"packages"`
			}
			if err := yaml.Unmarshal(content, &doc); err != nil {
				result.Warnings = append(result.Warnings, "parse "+marker+": "+err.Error())
				continue
			}
			globs = append(globs, doc.Packages...)
		case strings.HasSuffix(marker, "package.json"):
			var doc struct {
				Workspaces json.RawMessage `json:"workspaces"`
			}
			if err := json.Unmarshal(content, &doc); err != nil {
				result.Warnings = append(result.Warnings, "parse "+marker+": "+err.Error())
				continue
			}
			if len(doc.Workspaces) == 0 {
				continue
			}
			var list []string
			if err := json.Unmarshal(doc.Workspaces, &list); err == nil {
				globs = append(globs, list...)
				continue
			}
			var obj struct {
				Packages []string `json:"packages"`
			}
			if err := json.Unmarshal(doc.Workspaces, &obj); err == nil {
				globs = append(globs, obj.Packages...)
			}
		case strings.HasSuffix(marker, "lerna.json"):
			var doc struct {
				Packages []string `json:"packages"`
			}
			if err := json.Unmarshal(content, &doc); err != nil {
				result.Warnings = append(result.Warnings, "parse "+marker+": "+err.Error())
				continue
			}
			globs = append(globs, doc.Packages...)
		}
	}
	return globs
}

// goWorkModules extracts use directives from go.work.
func (a *Authority) goWorkModules(t1 Candidate, result *AuthorityResult) []string {
	var modules []string
	for _, marker := range t1.Markers {
		if !strings.HasSuffix(marker, "go.work") {
			continue
		}
		content, err := a.readFile(marker)
		if err != nil || content == nil {
			continue
		}
		wf, err := modfile.ParseWork(marker, content, nil)
		if err != nil {
			result.Warnings = append(result.Warnings, "parse "+marker+": "+err.Error())
			continue
		}
		for _, use := range wf.Use {
			modules = append(modules, use.Path)
		}
	}
	return modules
}

// cargoWorkspaceMembers extracts [workspace].members from Cargo.toml.
func (a *Authority) cargoWorkspaceMembers(t1 Candidate, result *AuthorityResult) []string {
	var members []string
	for _, marker := range t1.Markers {
		if !strings.HasSuffix(marker, "Cargo.toml") {
			continue
		}
		content, err := a.readFile(marker)
		if err != nil || content == nil {
			continue
		}
		var doc struct {
			Workspace struct {
				Members []string `toml:"members"`
			} `toml:"workspace"`
		}
		if err := toml.Unmarshal(content, &doc); err != nil {
			result.Warnings = append(result.Warnings, "parse "+marker+": "+err.Error())
			continue
		}
		members = append(members, doc.Workspace.Members...)
	}
	return members
}

var (
	gradleIncludeParenRe = regexp.MustCompile(`include\s*\(\s*['"]([^'"]+)['"]`)
	gradleIncludeBareRe  = regexp.MustCompile(`include\s+['"]([^'"]+)['"]`)
	mavenModulesRe       = regexp.MustCompile(`(?s)<modules>\s*(.*?)\s*</modules>`)
	mavenModuleRe        = regexp.MustCompile(`<module>\s*([^<]+?)\s*</module>`)
	slnProjectRe         = regexp.MustCompile(`Project\("[^"]+"\)\s*=\s*"[^"]+",\s*"([^"]+)"`)
)

// gradleIncludes extracts include(...) entries from settings.gradle.
// Variable interpolation makes the settings permissive for the group.
func (a *Authority) gradleIncludes(t1 Candidate) (includes []string, strict bool) {
	strict = true
	for _, marker := range t1.Markers {
		if !strings.HasSuffix(marker, "settings.gradle") && !strings.HasSuffix(marker, "settings.gradle.kts") {
			continue
		}
		content, err := a.readFile(marker)
		if err != nil || content == nil {
			continue
		}
		text := string(content)
		if strings.Contains(text, "$") {
			strict = false
		}
		for _, m := range gradleIncludeParenRe.FindAllStringSubmatch(text, -1) {
			includes = append(includes, m[1])
		}
		for _, m := range gradleIncludeBareRe.FindAllStringSubmatch(text, -1) {
			includes = append(includes, m[1])
		}
	}
	return includes, strict
}

// mavenModules extracts <module> entries from pom.xml.
func (a *Authority) mavenModules(t1 Candidate) []string {
	var modules []string
	for _, marker := range t1.Markers {
		if !strings.HasSuffix(marker, "pom.xml") {
			continue
		}
		content, err := a.readFile(marker)
		if err != nil || content == nil {
			continue
		}
		block := mavenModulesRe.FindStringSubmatch(string(content))
		if block == nil {
			continue
		}
		for _, m := range mavenModuleRe.FindAllStringSubmatch(block[1], -1) {
			modules = append(modules, m[1])
		}
	}
	return modules
}

// slnProjects extracts project file paths from a .sln, keeping only real
// project entries (solution folders have no project-file suffix).
func (a *Authority) slnProjects(t1 Candidate) []string {
	var projects []string
	for _, marker := range t1.Markers {
		if !strings.HasSuffix(marker, ".sln") {
			continue
		}
		content, err := a.readFile(marker)
		if err != nil || content == nil {
			continue
		}
		for _, m := range slnProjectRe.FindAllStringSubmatch(string(content), -1) {
			p := m[1]
			if strings.HasSuffix(p, ".csproj") || strings.HasSuffix(p, ".fsproj") || strings.HasSuffix(p, ".vbproj") {
				projects = append(projects, p)
			}
		}
	}
	return projects
}

// --- helpers ---

func tier1Of(group []Candidate) []Candidate {
	var out []Candidate
	for _, c := range group {
		if c.Tier == TierWorkspace {
			out = append(out, c)
		}
	}
	return out
}

// matchesAnyGlob normalizes workspace globs before matching: trailing
// /** stripped, leading ./ stripped, exact equality first, then fnmatch
// against both glob and glob/*.
func matchesAnyGlob(p string, globs []string) bool {
	for _, g := range globs {
		g = strings.TrimSuffix(g, "/**")
		g = strings.TrimPrefix(g, "./")
		if p == g {
			return true
		}
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(g+"/*", p); ok {
			return true
		}
	}
	return false
}
