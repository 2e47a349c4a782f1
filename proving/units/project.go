package units

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/crytic/kprove/utils"
	"github.com/pkg/errors"
)

// Project is the set of contracts found in a build output directory.
type Project struct {
	// outDir is the build output directory.
	outDir string

	// contracts maps contract names to contracts.
	contracts map[string]*Contract
}

// Discover reads every build artifact under outDir. Artifacts are matched with "**/*.json"; metadata files, build
// info files and kprove's own files are skipped, as is every file below one of the skipped directories, given
// relative to outDir.
func Discover(outDir string, skipped ...string) (*Project, error) {
	info, err := os.Stat(outDir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read build output directory")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("build output path %s is not a directory", outDir)
	}

	fsys := os.DirFS(outDir)
	matches, err := doublestar.Glob(fsys, "**/*.json")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	slices.Sort(matches)

	project := &Project{outDir: outDir, contracts: make(map[string]*Contract)}
	for _, match := range matches {
		if isSkipped(match, skipped) {
			continue
		}
		name := utils.GetFileNameWithoutExtension(path.Base(match))
		// Names are unique per project; the first artifact in path order wins.
		if _, exists := project.contracts[name]; exists {
			continue
		}
		data, err := fs.ReadFile(fsys, match)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		contract, err := parseArtifact(name, match, data)
		if err != nil {
			return nil, err
		}
		project.contracts[name] = contract
	}
	return project, nil
}

// isSkipped reports whether an artifact match is not a build artifact.
func isSkipped(match string, skipped []string) bool {
	if strings.HasSuffix(match, ".metadata.json") || strings.HasPrefix(match, "build-info/") || strings.HasPrefix(match, "kprove/") {
		return true
	}
	for _, dir := range skipped {
		dir = strings.Trim(path.Clean(filepath.ToSlash(dir)), "/")
		if dir != "." && strings.HasPrefix(match, dir+"/") {
			return true
		}
	}
	return false
}

// NewProject creates a project from already parsed contracts.
func NewProject(contracts ...*Contract) *Project {
	project := &Project{contracts: make(map[string]*Contract, len(contracts))}
	for _, contract := range contracts {
		project.contracts[contract.Name] = contract
	}
	return project
}

// OutDirectory returns the build output directory the project was discovered in.
func (p *Project) OutDirectory() string {
	return p.outDir
}

// Contract returns the contract with the given name.
func (p *Project) Contract(name string) (*Contract, bool) {
	contract, ok := p.contracts[name]
	return contract, ok
}

// ContractNames returns the names of every contract, sorted.
func (p *Project) ContractNames() []string {
	names := make([]string, 0, len(p.contracts))
	for name := range p.contracts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dependencies returns the contract and, transitively, every library it links against, sorted by name.
func (p *Project) Dependencies(name string) ([]*Contract, error) {
	visited := make(map[string]*Contract)
	pending := []string{name}
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, seen := visited[current]; seen {
			continue
		}
		contract, ok := p.contracts[current]
		if !ok {
			return nil, errors.Errorf("contract %s referenced from %s was not found in the build output", current, name)
		}
		visited[current] = contract
		pending = append(pending, contract.LinkReferences...)
	}

	dependencies := make([]*Contract, 0, len(visited))
	for _, contract := range visited {
		dependencies = append(dependencies, contract)
	}
	slices.SortFunc(dependencies, func(a, b *Contract) int { return strings.Compare(a.Name, b.Name) })
	return dependencies, nil
}

// AllTests returns every method whose name starts with "test" in every contract whose name ends with "Test",
// sorted by id.
func (p *Project) AllTests() []Unit {
	tests := make([]Unit, 0)
	for _, name := range p.ContractNames() {
		contract := p.contracts[name]
		if !contract.IsTestContract() {
			continue
		}
		for _, method := range contract.ABI.Methods {
			if strings.HasPrefix(method.RawName, "test") {
				tests = append(tests, Unit{Contract: name, Signature: method.Sig})
			}
		}
	}
	slices.SortFunc(tests, compareUnits)
	return tests
}

// AllUnits returns every method of every contract, sorted by id.
func (p *Project) AllUnits() []Unit {
	all := make([]Unit, 0)
	for _, name := range p.ContractNames() {
		for _, signature := range p.contracts[name].Signatures() {
			all = append(all, Unit{Contract: name, Signature: signature})
		}
	}
	return all
}

// Unit resolves a unit identifier against the project.
func (p *Project) Unit(id string) (Unit, error) {
	unit, err := ParseID(id)
	if err != nil {
		return Unit{}, err
	}
	contract, ok := p.contracts[unit.Contract]
	if !ok {
		return Unit{}, errors.WithStack(&UnknownUnitError{Patterns: []string{id}})
	}
	if _, ok = contract.Method(unit.Signature); !ok {
		return Unit{}, errors.WithStack(&UnknownUnitError{Patterns: []string{id}})
	}
	return unit, nil
}

// compileSelectors turns test patterns into regular expressions. Brackets and parentheses are matched literally so
// that signatures can be used as patterns.
func compileSelectors(patterns []string) ([]*regexp.Regexp, error) {
	escaper := strings.NewReplacer("[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`)
	selectors := make([]*regexp.Regexp, len(patterns))
	for i, pattern := range patterns {
		selector, err := regexp.Compile(escaper.Replace(pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid test pattern %q", pattern)
		}
		selectors[i] = selector
	}
	return selectors, nil
}

// matchesAny reports whether any selector matches the unit id.
func matchesAny(selectors []*regexp.Regexp, id string) bool {
	return slices.ContainsFunc(selectors, func(selector *regexp.Regexp) bool { return selector.MatchString(id) })
}

// MatchingTests selects the tests matched by any of the patterns and by none of the exclusion patterns. Without
// patterns, every test is selected. Patterns that match no method of the project at all and selections that come
// out empty are reported as an UnknownUnitError.
func (p *Project) MatchingTests(patterns []string, excludePatterns []string) ([]Unit, error) {
	allTests := p.AllTests()
	if len(patterns) == 0 {
		patterns = make([]string, len(allTests))
		for i, test := range allTests {
			patterns[i] = test.ID()
		}
	}
	selectors, err := compileSelectors(patterns)
	if err != nil {
		return nil, err
	}
	excluded, err := compileSelectors(excludePatterns)
	if err != nil {
		return nil, err
	}

	allUnits := p.AllUnits()
	unfound := make([]string, 0)
	for i, selector := range selectors {
		if !slices.ContainsFunc(allUnits, func(unit Unit) bool { return selector.MatchString(unit.ID()) }) {
			unfound = append(unfound, patterns[i])
		}
	}
	if len(unfound) > 0 {
		return nil, errors.WithStack(&UnknownUnitError{Patterns: unfound})
	}

	matched := make([]Unit, 0)
	for _, test := range allTests {
		if matchesAny(selectors, test.ID()) && !matchesAny(excluded, test.ID()) {
			matched = append(matched, test)
		}
	}
	if len(matched) == 0 {
		return nil, errors.WithStack(&UnknownUnitError{})
	}
	return matched, nil
}

// SetupUnits returns the setup unit of every contract of the given tests which declares one, sorted by id.
func (p *Project) SetupUnits(tests []Unit) []Unit {
	setups := make([]Unit, 0)
	for _, test := range tests {
		contract, ok := p.contracts[test.Contract]
		if !ok || !contract.HasSetup() || slices.Contains(setups, test.Setup()) {
			continue
		}
		setups = append(setups, test.Setup())
	}
	slices.SortFunc(setups, compareUnits)
	return setups
}

// Select returns the setup units followed by the tests selected by the patterns.
func (p *Project) Select(patterns []string, excludePatterns []string) ([]Unit, error) {
	tests, err := p.MatchingTests(patterns, excludePatterns)
	if err != nil {
		return nil, err
	}
	return append(p.SetupUnits(tests), tests...), nil
}

// compareUnits orders units by id.
func compareUnits(a, b Unit) int {
	return strings.Compare(a.ID(), b.ID())
}
