package policy

// ActionLevel represents the action taken when a check matches
type ActionLevel string

const (
	ActionDeny   ActionLevel = "deny"
	ActionWarn   ActionLevel = "warn"
	ActionNotice ActionLevel = "notice"
	ActionAllow  ActionLevel = "allow"
	ActionIgnore ActionLevel = "ignore"
)

// actionRanks orders action levels for verdict aggregation
var actionRanks = map[ActionLevel]int{
	ActionIgnore: 0,
	ActionAllow:  1,
	ActionNotice: 2,
	ActionWarn:   3,
	ActionDeny:   4,
}

// Rank returns the severity rank of the action level (deny is highest)
func (a ActionLevel) Rank() int {
	return actionRanks[a]
}

// Valid reports whether the action level is one of the recognized values
func (a ActionLevel) Valid() bool {
	_, ok := actionRanks[a]
	return ok
}

// Highlight selects which duplicate version to surface in a report
type Highlight string

const (
	HighlightAll      Highlight = "all"
	HighlightNewest   Highlight = "newest"
	HighlightMostUsed Highlight = "most-used"
)

// Document is a parsed and validated audit policy.
// It is immutable after Load/Parse; lookup tables are built once.
type Document struct {
	Advisories AdvisoryPolicy `toml:"advisories"`
	Bans       BanPolicy      `toml:"bans"`
	Licenses   LicensePolicy  `toml:"licenses"`
	Sources    SourcePolicy   `toml:"sources"`
}

// AdvisoryPolicy maps advisory categories to action levels
type AdvisoryPolicy struct {
	Vulnerability ActionLevel `toml:"vulnerability" validate:"oneof=deny warn notice allow ignore"`
	Unmaintained  ActionLevel `toml:"unmaintained" validate:"oneof=deny warn notice allow ignore"`
	Unsound       ActionLevel `toml:"unsound" validate:"oneof=deny warn notice allow ignore"`
	Yanked        ActionLevel `toml:"yanked" validate:"oneof=deny warn notice allow ignore"`
	Notice        ActionLevel `toml:"notice" validate:"oneof=deny warn notice allow ignore"`

	// Ignore lists advisory IDs that are suppressed entirely
	Ignore []string `toml:"ignore"`

	ignored map[string]struct{}
}

// IsIgnored reports whether the advisory ID is suppressed by the policy
func (p *AdvisoryPolicy) IsIgnored(id string) bool {
	_, ok := p.ignored[id]
	return ok
}

// BanPolicy governs denied packages and duplicate/wildcard version checks
type BanPolicy struct {
	MultipleVersions ActionLevel `toml:"multiple-versions" validate:"oneof=deny warn notice allow ignore"`
	Wildcards        ActionLevel `toml:"wildcards" validate:"oneof=deny warn notice allow ignore"`
	Highlight        Highlight   `toml:"highlight" validate:"oneof=all newest most-used"`

	// Deny lists package names rejected unconditionally
	Deny []string `toml:"deny"`
	// Skip exempts package names from the duplicate-version check
	Skip []string `toml:"skip"`
	// SkipTree exempts package names and their transitive dependencies
	// from the duplicate-version check
	SkipTree []string `toml:"skip-tree"`

	denied    map[string]struct{}
	skipped   map[string]struct{}
	treeRoots map[string]struct{}
}

// IsDenied reports whether the package name is unconditionally rejected
func (p *BanPolicy) IsDenied(name string) bool {
	_, ok := p.denied[name]
	return ok
}

// IsSkipped reports whether the package name is exempt from the
// duplicate-version check
func (p *BanPolicy) IsSkipped(name string) bool {
	_, ok := p.skipped[name]
	return ok
}

// IsSkipTreeRoot reports whether the package name roots an exempted subtree
func (p *BanPolicy) IsSkipTreeRoot(name string) bool {
	_, ok := p.treeRoots[name]
	return ok
}

// LicensePolicy governs which license expressions are acceptable
type LicensePolicy struct {
	Unlicensed ActionLevel `toml:"unlicensed" validate:"oneof=deny warn notice allow ignore"`

	// ConfidenceThreshold is the minimum detection confidence required
	// before a detected license expression is trusted
	ConfidenceThreshold float64 `toml:"confidence-threshold" validate:"gte=0,lte=1"`

	// Allow is the set of permitted SPDX license identifiers
	Allow []string `toml:"allow"`

	// Exceptions grant additional licenses to a single named package
	Exceptions []Exception `toml:"exceptions" validate:"dive"`

	// Clarify asserts the true license of a package when detection is
	// unreliable, pinned to license file hashes for staleness detection
	Clarify []Clarification `toml:"clarify" validate:"dive"`

	allowed    map[string]struct{}
	exceptions map[string]map[string]struct{}
	clarified  map[string]*Clarification
}

// Exception grants extra allowed licenses scoped to one package
type Exception struct {
	Name  string   `toml:"name" validate:"required"`
	Allow []string `toml:"allow" validate:"required,min=1"`
}

// Clarification overrides license detection for one package, provided the
// referenced license files still carry the recorded hashes
type Clarification struct {
	Name         string        `toml:"name" validate:"required"`
	Expression   string        `toml:"expression" validate:"required"`
	LicenseFiles []LicenseFile `toml:"license-files" validate:"required,min=1,dive"`
}

// LicenseFile pins a license file path to its SHA-256 content hash
type LicenseFile struct {
	Path string `toml:"path" validate:"required"`
	Hash string `toml:"hash" validate:"required,hexadecimal"`
}

// Allows reports whether the license identifier is in the global allow set
func (p *LicensePolicy) Allows(id string) bool {
	_, ok := p.allowed[id]
	return ok
}

// AllowsFor reports whether the license identifier is allowed for the named
// package, either globally or through a per-package exception
func (p *LicensePolicy) AllowsFor(name, id string) bool {
	if p.Allows(id) {
		return true
	}
	if extra, ok := p.exceptions[name]; ok {
		_, ok := extra[id]
		return ok
	}
	return false
}

// HasExceptionFor reports whether the named package has an exception entry
func (p *LicensePolicy) HasExceptionFor(name string) bool {
	_, ok := p.exceptions[name]
	return ok
}

// ClarificationFor returns the clarification for the named package, or nil
func (p *LicensePolicy) ClarificationFor(name string) *Clarification {
	return p.clarified[name]
}

// SourcePolicy governs which package origins are trusted
type SourcePolicy struct {
	UnknownRegistry ActionLevel `toml:"unknown-registry" validate:"oneof=deny warn notice allow ignore"`
	UnknownGit      ActionLevel `toml:"unknown-git" validate:"oneof=deny warn notice allow ignore"`

	// AllowGit lists git URLs exempted from the unknown-git rule.
	// Matching is exact: no normalization of case, trailing slashes or
	// .git suffixes is performed.
	AllowGit []string `toml:"allow-git"`

	// AllowRegistry lists registry URLs trusted in addition to the
	// built-in registry definitions
	AllowRegistry []string `toml:"allow-registry"`

	gitAllowed      map[string]struct{}
	registryAllowed map[string]struct{}
}

// AllowsGit reports whether the git URL is explicitly trusted
func (p *SourcePolicy) AllowsGit(url string) bool {
	_, ok := p.gitAllowed[url]
	return ok
}

// AllowsRegistry reports whether the registry URL is trusted by the policy
// itself; built-in registry definitions are checked by the caller
func (p *SourcePolicy) AllowsRegistry(url string) bool {
	_, ok := p.registryAllowed[url]
	return ok
}

// index builds the lookup tables once after a successful load
func (d *Document) index() {
	d.Advisories.ignored = stringSet(d.Advisories.Ignore)
	d.Bans.denied = stringSet(d.Bans.Deny)
	d.Bans.skipped = stringSet(d.Bans.Skip)
	d.Bans.treeRoots = stringSet(d.Bans.SkipTree)

	d.Licenses.allowed = stringSet(d.Licenses.Allow)
	d.Licenses.exceptions = make(map[string]map[string]struct{}, len(d.Licenses.Exceptions))
	for _, e := range d.Licenses.Exceptions {
		// multiple exception entries for the same package merge
		set, ok := d.Licenses.exceptions[e.Name]
		if !ok {
			set = make(map[string]struct{}, len(e.Allow))
			d.Licenses.exceptions[e.Name] = set
		}
		for _, id := range e.Allow {
			set[id] = struct{}{}
		}
	}
	d.Licenses.clarified = make(map[string]*Clarification, len(d.Licenses.Clarify))
	for i := range d.Licenses.Clarify {
		c := &d.Licenses.Clarify[i]
		d.Licenses.clarified[c.Name] = c
	}

	d.Sources.gitAllowed = stringSet(d.Sources.AllowGit)
	d.Sources.registryAllowed = stringSet(d.Sources.AllowRegistry)
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
