// Package inventory models the dependency set under audit: one record per
// resolved package version, plus the dependency graph between them.
package inventory

// OriginKind classifies where a dependency was resolved from
type OriginKind string

const (
	OriginRegistry OriginKind = "registry"
	OriginGit      OriginKind = "git"
	OriginLocal    OriginKind = "local"
)

// Origin describes the source a dependency was fetched from
type Origin struct {
	Kind OriginKind `json:"kind"`
	// URL is the registry or git URL. Empty for registry origins means
	// the default registry of the ecosystem.
	URL string `json:"url,omitempty"`
}

// License is a detected license expression with its detection confidence
type License struct {
	Expression string  `json:"expression"`
	Confidence float64 `json:"confidence"`
}

// FileDigest pins a license file path to its SHA-256 content hash
type FileDigest struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Record describes one resolved dependency version
type Record struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Ref       string `json:"ref,omitempty"`
	Ecosystem string `json:"ecosystem,omitempty"`
	PURL      string `json:"purl,omitempty"`

	// Requirement is the declared version requirement that resolved to
	// this version, when the resolver knows it
	Requirement string `json:"requirement,omitempty"`

	License      License      `json:"license"`
	LicenseFiles []FileDigest `json:"license_files,omitempty"`
	Origin       Origin       `json:"origin"`
	Yanked       bool         `json:"yanked,omitempty"`
}

// ID returns the record's name@version identity
func (r Record) ID() string {
	return r.Name + "@" + r.Version
}

// Inventory is the full dependency set with its graph
type Inventory struct {
	Records []Record

	edges   map[string][]string // ref -> child refs
	byRef   map[string]int      // ref -> index into Records
	byName  map[string][]int    // name -> indices into Records
	parents map[string]int      // ref -> number of dependents
}

// New builds an inventory from records and graph edges
func New(records []Record, edges map[string][]string) *Inventory {
	inv := &Inventory{Records: records, edges: edges}
	inv.reindex()
	return inv
}

func (inv *Inventory) reindex() {
	if inv.edges == nil {
		inv.edges = make(map[string][]string)
	}
	inv.byRef = make(map[string]int, len(inv.Records))
	inv.byName = make(map[string][]int, len(inv.Records))
	inv.parents = make(map[string]int)

	for i := range inv.Records {
		r := &inv.Records[i]
		if r.Ref == "" {
			r.Ref = r.ID()
		}
		inv.byRef[r.Ref] = i
		inv.byName[r.Name] = append(inv.byName[r.Name], i)
	}
	for _, children := range inv.edges {
		for _, child := range children {
			inv.parents[child]++
		}
	}
}

// Len returns the number of records
func (inv *Inventory) Len() int {
	return len(inv.Records)
}

// ByName returns all records sharing the given package name
func (inv *Inventory) ByName(name string) []*Record {
	idx := inv.byName[name]
	records := make([]*Record, len(idx))
	for i, j := range idx {
		records[i] = &inv.Records[j]
	}
	return records
}

// ByRef returns the record with the given ref, or nil
func (inv *Inventory) ByRef(ref string) *Record {
	i, ok := inv.byRef[ref]
	if !ok {
		return nil
	}
	return &inv.Records[i]
}

// HasName reports whether any record carries the given package name
func (inv *Inventory) HasName(name string) bool {
	return len(inv.byName[name]) > 0
}

// Dependents returns how many records depend directly on the given ref
func (inv *Inventory) Dependents(ref string) int {
	return inv.parents[ref]
}

// Subtree returns the set of record refs reachable from any record with the
// given name, including the roots themselves
func (inv *Inventory) Subtree(name string) map[string]struct{} {
	reached := make(map[string]struct{})

	queue := make([]string, 0, len(inv.byName[name]))
	for _, i := range inv.byName[name] {
		queue = append(queue, inv.Records[i].Ref)
	}

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, seen := reached[ref]; seen {
			continue
		}
		reached[ref] = struct{}{}
		queue = append(queue, inv.edges[ref]...)
	}

	return reached
}
