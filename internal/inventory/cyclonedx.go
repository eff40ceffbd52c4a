package inventory

import (
	"bytes"
	"strconv"
	"strings"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/package-url/packageurl-go"
	"github.com/pkg/errors"
)

// Component properties carrying resolver metadata that CycloneDX has no
// first-class field for.
const (
	propConfidence  = "denygate:license-confidence"
	propRequirement = "denygate:requirement"
	propYanked      = "denygate:yanked"
)

// ReadCycloneDX parses a CycloneDX JSON BOM into an inventory. Components
// become records and the BOM dependency section becomes the graph.
func ReadCycloneDX(data []byte) (*Inventory, error) {
	bom := new(cdx.BOM)
	decoder := cdx.NewBOMDecoder(bytes.NewReader(data), cdx.BOMFileFormatJSON)
	if err := decoder.Decode(bom); err != nil {
		return nil, errors.Wrap(err, "failed to decode CycloneDX document")
	}

	var records []Record
	if bom.Components != nil {
		records = make([]Record, 0, len(*bom.Components))
		for _, component := range *bom.Components {
			records = append(records, componentRecord(component))
		}
	}

	edges := make(map[string][]string)
	if bom.Dependencies != nil {
		for _, dep := range *bom.Dependencies {
			if dep.Dependencies == nil {
				continue
			}
			edges[dep.Ref] = append(edges[dep.Ref], *dep.Dependencies...)
		}
	}

	return New(records, edges), nil
}

func componentRecord(component cdx.Component) Record {
	record := Record{
		Name:    component.Name,
		Version: component.Version,
		Ref:     component.BOMRef,
		PURL:    component.PackageURL,
		Origin:  Origin{Kind: OriginLocal},
	}

	if component.PackageURL != "" {
		if purl, err := packageurl.FromString(component.PackageURL); err == nil {
			applyPURL(&record, purl)
		}
	}

	record.License.Expression = licenseExpression(component.Licenses)
	if record.License.Expression != "" {
		record.License.Confidence = 1.0
	}

	if component.Properties != nil {
		for _, prop := range *component.Properties {
			switch prop.Name {
			case propConfidence:
				if v, err := strconv.ParseFloat(prop.Value, 64); err == nil {
					record.License.Confidence = v
				}
			case propRequirement:
				record.Requirement = prop.Value
			case propYanked:
				record.Yanked = prop.Value == "true"
			}
		}
	}

	record.LicenseFiles = licenseFileDigests(component.ExternalReferences)

	return record
}

func applyPURL(record *Record, purl packageurl.PackageURL) {
	record.Ecosystem = purl.Type
	record.Name = purl.Name
	if purl.Namespace != "" {
		record.Name = purl.Namespace + "/" + purl.Name
	}
	if purl.Version != "" {
		record.Version = purl.Version
	}

	qualifiers := purl.Qualifiers.Map()
	switch {
	case qualifiers["vcs_url"] != "":
		record.Origin = Origin{Kind: OriginGit, URL: normalizeGitURL(qualifiers["vcs_url"])}
	case purl.Type == "github" || purl.Type == "gitlab" || purl.Type == "bitbucket":
		record.Origin = Origin{Kind: OriginGit, URL: "https://" + purl.Type + ".com/" + purl.Namespace + "/" + purl.Name}
	case qualifiers["repository_url"] != "":
		record.Origin = Origin{Kind: OriginRegistry, URL: qualifiers["repository_url"]}
	default:
		// Registry origin with no URL means the ecosystem default.
		record.Origin = Origin{Kind: OriginRegistry}
	}
}

// normalizeGitURL strips the git+ scheme prefix and any query or fragment, so
// the recorded URL compares cleanly against policy allow lists.
func normalizeGitURL(raw string) string {
	url := strings.TrimPrefix(raw, "git+")
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return url
}

func licenseExpression(choices *cdx.Licenses) string {
	if choices == nil {
		return ""
	}
	var parts []string
	for _, choice := range *choices {
		switch {
		case choice.Expression != "":
			parts = append(parts, choice.Expression)
		case choice.License != nil && choice.License.ID != "":
			parts = append(parts, choice.License.ID)
		case choice.License != nil && choice.License.Name != "":
			parts = append(parts, choice.License.Name)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	// Multiple entries all apply to the component, so they conjoin.
	for i, part := range parts {
		if strings.ContainsAny(part, " ") {
			parts[i] = "(" + part + ")"
		}
	}
	return strings.Join(parts, " AND ")
}

func licenseFileDigests(refs *[]cdx.ExternalReference) []FileDigest {
	if refs == nil {
		return nil
	}
	var digests []FileDigest
	for _, ref := range *refs {
		if ref.Type != cdx.ERTypeLicense || ref.Hashes == nil {
			continue
		}
		for _, hash := range *ref.Hashes {
			if hash.Algorithm != cdx.HashAlgoSHA256 {
				continue
			}
			digests = append(digests, FileDigest{Path: ref.URL, SHA256: hash.Value})
		}
	}
	return digests
}
