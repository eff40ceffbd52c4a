package registry

import (
	"net/url"
	"regexp"
	"strings"
)

// Package file extensions stripped from extracted versions. filepath.Ext is
// not usable here because it treats "0.0.1" as having an extension.
var packageExtensions = []string{".tar.gz", ".crate", ".tgz", ".gem", ".whl", ".zip"}

// Detector reads package identities out of registry download requests
type Detector struct {
	config *Config
}

// NewDetector creates a Detector over the given registry configuration
func NewDetector(config *Config) *Detector {
	return &Detector{config: config}
}

// Detect matches a request host and path against the configured registries
// and returns the package identity being downloaded, or nil when the request
// is not a recognizable package download.
func (d *Detector) Detect(host, path string) *Identity {
	for _, reg := range d.config.Registries {
		if !hostMatches(host, reg.Hosts) {
			continue
		}
		for _, pattern := range reg.Downloads {
			if identity := match(reg.Ecosystem, pattern, path); identity != nil {
				return identity
			}
		}
	}
	return nil
}

// KnownHost reports whether the host belongs to any configured registry
func (d *Detector) KnownHost(host string) bool {
	for _, reg := range d.config.Registries {
		if hostMatches(host, reg.Hosts) {
			return true
		}
	}
	return false
}

func hostMatches(host string, configHosts []string) bool {
	if colon := strings.LastIndex(host, ":"); colon != -1 {
		host = host[:colon]
	}
	for _, configHost := range configHosts {
		if after, ok := strings.CutPrefix(configHost, "*."); ok {
			if host == after || strings.HasSuffix(host, "."+after) {
				return true
			}
		} else if host == configHost {
			return true
		}
	}
	return false
}

func match(ecosystem string, pattern DownloadPattern, path string) *Identity {
	groups := namedGroups(pattern.compiled, path)
	if groups == nil {
		return nil
	}

	var name, version string
	switch {
	case pattern.Extract.nameVersionRegex != nil:
		name, version = splitFile(pattern.Extract.nameVersionRegex, groups["file"])

	case pattern.Extract.versionRegex != nil:
		name, version = fileVersion(pattern.Extract.versionRegex, groups)

	default:
		name = groups["name"]
		if name == "" {
			name = groups["package"]
		}
		name, _ = url.QueryUnescape(name)
		version = groups["version"]
	}

	if name == "" || version == "" {
		return nil
	}

	for _, ext := range packageExtensions {
		if strings.HasSuffix(version, ext) {
			version = strings.TrimSuffix(version, ext)
			break
		}
	}

	return &Identity{Ecosystem: ecosystem, Name: name, Version: version}
}

// splitFile extracts both name and version from a file group, for registries
// whose download paths carry only a combined filename
func splitFile(re *regexp.Regexp, file string) (string, string) {
	groups := namedGroups(re, file)
	if groups == nil {
		return "", ""
	}
	return groups["name"], groups["version"]
}

// fileVersion extracts the version from a file group while the name comes
// from the path. Scoped names (@scope%2Fname) are reassembled from their
// scope and name groups.
func fileVersion(re *regexp.Regexp, groups map[string]string) (string, string) {
	file := groups["file"]
	if file == "" {
		return "", ""
	}

	name := groups["package"]
	base := name
	if scope := groups["scope"]; scope != "" {
		decoded, _ := url.QueryUnescape(scope)
		base = groups["name"]
		name = decoded + "/" + base
	} else {
		name, _ = url.QueryUnescape(name)
	}
	if name == "" {
		return "", ""
	}

	// Filenames are conventionally <name>-<version>; fall back to the
	// configured regex when the prefix does not line up.
	if version, ok := strings.CutPrefix(file, base+"-"); ok {
		return name, version
	}
	fileGroups := namedGroups(re, file)
	if fileGroups == nil {
		return "", ""
	}
	return name, fileGroups["version"]
}

func namedGroups(re *regexp.Regexp, s string) map[string]string {
	matches := re.FindStringSubmatch(s)
	if matches == nil {
		return nil
	}
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i != 0 && name != "" && i < len(matches) {
			groups[name] = matches[i]
		}
	}
	return groups
}
