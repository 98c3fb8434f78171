// Package slugs maps SEO-friendly region slugs to Octopus region codes for
// region-first URLs (for example "london" -> "C"). The mapping is derived
// from the region name table so there is a single source of truth.
package slugs

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"

	"github.com/parkes-group/octopus/internal/pkg/config"
)

var (
	slugToCode map[string]string
	codeToSlug map[string]string
)

func init() {
	slugToCode = make(map[string]string, len(config.RegionNames))
	codeToSlug = make(map[string]string, len(config.RegionNames))
	for code, name := range config.RegionNames {
		s := slug.Make(name)
		if existing, ok := slugToCode[s]; ok {
			panic(fmt.Sprintf("region slug collision: %q maps to both %s and %s", s, existing, code))
		}
		slugToCode[s] = code
		codeToSlug[code] = s
	}
}

// CodeFromSlug resolves a region slug to its Octopus region code.
func CodeFromSlug(regionSlug string) (string, bool) {
	code, ok := slugToCode[strings.ToLower(strings.TrimSpace(regionSlug))]
	return code, ok
}

// SlugFromCode resolves an Octopus region code to its slug.
func SlugFromCode(regionCode string) (string, bool) {
	s, ok := codeToSlug[strings.ToUpper(strings.TrimSpace(regionCode))]
	return s, ok
}

// NameFromCode resolves an Octopus region code to its display name.
func NameFromCode(regionCode string) (string, bool) {
	name, ok := config.RegionNames[strings.ToUpper(strings.TrimSpace(regionCode))]
	return name, ok
}

// All returns every slug -> code pair, for sitemap style enumeration.
func All() map[string]string {
	out := make(map[string]string, len(slugToCode))
	for s, code := range slugToCode {
		out[s] = code
	}
	return out
}
