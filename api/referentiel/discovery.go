package referentiel

import (
	"strings"

	"ArtiBudget/api/importer/excelparse"
)

// Sheet and column discovery works on normalized names: lowercase, accents
// stripped, alphanumeric only. "Sous-activités " and "SOUS ACTIVITES" both
// normalize to "sousactivites".
func normalizeName(s string) string {
	s = strings.ToLower(excelparse.StripAccents(s))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// findByName returns the index of the first candidate whose normalized form
// matches a normalized pattern exactly, then falls back to substring matches
// in either direction.
func findByName(candidates []string, patterns []string) int {
	normalized := make([]string, len(candidates))
	for i, c := range candidates {
		normalized[i] = normalizeName(c)
	}
	norm := make([]string, len(patterns))
	for i, p := range patterns {
		norm[i] = normalizeName(p)
	}

	for _, p := range norm {
		for i, c := range normalized {
			if c != "" && c == p {
				return i
			}
		}
	}
	for _, p := range norm {
		for i, c := range normalized {
			if c == "" || p == "" {
				continue
			}
			if strings.Contains(c, p) || strings.Contains(p, c) {
				return i
			}
		}
	}
	return -1
}

func findSheet(sheets []excelparse.Sheet, patterns []string) int {
	names := make([]string, len(sheets))
	for i, s := range sheets {
		names[i] = s.Name
	}
	return findByName(names, patterns)
}

func findColumn(headers []string, patterns []string) int {
	return findByName(headers, patterns)
}
