package orchestrator

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// resolveAliases pulls registered source aliases out of free text, in
// order of appearance. Matching is exact first, then a normalized
// heuristic: singular/plural variants and a trailing "csv" word mapping
// to a `_csv` alias suffix ("payment csv" resolves to "payments_csv").
func resolveAliases(text string, aliases []string) []string {
	known := make(map[string]bool, len(aliases))
	for _, alias := range aliases {
		known[alias] = true
	}

	tokens := tokenize(text)
	var found []string
	taken := make(map[string]bool)

	add := func(alias string) {
		if alias != "" && !taken[alias] {
			taken[alias] = true
			found = append(found, alias)
		}
	}

	for i := 0; i < len(tokens); i++ {
		// A "<term> csv" bigram binds tighter than the bare term so
		// "invoices csv" picks invoices_csv over invoices.
		if i+1 < len(tokens) && tokens[i+1] == "csv" {
			if alias := matchAlias(tokens[i]+"_csv", known); alias != "" {
				add(alias)
				i++
				continue
			}
		}
		add(matchAlias(tokens[i], known))
	}

	return found
}

// matchAlias tries the term and its singular/plural variants, with and
// without the `_csv` suffix carried along.
func matchAlias(term string, known map[string]bool) string {
	base := term
	suffix := ""
	if strings.HasSuffix(term, "_csv") {
		base = strings.TrimSuffix(term, "_csv")
		suffix = "_csv"
	}

	for _, candidate := range []string{
		base,
		inflection.Plural(base),
		inflection.Singular(base),
	} {
		if known[candidate+suffix] {
			return candidate + suffix
		}
	}
	return ""
}

func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, text)
	return strings.Fields(cleaned)
}
