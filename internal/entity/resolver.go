// Package entity resolves raw cell identifiers into stable, deduplicated
// enrichment entities.
package entity

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/enrich-engine/internal/model"
)

// personalMailDomains are consumer mail providers; an email at one of these
// identifies a person rather than a company.
var personalMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"me.com":         true,
	"aol.com":        true,
	"proton.me":      true,
	"protonmail.com": true,
}

var fold = cases.Fold()

// Resolved is the outcome of normalizing and classifying one identifier.
type Resolved struct {
	EntityID             string
	Type                 model.EntityType
	Identifier           string
	NormalizedIdentifier string
}

// Resolve normalizes a raw identifier and classifies it. declared may be
// EntityUnknown to request type inference. Resolve is a pure function:
// the same input always yields the same EntityID, and resolving an already
// normalized identifier is a no-op.
func Resolve(raw string, declared model.EntityType) Resolved {
	norm := normalize(raw)
	typ := declared
	if typ == "" || typ == model.EntityUnknown {
		typ = inferType(norm)
	}

	// LinkedIn URLs reduce to a slug form so profile and company links
	// from different cells collapse to the same entity.
	if slug, kind, ok := linkedInSlug(norm); ok {
		switch kind {
		case "in":
			norm = "linkedin:" + slug
			typ = model.EntityPerson
		case "company":
			norm = "linkedin:company:" + slug
			typ = model.EntityCompany
		}
	}

	return Resolved{
		EntityID:             string(typ) + ":" + safeKey(norm),
		Type:                 typ,
		Identifier:           raw,
		NormalizedIdentifier: norm,
	}
}

// normalize lowercases and strips protocol, www prefix and trailing slash.
func normalize(raw string) string {
	s := fold.String(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, "/")
	return s
}

// inferType classifies a normalized identifier when no type was declared.
func inferType(norm string) model.EntityType {
	switch {
	case strings.HasPrefix(norm, "linkedin:company:"):
		return model.EntityCompany
	case strings.HasPrefix(norm, "linkedin:"):
		return model.EntityPerson
	case strings.Contains(norm, "linkedin.com/in/"):
		return model.EntityPerson
	case strings.Contains(norm, "linkedin.com/company/"):
		return model.EntityCompany
	case strings.Contains(norm, "@"):
		domain := norm[strings.LastIndex(norm, "@")+1:]
		if personalMailDomains[domain] {
			return model.EntityPerson
		}
		return model.EntityCompany
	case strings.Contains(norm, ".") && !strings.ContainsAny(norm, " \t"):
		return model.EntityCompany
	default:
		return model.EntityUnknown
	}
}

// linkedInSlug extracts the profile or company slug from a normalized
// LinkedIn URL. kind is "in" or "company".
func linkedInSlug(norm string) (slug, kind string, ok bool) {
	idx := strings.Index(norm, "linkedin.com/")
	if idx < 0 {
		return "", "", false
	}
	rest := norm[idx+len("linkedin.com/"):]
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[1] == "" {
		return "", "", false
	}
	switch parts[0] {
	case "in", "company":
		slug = parts[1]
		if q := strings.IndexAny(slug, "?#"); q >= 0 {
			slug = slug[:q]
		}
		return slug, parts[0], slug != ""
	}
	return "", "", false
}

// safeKey filters an identifier down to characters safe for use in keys
// and URLs. Anything outside [a-z0-9:._@/-] becomes a hyphen.
func safeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == ':', r == '.', r == '_', r == '@', r == '/', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
