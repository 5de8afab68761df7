package message

import "strings"

// BareID strips the resource part: "svc@dom/res" becomes "svc@dom".
func BareID(id string) string {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		return id[:i]
	}
	return id
}

// SanitizeID trims id and appends "@domain" when it has no domain of its own.
func SanitizeID(id, domain string) string {
	id = strings.TrimSpace(id)
	if id == "" || domain == "" || strings.Contains(id, "@") {
		return id
	}
	return id + "@" + domain
}

// Domain returns the domain of id, or "" when there is none.
func Domain(id string) string {
	bare := BareID(id)
	if i := strings.LastIndexByte(bare, '@'); i >= 0 {
		return bare[i+1:]
	}
	return ""
}

// Local returns the part of id before the "@".
func Local(id string) string {
	bare := BareID(id)
	if i := strings.LastIndexByte(bare, '@'); i >= 0 {
		return bare[:i]
	}
	return bare
}

// SameID compares the bare forms of two identities case-insensitively.
func SameID(a, b string) bool {
	return strings.EqualFold(BareID(a), BareID(b))
}
