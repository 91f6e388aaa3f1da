package lobby

import (
	"crypto/sha256"
	"fmt"
	"path"
	"strings"
)

// PrivacyFilter decides which entries are listed publicly and masks fields
// that should not leave the server before a join. The zero value is a no-op
// filter.
type PrivacyFilter struct {
	MaskAddresses bool
	MaskOwnerIDs  bool
	HideFull      bool
	AllowedNames  []string
	BlockedNames  []string
}

// IsAllowed reports whether an entry with the given server name should be
// listed. When AllowedNames is non-empty the name must match at least one
// pattern; it must then not match any BlockedNames pattern. Matching is
// case-insensitive glob matching.
func (f *PrivacyFilter) IsAllowed(serverName string) bool {
	name := strings.ToLower(serverName)

	if len(f.AllowedNames) > 0 {
		allowed := false
		for _, pattern := range f.AllowedNames {
			if matchName(pattern, name) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedNames {
		if matchName(pattern, name) {
			return false
		}
	}

	return true
}

func matchName(pattern, name string) bool {
	matched, err := path.Match(strings.ToLower(pattern), name)
	return err == nil && matched
}

// Apply returns a copy of the entry with masked fields cleared. The original
// entry is never modified.
func (f *PrivacyFilter) Apply(e *Entry) *Entry {
	masked := e.Clone()

	if f.MaskAddresses {
		masked.Address = ""
	}

	if f.MaskOwnerIDs && masked.OwnerID != "" {
		masked.OwnerID = shortHash(masked.OwnerID)
	}

	return masked
}

// FilterSlice returns the listable entries with masking applied. The input
// slice is not modified.
func (f *PrivacyFilter) FilterSlice(entries []*Entry) []*Entry {
	result := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if f.HideFull && e.IsFull() {
			continue
		}
		if !f.IsAllowed(e.ServerName()) {
			continue
		}
		result = append(result, f.Apply(e))
	}
	return result
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskAddresses && !f.MaskOwnerIDs && !f.HideFull &&
		len(f.AllowedNames) == 0 && len(f.BlockedNames) == 0
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
