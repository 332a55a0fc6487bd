package domain

import "sort"

// IdentityKey names a lock or index entry for one identity value, e.g. "phoneNumber:987654321".
func IdentityKey(field, value string) string {
	return field + ":" + value
}

// IdentityKeys returns the keys of every non-empty identity field of w.
func (w *Wallet) IdentityKeys() []string {
	keys := make([]string, 0, 4)
	for _, f := range w.IdentityFields() {
		if f.Value != "" {
			keys = append(keys, IdentityKey(f.Name, f.Value))
		}
	}
	return keys
}

// NormalizeKeys drops empty and duplicate keys and sorts the rest, giving
// every caller the same acquisition order.
func NormalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
