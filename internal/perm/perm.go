// Package perm evaluates a credential's permission map against an action key.
package perm

import "strings"

// Wildcard keys that grant every action when mapped to true.
var wildcards = []string{"*", "all", "__all__"}

// actions is the closed set of external-API action keys.
var actions = map[string]bool{
	"get_email":       true,
	"mail_new":        true,
	"mail_text":       true,
	"mail_all":        true,
	"process_mailbox": true,
	"list_emails":     true,
	"pool_stats":      true,
	"pool_reset":      true,
}

// KnownAction reports whether key names a real action (or a wildcard),
// after normalization. Admin-side validation rejects anything else.
func KnownAction(key string) bool {
	normalized := Normalize(key)
	for _, w := range wildcards {
		if normalized == w {
			return true
		}
	}
	return actions[normalized]
}

// NormalizeMap rewrites the map onto normalized keys so hyphenated
// aliases never reach storage.
func NormalizeMap(permissions map[string]bool) map[string]bool {
	if permissions == nil {
		return nil
	}
	out := make(map[string]bool, len(permissions))
	for k, v := range permissions {
		out[Normalize(k)] = v
	}
	return out
}

// Normalize canonicalizes an action key: trimmed, lower-cased, hyphens
// replaced with underscores.
func Normalize(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	return strings.ReplaceAll(action, "-", "_")
}

// Allowed decides whether the permission map permits the action.
// Decision order, first match wins:
//  1. absent or empty map allows everything
//  2. a wildcard key mapped to true allows everything
//  3. the normalized action key, if present, decides
//  4. the hyphenated alias of the normalized key, if present, decides
//  5. otherwise deny
func Allowed(permissions map[string]bool, action string) bool {
	if len(permissions) == 0 {
		return true
	}

	for _, w := range wildcards {
		if permissions[w] {
			return true
		}
	}

	normalized := Normalize(action)
	if v, ok := permissions[normalized]; ok {
		return v
	}

	hyphenated := strings.ReplaceAll(normalized, "_", "-")
	if v, ok := permissions[hyphenated]; ok {
		return v
	}

	return false
}
