package config

import (
	"os"
	"strings"
)

// StrictDiffFieldValidation rejects change-request diffs that reference
// fields outside the target's mutable-field set at submission time.
// Default off: older clients still submit diffs carrying legacy keys, and
// those keys are dropped at apply time instead.
//
// Set via env:
// - STRICT_DIFF_FIELD_VALIDATION=true
func StrictDiffFieldValidation() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_DIFF_FIELD_VALIDATION")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// DisableScopeCache turns off Redis caching of resolved zone scopes.
// Useful while debugging stale-permission reports.
//
// Set via env:
// - DISABLE_SCOPE_CACHE=true
func DisableScopeCache() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISABLE_SCOPE_CACHE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
