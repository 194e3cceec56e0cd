// Package delegated implements the four operations that consume a secret
// on the caller's behalf without ever returning its plaintext: fetch,
// exec, sign, and verify.
package delegated

import "strings"

const placeholder = "{{secret}}"

// Substitute replaces every literal occurrence of {{secret}} in s with
// val. The replacement is byte-literal: no URL-escaping, no shell-aware
// quoting. Callers that need an escaped value must pre-encode it before
// it reaches the template.
func Substitute(s, val string) string {
	return strings.ReplaceAll(s, placeholder, val)
}

// SubstituteMap applies Substitute to every value in m, returning a new
// map. Keys are left untouched.
func SubstituteMap(m map[string]string, val string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Substitute(v, val)
	}
	return out
}
