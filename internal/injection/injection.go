// Package injection implements the best-effort prompt-injection filter
// from spec section 4.6. It is defense in depth, not a security
// boundary: the real defense is the priority order enforced by the
// system instruction (internal/prompt).
package injection

import "regexp"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|all)\s+instructions?`),
	regexp.MustCompile(`(?i)system\s*:`),
	regexp.MustCompile(`(?i)assistant\s*:`),
	regexp.MustCompile(`(?i)<\|im_start\|>`),
	regexp.MustCompile(`(?i)<\|im_end\|>`),
	regexp.MustCompile(`(?i)\[INST\]`),
	regexp.MustCompile(`(?i)\[/INST\]`),
}

// base64Run matches an unbroken run of >=50 base64-alphabet
// characters followed by '=' or '==' padding that ends the token (end
// of text or a character outside the base64 alphabet).
var base64Run = regexp.MustCompile(`[A-Za-z0-9+/]{50,}={1,2}(?:[^A-Za-z0-9+/=]|$)`)

// symbolRun matches 10 or more consecutive non-word, non-space
// characters — a crude proxy for obfuscated control sequences.
var symbolRun = regexp.MustCompile(`[^\w\s]{10,}`)

// Suspicious reports whether text matches any of the known attack
// heuristics from spec section 4.6.
func Suspicious(text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	if base64Run.MatchString(text) {
		return true
	}
	if symbolRun.MatchString(text) {
		return true
	}
	return false
}
