package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces any detected credential.
const RedactedPlaceholder = "[REDACTED]"

// secretPatterns are compiled once; order matters only for readability.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`hf_[A-Za-z0-9]{20,}`),                     // Hugging Face user access tokens
	regexp.MustCompile(`api_org_[A-Za-z0-9]{20,}`),                // Hugging Face org tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{16,}`),        // Authorization headers
	regexp.MustCompile(`(?i)(token|secret|password)\s*[:=]\s*\S{8,}`), // key=value assignments
	regexp.MustCompile(`redis://[^:@/\s]*:[^@/\s]+@`),             // credentials embedded in a redis URL
}

// credentialKeys are substrings of field and env names that always hold secrets.
var credentialKeys = []string{
	"HUGGINGFACE_TOKEN",
	"HF_TOKEN",
	"TOKEN",
	"PASSWORD",
	"SECRET",
}

// RedactSecrets replaces credential-looking substrings of value.
//
// Example:
//
//	RedactSecrets("auth failed for hf_abcdefghijklmnopqrstuvwx")
//	// "auth failed for [REDACTED]"
func RedactSecrets(value string) string {
	if value == "" {
		return value
	}
	for _, p := range secretPatterns {
		value = p.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsCredentialKey reports whether a field or variable name denotes a secret.
func IsCredentialKey(name string) bool {
	upper := strings.ToUpper(name)
	for _, k := range credentialKeys {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

// ContainsSecret reports whether value matches any credential pattern.
func ContainsSecret(value string) bool {
	for _, p := range secretPatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}
