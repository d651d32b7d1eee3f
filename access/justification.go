package access

import "strings"

// genericJustifications are placeholder answers that say nothing about why
// access is needed.
var genericJustifications = []string{"teste", "aaa", "preciso"}

// IsGenericJustification reports whether text is blank or, once trimmed and
// lower-cased, exactly one of the reserved placeholder words. Longer text
// that merely contains one of them is accepted.
func IsGenericJustification(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return true
	}
	for _, word := range genericJustifications {
		if normalized == word {
			return true
		}
	}
	return false
}

// RenewalJustification is the justification recorded on renewal requests.
func RenewalJustification(originalProtocol string) string {
	return "Renovação de acesso - Solicitação original: " + originalProtocol
}

// CancellationAction is the history action recorded when a request is cancelled.
func CancellationAction(reason string) string {
	return ActionCancelled + ": " + reason
}
