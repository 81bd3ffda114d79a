package turn

import "strings"

// NormalizeOutput collapses the duplicate assistant bodies some providers
// occasionally re-emit in one response. It splits text on blank-line
// paragraphs, drops a paragraph that is an exact duplicate (after
// whitespace normalization) of the one immediately before it, and — if the
// resulting sequence has an even number of paragraphs and the first half
// equals the second half under normalization — discards the second half.
//
// Idempotent: NormalizeOutput(NormalizeOutput(s)) == NormalizeOutput(s).
func NormalizeOutput(text string) string {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return ""
	}

	deduped := make([]string, 0, len(paragraphs))
	var prevNormalized string
	for i, p := range paragraphs {
		norm := normalizeWhitespace(p)
		if i > 0 && norm == prevNormalized {
			continue
		}
		deduped = append(deduped, p)
		prevNormalized = norm
	}

	if halved := collapseRepeatedHalf(deduped); halved != nil {
		deduped = halved
	}

	return strings.Join(deduped, "\n\n")
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var out []string
	for _, p := range raw {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// collapseRepeatedHalf returns the first half of paragraphs when the
// sequence has an even length and the first half equals the second half
// under normalization, or nil if no collapse applies.
func collapseRepeatedHalf(paragraphs []string) []string {
	n := len(paragraphs)
	if n == 0 || n%2 != 0 {
		return nil
	}
	half := n / 2
	for i := 0; i < half; i++ {
		if normalizeWhitespace(paragraphs[i]) != normalizeWhitespace(paragraphs[half+i]) {
			return nil
		}
	}
	return paragraphs[:half]
}
