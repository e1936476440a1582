package enrich

import "regexp"

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// ExtractEmail returns the first email-shaped token in content, or "".
func ExtractEmail(content string) string {
	return emailRe.FindString(content)
}
