package worker

import "regexp"

// Redaction patterns for the handful of identifier shapes that show up in
// spoken transcripts. Stored analysis records must never carry raw PII.
var (
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern = regexp.MustCompile(`\b(?:\+?1[-.]?)?\(?[0-9]{3}\)?[-. ]?[0-9]{3}[-. ]?[0-9]{4}\b`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`)
	dobPattern   = regexp.MustCompile(`\b(0[1-9]|1[0-2])[- /](0[1-9]|[12][0-9]|3[01])[- /](19|20)\d{2}\b`)
)

// Redact replaces SSNs, phone numbers, email addresses, card numbers, and
// numeric dates of birth with placeholder tags.
func Redact(text string) string {
	if text == "" {
		return ""
	}
	text = ssnPattern.ReplaceAllString(text, "[SSN]")
	text = cardPattern.ReplaceAllString(text, "[CC]")
	text = phonePattern.ReplaceAllString(text, "[PHONE]")
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	text = dobPattern.ReplaceAllString(text, "[DOB]")
	return text
}

// ContainsPII reports whether text matches any redaction pattern.
func ContainsPII(text string) bool {
	return ssnPattern.MatchString(text) ||
		phonePattern.MatchString(text) ||
		emailPattern.MatchString(text) ||
		cardPattern.MatchString(text) ||
		dobPattern.MatchString(text)
}
