package record

import "regexp"

const redacted = "[REDACTED]"

// secretPatterns match substrings that look like credentials.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-(?:ant-|proj-)?[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`xox[abprs]-[A-Za-z0-9\-]{10,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
}

// assignmentPattern matches "api_key = value" style assignments.
var assignmentPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password|passwd)(\s*[:=]\s*)("?)[^\s"',;]+`)

// Redact masks API-key-shaped tokens and credential assignments in s.
// Used before logging anything derived from record content.
func Redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return assignmentPattern.ReplaceAllString(s, "${1}${2}${3}"+redacted)
}
