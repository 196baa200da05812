package redact

import "regexp"

// Pattern defines a credential shape to scrub from free text.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultPatterns returns the built-in credential patterns. Order matters:
// more specific shapes come first so they win the replacement label.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "anthropic_key",
			Regex: regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{8,}`),
		},
		{
			Name:  "api_key",
			Regex: regexp.MustCompile(`sk-[A-Za-z0-9_\-]{16,}`),
		},
		{
			Name:  "bearer",
			Regex: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/\-]+=*`),
		},
		{
			Name:  "aws_access_key",
			Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		},
		{
			Name:  "github_token",
			Regex: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
		},
		{
			Name:  "jwt",
			Regex: regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
		},
		{
			Name:  "connection_string",
			Regex: regexp.MustCompile(`(?:postgres|postgresql|mysql|mongodb|redis|rediss)://[^\s"']+`),
		},
	}
}
