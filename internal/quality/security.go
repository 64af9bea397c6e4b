package quality

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// secretPatterns maps a finding label to its detection regex.
var secretPatterns = []struct {
	rule    string
	message string
	re      *regexp.Regexp
}{
	{"aws-access-key", "possible AWS access key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"private-key", "private key material", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`)},
	{"bearer-token", "hardcoded bearer token", regexp.MustCompile(`(?i)bearer\s+[a-z0-9\-._~+/]{20,}`)},
	{"api-key-prefix", "possible API secret key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}`)},
}

var lockfiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
}

// SecurityGate scans changed files for secret shapes and flags environment
// files among the changes.
type SecurityGate struct{}

func (g *SecurityGate) Name() string        { return "security" }
func (g *SecurityGate) Description() string { return "Secret scan over changed files" }

func (g *SecurityGate) Run(ctx context.Context, qc QualityContext) GateResult {
	var issues []Issue

	for _, rel := range qc.FilesChanged {
		base := filepath.Base(rel)

		if base == ".env" || strings.HasPrefix(base, ".env.") {
			issues = append(issues, Issue{
				Severity: SeverityError,
				File:     rel,
				Rule:     "env-file",
				Message:  "environment file must not be part of the change set",
			})
			continue
		}
		if lockfiles[base] {
			issues = append(issues, Issue{
				Severity: SeverityInfo,
				File:     rel,
				Rule:     "lockfile-changed",
				Message:  "dependency lockfile changed, audit recommended",
			})
		}

		data, err := os.ReadFile(filepath.Join(qc.WorkingDir, rel))
		if err != nil || isBinary(data) {
			continue
		}

		lines := strings.Split(string(data), "\n")
		for lineNo, line := range lines {
			for _, pattern := range secretPatterns {
				if pattern.re.MatchString(line) {
					issues = append(issues, Issue{
						Severity: SeverityError,
						File:     rel,
						Line:     lineNo + 1,
						Rule:     pattern.rule,
						Message:  pattern.message,
					})
				}
			}
		}
	}
	return resultFromIssues(issues)
}

// isBinary treats content with NUL bytes as binary.
func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}
