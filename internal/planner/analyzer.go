package planner

import (
	"regexp"
	"sort"
	"strings"

	"cortexos/internal/logging"
)

// Analyzer scores and classifies prompts. Stateless.
type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

var actionVerbs = []string{
	"add", "create", "implement", "build", "write", "fix", "repair", "update",
	"modify", "change", "refactor", "rename", "test", "verify", "document",
	"analyze", "investigate", "optimize", "improve", "deploy", "release",
	"remove", "delete", "migrate",
}

var conjunctions = []string{"and", "then", "also", "plus", "as well as", "after that"}

var techTerms = []string{
	"endpoint", "api", "database", "server", "client", "cache", "queue",
	"auth", "authentication", "token", "schema", "migration", "middleware",
	"handler", "service", "repository", "interface", "module", "package",
	"test", "tests", "pipeline", "docker", "kubernetes", "ci", "webhook",
	"websocket", "grpc", "http", "json", "sql", "index", "transaction",
}

// intentPatterns is ordered: the first match wins, so fix outranks modify
// and test outranks analyze.
var intentPatterns = []struct {
	intent Intent
	re     *regexp.Regexp
}{
	{IntentFix, regexp.MustCompile(`(?i)\b(fix|repair|resolve|debug|bug|broken|crash|error)\b`)},
	{IntentRefactor, regexp.MustCompile(`(?i)\b(refactor|restructure|clean ?up|simplify)\b`)},
	{IntentOptimize, regexp.MustCompile(`(?i)\b(optimi[sz]e|speed ?up|performance|faster)\b`)},
	{IntentDeploy, regexp.MustCompile(`(?i)\b(deploy|release|ship|publish)\b`)},
	{IntentTest, regexp.MustCompile(`(?i)\b(test|tests|spec|coverage)\b`)},
	{IntentDocument, regexp.MustCompile(`(?i)\b(document|documentation|docs|comment)\b`)},
	{IntentAnalyze, regexp.MustCompile(`(?i)\b(analy[sz]e|investigate|explain|understand|review|audit)\b`)},
	{IntentCreate, regexp.MustCompile(`(?i)\b(add|create|new|build|implement|write|generate)\b`)},
	{IntentModify, regexp.MustCompile(`(?i)\b(modify|change|update|edit|rename|adjust)\b`)},
}

var domainPatterns = map[string]*regexp.Regexp{
	"web":      regexp.MustCompile(`(?i)\b(endpoint|api|http|route|server|rest|handler)\b`),
	"database": regexp.MustCompile(`(?i)\b(database|db|sql|sqlite|postgres|query|migration|schema)\b`),
	"frontend": regexp.MustCompile(`(?i)\b(ui|css|component|react|page|frontend)\b`),
	"testing":  regexp.MustCompile(`(?i)\b(test|tests|spec|coverage|e2e)\b`),
	"devops":   regexp.MustCompile(`(?i)\b(deploy|docker|kubernetes|ci|pipeline|terraform)\b`),
	"security": regexp.MustCompile(`(?i)\b(auth|security|vulnerability|secret|encrypt)\b`),
	"docs":     regexp.MustCompile(`(?i)\b(readme|documentation|docs|changelog)\b`)}

var languagePatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?i)\bgo(lang)?\b|\.go\b`),
	"typescript": regexp.MustCompile(`(?i)\btypescript\b|\.tsx?\b`),
	"javascript": regexp.MustCompile(`(?i)\bjavascript\b|\bnode(js)?\b|\.jsx?\b`),
	"python":     regexp.MustCompile(`(?i)\bpython\b|\.py\b`),
	"rust":       regexp.MustCompile(`(?i)\brust\b|\.rs\b`),
}

var (
	filePathRe  = regexp.MustCompile(`\b[\w./-]+\.[a-zA-Z]{1,4}\b`)
	quotedRe    = regexp.MustCompile(`['"` + "`" + `]([^'"` + "`" + `\n]{1,80})['"` + "`" + `]`)
	camelCaseRe = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+\b`)
)

// Analyze scores the prompt. Deterministic: the same prompt always yields
// the same analysis.
func (a *Analyzer) Analyze(prompt string) PromptAnalysis {
	lower := strings.ToLower(prompt)
	words := strings.Fields(prompt)

	verbCount := countMatches(lower, actionVerbs)
	conjCount := countMatches(lower, conjunctions)
	fileRefs := filePathRe.FindAllString(prompt, -1)
	termCount := countMatches(lower, techTerms)

	// Weighted feature sum, floored at 0.1 and capped at 1.0.
	complexity := lengthBand(len(words)) +
		0.05*float64(verbCount) +
		0.05*float64(conjCount) +
		0.07*float64(len(fileRefs)) +
		0.05*float64(termCount)
	complexity = clampFloat(complexity, 0.1, 1.0)

	intent := IntentUnknown
	for _, pattern := range intentPatterns {
		if pattern.re.MatchString(prompt) {
			intent = pattern.intent
			break
		}
	}

	var domains []string
	for domain, re := range domainPatterns {
		if re.MatchString(prompt) {
			domains = append(domains, domain)
		}
	}
	sort.Strings(domains)

	var languages []string
	for lang, re := range languagePatterns {
		if re.MatchString(prompt) {
			languages = append(languages, lang)
		}
	}
	sort.Strings(languages)

	subtasks := clampInt(1+conjCount+verbCount/2, 1, 10)

	analysis := PromptAnalysis{
		Original:          prompt,
		Complexity:        complexity,
		Intent:            intent,
		Domains:           domains,
		Languages:         languages,
		Entities:          extractEntities(prompt, fileRefs),
		SuggestedRoles:    suggestRoles(intent, domains, complexity),
		EstimatedSubtasks: subtasks,
	}
	logging.PlannerDebug("analyzed prompt: complexity=%.2f intent=%s subtasks=%d domains=%v",
		complexity, intent, subtasks, domains)
	return analysis
}

func lengthBand(words int) float64 {
	switch {
	case words <= 10:
		return 0.10
	case words <= 25:
		return 0.20
	case words <= 60:
		return 0.35
	default:
		return 0.50
	}
}

func countMatches(lower string, needles []string) int {
	count := 0
	for _, needle := range needles {
		if strings.Contains(needle, " ") {
			if strings.Contains(lower, needle) {
				count++
			}
			continue
		}
		for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		}) {
			if word == needle {
				count++
			}
		}
	}
	return count
}

// extractEntities unions file paths, quoted strings and CamelCase
// identifiers, deduplicated in first-seen order.
func extractEntities(prompt string, fileRefs []string) []string {
	seen := map[string]bool{}
	var entities []string
	appendAll := func(values []string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v != "" && !seen[v] {
				seen[v] = true
				entities = append(entities, v)
			}
		}
	}
	appendAll(fileRefs)
	for _, m := range quotedRe.FindAllStringSubmatch(prompt, -1) {
		appendAll([]string{m[1]})
	}
	appendAll(camelCaseRe.FindAllString(prompt, -1))
	return entities
}

func suggestRoles(intent Intent, domains []string, complexity float64) []string {
	roles := map[string]bool{"developer": true, "validator": true}
	if complexity > 0.5 {
		roles["architect"] = true
	}
	switch intent {
	case IntentAnalyze:
		roles["researcher"] = true
	case IntentTest:
		roles["tester"] = true
	case IntentDocument:
		roles["documenter"] = true
	case IntentDeploy:
		roles["devops"] = true
	}
	for _, domain := range domains {
		switch domain {
		case "testing":
			roles["tester"] = true
		case "security":
			roles["security"] = true
		case "devops":
			roles["devops"] = true
		case "docs":
			roles["documenter"] = true
		}
	}
	out := make([]string, 0, len(roles))
	for role := range roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
