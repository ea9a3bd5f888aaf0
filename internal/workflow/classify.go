package workflow

import "regexp"

// FailureClass is the recovery loop's coarse diagnosis of a failed build.
type FailureClass string

const (
	FailureTypeError       FailureClass = "type-error"
	FailureBuildError      FailureClass = "build-error"
	FailureDependencyError FailureClass = "dependency-error"
	FailureConfigError     FailureClass = "config-error"
	FailureUnknown         FailureClass = "unknown"
)

// Classification is the outcome of analyzing a build log. Only type errors
// are fixable by the recovery loop; every other class fails the deployment
// without retry.
type Classification struct {
	Class  FailureClass
	CanFix bool
	Files  []string
}

// classifyRule pairs a failure class with the pattern that detects it.
// Rules are evaluated in order; the first match wins.
type classifyRule struct {
	class  FailureClass
	canFix bool
	re     *regexp.Regexp
}

var classifyRules = []classifyRule{
	{FailureTypeError, true, regexp.MustCompile(`error TS\d+|TypeError:|Type error:`)},
	{FailureDependencyError, false, regexp.MustCompile(`(?i)cannot find module|module not found|npm ERR!|ERESOLVE|ENOENT .*node_modules`)},
	{FailureConfigError, false, regexp.MustCompile(`(?i)invalid configuration|missing (required )?environment variable|configuration error`)},
	{FailureBuildError, false, regexp.MustCompile(`(?i)build failed|compilation failed|syntaxerror|failed to compile`)},
}

// reSourceFile matches source file paths followed by a position marker, the
// shape TypeScript and most bundlers use in diagnostics.
var reSourceFile = regexp.MustCompile(`([\w@][\w./@-]*\.(?:tsx?|jsx?|mjs|cjs|vue|svelte|css|scss|json))[(:]`)

// Classify diagnoses a raw build log. Unmatched text defaults to unknown.
func Classify(buildLog string) Classification {
	for _, rule := range classifyRules {
		if rule.re.MatchString(buildLog) {
			return Classification{
				Class:  rule.class,
				CanFix: rule.canFix,
				Files:  extractFiles(buildLog),
			}
		}
	}
	return Classification{Class: FailureUnknown}
}

// extractFiles returns the distinct source files named in the log, in order
// of first appearance.
func extractFiles(buildLog string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, m := range reSourceFile.FindAllStringSubmatch(buildLog, -1) {
		path := m[1]
		if seen[path] {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	return files
}
