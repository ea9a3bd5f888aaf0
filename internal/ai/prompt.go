package ai

import (
	"fmt"
	"strings"
)

// PromptBuilder constructs prompts for template customization and build fixes.
// All methods are pure functions with no side effects.
// Zero value is ready to use.
type PromptBuilder struct{}

// CustomizationParams defines inputs for a per-file customization prompt.
type CustomizationParams struct {
	ProjectName  string
	Template     string
	Requirements string
	FilePath     string
	FileContent  string
}

// FixParams defines inputs for a build-failure fix prompt.
type FixParams struct {
	FilePath    string
	FileContent string
	BuildErrors []string
}

// BuildCustomizationPrompt returns a prompt asking the provider to rewrite
// one template file according to the project requirements. The response is
// expected to be the complete new file content, nothing else.
func (b PromptBuilder) BuildCustomizationPrompt(p CustomizationParams) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are customizing the %q template for a project named %q.\n\n", p.Template, p.ProjectName)
	fmt.Fprintf(&sb, "Project requirements:\n%s\n\n", strings.TrimSpace(p.Requirements))
	fmt.Fprintf(&sb, "Rewrite the file %s to satisfy the requirements.\n", p.FilePath)
	sb.WriteString("Current content:\n")
	sb.WriteString(b.fence(p.FileContent))
	sb.WriteString("\nRespond with the complete new file content only. No explanation, no markdown fences.\n")
	return sb.String()
}

// BuildFixPrompt returns a prompt asking the provider to repair a file that
// caused a build failure. Error lines are included verbatim.
func (b PromptBuilder) BuildFixPrompt(p FixParams) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The file %s fails to build with the following errors:\n", p.FilePath)
	for _, e := range p.BuildErrors {
		fmt.Fprintf(&sb, "  %s\n", e)
	}
	sb.WriteString("\nCurrent content:\n")
	sb.WriteString(b.fence(p.FileContent))
	sb.WriteString("\nFix only what the errors require. Respond with the complete corrected file content only. No explanation, no markdown fences.\n")
	return sb.String()
}

func (b PromptBuilder) fence(content string) string {
	return "---BEGIN FILE---\n" + content + "\n---END FILE---\n"
}

// CleanResponse strips markdown code fences a provider may wrap around
// generated file content despite instructions not to.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
