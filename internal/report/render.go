package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"deploycheck/internal/checks"
)

// Styles are package-level values; rendering itself carries no mutable state.
var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	skipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headStyle = lipgloss.NewStyle().Bold(true)
)

func styleFor(outcome checks.Outcome) lipgloss.Style {
	switch outcome {
	case checks.OutcomePass:
		return passStyle
	case checks.OutcomeFail:
		return failStyle
	case checks.OutcomeSkipped:
		return skipStyle
	default:
		return infoStyle
	}
}

// RenderLine formats one check result. The observed value is always part of
// the line: a verdict without evidence is not reviewable.
func RenderLine(res checks.Result) string {
	line := fmt.Sprintf("%-8s %-20s", styleFor(res.Outcome).Render(string(res.Outcome)), res.Name)
	if res.Observed != "" {
		line += " " + dimStyle.Render("observed: "+res.Observed)
	}
	if res.Explanation != "" {
		line += " " + dimStyle.Render("("+res.Explanation+")")
	}
	if res.Severity == checks.SeverityWarning {
		line += " " + dimStyle.Render("[warning]")
	}
	return line
}

// Render writes the full report and returns the process exit code.
func Render(w io.Writer, r *Report) int {
	fmt.Fprintln(w, headStyle.Render(fmt.Sprintf("Compliance report for %s (%s)", r.Workload, r.Environment)))
	fmt.Fprintln(w, dimStyle.Render("run "+r.RunID))
	fmt.Fprintln(w)

	var passed, failed, skipped int
	for _, res := range r.Results {
		fmt.Fprintln(w, RenderLine(res))
		switch res.Outcome {
		case checks.OutcomePass:
			passed++
		case checks.OutcomeFail:
			failed++
		case checks.OutcomeSkipped:
			skipped++
		}
	}

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped)
	if r.Overall() == StatusPass {
		fmt.Fprintln(w, passStyle.Render("OVERALL: PASS"), dimStyle.Render("("+summary+")"))
	} else {
		fmt.Fprintln(w, failStyle.Render("OVERALL: FAIL"), dimStyle.Render("("+summary+")"))
	}
	return r.ExitCode()
}
