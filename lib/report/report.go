// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/conveyor/lib/runlog"
)

// DefaultExcerptLines is how many trailing output lines a failed
// step's excerpt keeps when Options.ExcerptLines is zero. Failures
// diagnose from the tail, so the excerpt is a tail.
const DefaultExcerptLines = 30

// Options configures report generation.
type Options struct {
	// FetchOutput returns the stored output bytes for a log store
	// ref (the hex hash recorded in the run archive). Nil omits
	// output excerpts from the report entirely.
	FetchOutput func(ref string) ([]byte, error)

	// ExcerptLines caps the trailing lines each excerpt includes.
	// Zero means DefaultExcerptLines.
	ExcerptLines int
}

// Markdown builds the report for a run record as GitHub-flavored
// markdown. The result is valid standalone markdown; Terminal renders
// it for ANSI display.
func Markdown(record *runlog.RunRecord, options Options) string {
	if options.ExcerptLines <= 0 {
		options.ExcerptLines = DefaultExcerptLines
	}
	var out strings.Builder
	writeRunSummary(&out, record)
	writeBuildTable(&out, record)
	for i := range record.Instances {
		writeInstanceSection(&out, &record.Instances[i], options)
	}
	return out.String()
}

func writeRunSummary(out *strings.Builder, record *runlog.RunRecord) {
	fmt.Fprintf(out, "# %s — %s\n\n", record.Workflow, record.RunID)

	succeeded := 0
	for i := range record.Instances {
		if record.Instances[i].Conclusion == runlog.ConclusionSuccess {
			succeeded++
		}
	}
	total := record.InstanceCount
	if total == 0 {
		total = len(record.Instances)
	}

	fmt.Fprintf(out, "**%s** in %s — %d of %d builds succeeded",
		conclusionWord(record.Conclusion), formatDurationMS(record.DurationMS), succeeded, total)
	if record.Conclusion == runlog.ConclusionAborted && record.Reason != "" {
		fmt.Fprintf(out, " (%s)", record.Reason)
	}
	out.WriteString("\n\n")

	fmt.Fprintf(out, "- repo: `%s`\n", record.Repo)
	fmt.Fprintf(out, "- ref: `%s` @ `%s`\n", record.Ref, shortSHA(record.SHA))
	if record.StartedAt != "" {
		fmt.Fprintf(out, "- started: %s\n", record.StartedAt)
	}
	out.WriteString("\n")

	if record.Truncated {
		out.WriteString("> The run log ended mid-run; the archive may be missing later results.\n\n")
	}
}

func writeBuildTable(out *strings.Builder, record *runlog.RunRecord) {
	out.WriteString("## builds\n\n")
	out.WriteString("| instance | os | result | duration | failed step |\n")
	out.WriteString("| --- | --- | --- | ---: | --- |\n")
	for i := range record.Instances {
		instance := &record.Instances[i]
		result := conclusionWord(instance.Conclusion)
		fmt.Fprintf(out, "| %s | %s | %s | %s | %s |\n",
			tableCell(instance.InstanceID),
			tableCell(instance.OS),
			result,
			formatDurationMS(instance.DurationMS),
			tableCell(instance.FailedStep))
	}
	out.WriteString("\n")
}

func writeInstanceSection(out *strings.Builder, instance *runlog.InstanceRecord, options Options) {
	fmt.Fprintf(out, "## %s\n\n", instance.InstanceID)

	fmt.Fprintf(out, "**%s** in %s",
		conclusionWord(instance.Conclusion), formatDurationMS(instance.DurationMS))
	switch {
	case instance.FailedStep != "" && instance.Error != "":
		fmt.Fprintf(out, " — failed at `%s`: %s", instance.FailedStep, instance.Error)
	case instance.FailedStep != "":
		fmt.Fprintf(out, " — failed at `%s`", instance.FailedStep)
	case instance.Error != "":
		fmt.Fprintf(out, " — %s", instance.Error)
	}
	out.WriteString("\n\n")

	if len(instance.Steps) > 0 {
		out.WriteString("| # | step | status | duration |\n")
		out.WriteString("| ---: | --- | --- | ---: |\n")
		for _, step := range instance.Steps {
			fmt.Fprintf(out, "| %d | %s | %s | %s |\n",
				step.Index+1, tableCell(step.Name), string(step.Status),
				formatDurationMS(step.DurationMS))
		}
		out.WriteString("\n")
	}

	if options.FetchOutput == nil {
		return
	}

	excerpted := false
	for _, step := range instance.Steps {
		if !stepNeedsExcerpt(step.Status) || step.LogRef == "" {
			continue
		}
		fmt.Fprintf(out, "### output: %s\n\n", step.Name)
		writeExcerpt(out, step.LogRef, options)
		excerpted = true
	}

	// An instance can fail with no failed step on record — setup
	// broke, or the log was cut off. The full transcript tail is the
	// only output there is, so excerpt that instead.
	if !excerpted && instance.Conclusion != runlog.ConclusionSuccess &&
		instance.Conclusion != "" && instance.LogRef != "" {
		out.WriteString("### output\n\n")
		writeExcerpt(out, instance.LogRef, options)
	}
}

func stepNeedsExcerpt(status runlog.Status) bool {
	switch status {
	case runlog.StatusFailed, runlog.StatusFailedOptional, runlog.StatusAborted:
		return true
	}
	return false
}

func writeExcerpt(out *strings.Builder, ref string, options Options) {
	data, err := options.FetchOutput(ref)
	if err != nil {
		// The blob may have been pruned out from under the archive;
		// say so rather than failing the whole report.
		fmt.Fprintf(out, "_output unavailable: %v_\n\n", err)
		return
	}
	content := excerptTail(string(data), options.ExcerptLines)
	if content == "" {
		out.WriteString("_no output captured_\n\n")
		return
	}
	fence := fenceFor(content)
	fmt.Fprintf(out, "%stext\n%s\n%s\n\n", fence, content, fence)
}

// excerptTail normalizes captured output and keeps the last limit
// lines, with a marker noting how many were dropped. Terminal escape
// sequences are stripped so compiler color output doesn't bleed into
// the report.
func excerptTail(output string, limit int) string {
	output = ansi.Strip(output)
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return ""
	}
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		// A bare carriage return is a progress bar overwriting
		// itself; keep what the terminal would have shown last.
		if index := strings.LastIndexByte(line, '\r'); index >= 0 {
			lines[i] = line[index+1:]
		}
	}
	if len(lines) > limit {
		dropped := len(lines) - limit
		lines = append([]string{fmt.Sprintf("[%d earlier lines omitted]", dropped)}, lines[dropped:]...)
	}
	return strings.Join(lines, "\n")
}

// fenceFor picks a code fence long enough that the content cannot
// close it early: one backtick more than the longest backtick run in
// the content, minimum three.
func fenceFor(content string) string {
	longest, run := 0, 0
	for _, character := range content {
		if character == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	length := longest + 1
	if length < 3 {
		length = 3
	}
	return strings.Repeat("`", length)
}

// tableCell makes a value safe inside a markdown table row.
func tableCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", " ")
	return value
}

// conclusionWord is the display word for a conclusion, with a
// placeholder for instances a truncated log never saw finish.
func conclusionWord(conclusion runlog.Conclusion) string {
	if conclusion == "" {
		return "incomplete"
	}
	return string(conclusion)
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func formatDurationMS(milliseconds int64) string {
	duration := time.Duration(milliseconds) * time.Millisecond
	duration = duration.Round(time.Second)
	if duration >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(duration.Hours()), int(duration.Minutes())%60)
	}
	if duration >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(duration.Minutes()), int(duration.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(duration.Seconds()))
}
