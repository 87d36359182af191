package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-client/core"
	"github.com/koscakluka/ema-client/core/agent"
	"github.com/koscakluka/ema-client/core/events"
	"github.com/muesli/reflow/wordwrap"
)

const timestampLayout = "2006-01-02 15:04"

type chatRole int

const (
	roleUser chatRole = iota
	roleAssistant
	roleSystem
)

type chatLine struct {
	role chatRole
	text string
}

type styles struct {
	header    lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	system    lipgloss.Style
	errorText lipgloss.Style
	muted     lipgloss.Style
	input     lipgloss.Style
}

func newStyles() styles {
	accent := lipgloss.Color("#7dcfff")
	pink := lipgloss.Color("#f7768e")
	muted := lipgloss.Color("#737aa2")

	return styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		user:      lipgloss.NewStyle().Foreground(accent).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a")).Bold(true),
		system:    lipgloss.NewStyle().Foreground(muted).Italic(true),
		errorText: lipgloss.NewStyle().Foreground(pink).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(muted),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
	}
}

func (s styles) renderLine(line chatLine, width int) string {
	text := wordwrap.String(line.text, max(width-4, 10))
	switch line.role {
	case roleUser:
		return s.user.Render("you") + "\n" + text
	case roleAssistant:
		return s.assistant.Render("mio") + "\n" + text
	}
	return s.system.Render(text)
}

func (s styles) renderStatus(snapshot orchestration.Snapshot, volume float64) string {
	status := string(snapshot.Status)
	if snapshot.Status == orchestration.StatusError || snapshot.Status == orchestration.StatusAborted {
		status = s.errorText.Render(status)
	}

	mic := "mic off"
	switch {
	case snapshot.Mic.Capturing:
		mic = "listening"
	case snapshot.Mic.Enabled:
		mic = "mic paused"
	}

	parts := []string{
		"mio",
		status,
		"mode " + string(snapshot.Mode),
		mic,
		fmt.Sprintf("vol %d%%", int(volume*100+0.5)),
	}
	if snapshot.Speaking {
		parts = append(parts, "speaking")
	}
	if snapshot.PendingImage != "" {
		parts = append(parts, "image attached")
	}
	return s.header.Render(strings.Join(parts, " · "))
}

func formatHistory(entries []agent.HistoryEntry) []string {
	if len(entries) == 0 {
		return []string{"no history"}
	}

	lines := make([]string, 0, len(entries))
	for i, entry := range entries {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, entry.Role, entry.Content))
	}
	return lines
}

func formatCompactionLogs(logs []agent.CompactionLog) []string {
	if len(logs) == 0 {
		return []string{"no compaction logs"}
	}

	var lines []string
	for _, entry := range logs {
		header := fmt.Sprintf("#%d %s (%d tokens)", entry.ID, entry.Timestamp.Format(timestampLayout), entry.TokenUsage)
		lines = append(lines, header, "  "+entry.Summary)
		lines = append(lines, formatUpdates(entry.Updates)...)
	}
	return lines
}

func formatUpdates(updates agent.StructuredUpdates) []string {
	if updates.IsEmpty() {
		return nil
	}

	var lines []string
	add := func(label string, values []string) {
		for _, value := range values {
			lines = append(lines, fmt.Sprintf("  + %s: %s", label, value))
		}
	}
	add("user", updates.UserUpdates)
	add("identity", updates.IdentityUpdates)
	add("memory", updates.MemoryUpdates)
	return lines
}

func formatCompaction(result agent.CompactionResult) []string {
	lines := []string{
		fmt.Sprintf("%s (%d tokens)", result.Message, result.TokenUsage.TotalTokens),
	}
	return append(lines, formatUpdates(result.Updates)...)
}

func formatMemoryStatus(status agent.MemoryStatus) string {
	return fmt.Sprintf("short-term memory: %d messages, %d characters", status.MessageCount, status.TotalChars)
}

func formatUsage(usage events.Usage) string {
	return fmt.Sprintf("tokens: prompt %d, reply %d, total %d", usage.PromptTokens, usage.CandidateTokens, usage.TotalTokens)
}
