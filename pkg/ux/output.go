// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Key      lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Key:      lipgloss.NewStyle().Foreground(ColorTealPrimary).Width(20),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconRunning Icon = "◐"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	case IconRunning:
		return Styles.Subtitle.Render(string(i))
	default:
		return string(i)
	}
}

// StatusIcon maps a lifecycle status string (execution, rollback or
// health) to an icon.
func StatusIcon(status string) Icon {
	switch status {
	case "completed", "healthy":
		return IconSuccess
	case "failed":
		return IconError
	case "rolled_back", "degraded":
		return IconWarning
	case "in_progress", "executing":
		return IconRunning
	default:
		return IconPending
	}
}

// Printer writes styled output to a pair of writers.
//
// # Description
//
// Normal output goes to out and diagnostics go to errOut. In ModeMachine
// every helper emits a single undecorated line so output can be piped
// into grep, cut or awk.
//
// # Thread Safety
//
// Not safe for concurrent use.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
}

// NewPrinter creates a Printer.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	return &Printer{out: out, errOut: errOut, mode: mode}
}

// Mode returns the printer's output mode.
func (p *Printer) Mode() Mode { return p.mode }

// Out returns the primary writer.
func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.mode != ModeRich {
		return text
	}
	return s.Render(text)
}

func (p *Printer) icon(i Icon) string {
	if p.mode != ModeRich {
		return string(i)
	}
	return i.Render()
}

// Title prints a styled title. Suppressed in ModeMachine.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.out, p.style(Styles.Title, text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "OK\t%s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(IconSuccess), p.style(Styles.Success, text))
}

// Warning prints a warning to the diagnostic writer.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.errOut, "WARN\t%s\n", text)
		return
	}
	fmt.Fprintf(p.errOut, "%s %s\n", p.icon(IconWarning), p.style(Styles.Warning, text))
}

// Error prints an error to the diagnostic writer.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.errOut, "ERROR\t%s\n", text)
		return
	}
	fmt.Fprintf(p.errOut, "%s %s\n", p.icon(IconError), p.style(Styles.Error, text))
}

// Field prints one key/value line.
func (p *Printer) Field(key string, value any) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "%s\t%v\n", key, value)
		return
	}
	if p.mode == ModeRich {
		fmt.Fprintf(p.out, "  %s %v\n", Styles.Key.Render(key), value)
		return
	}
	fmt.Fprintf(p.out, "  %-20s %v\n", key, value)
}

// Bullet prints an indented list item.
func (p *Printer) Bullet(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "-\t%s\n", text)
		return
	}
	fmt.Fprintf(p.out, "    %s %s\n", p.icon(IconBullet), text)
}

// Status prints a status line prefixed by the icon for status.
func (p *Printer) Status(status, text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "%s\t%s\n", status, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(StatusIcon(status)), text)
}

// Row prints a tab-separated row in ModeMachine and a space-padded row
// otherwise.
func (p *Printer) Row(cols ...string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.out, strings.Join(cols, "\t"))
		return
	}
	padded := make([]string, len(cols))
	for i, c := range cols {
		padded[i] = fmt.Sprintf("%-14s", c)
	}
	fmt.Fprintln(p.out, strings.TrimRight(strings.Join(padded, " "), " "))
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.out, "%s\t%s\n", title, strings.ReplaceAll(content, "\n", "; "))
	case ModePlain:
		fmt.Fprintf(p.out, "%s\n%s\n", title, content)
	default:
		fmt.Fprintln(p.out, Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// WarningBox prints text in a warning-styled box on the diagnostic writer.
func (p *Printer) WarningBox(title, content string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.errOut, "WARN\t%s\t%s\n", title, strings.ReplaceAll(content, "\n", "; "))
	case ModePlain:
		fmt.Fprintf(p.errOut, "%s %s\n%s\n", IconWarning, title, content)
	default:
		fmt.Fprintln(p.errOut, Styles.WarningBox.Width(60).Render(
			Styles.Warning.Bold(true).Render(title)+"\n"+content))
	}
}

// ProgressBar renders a percentage as a bar of the given width.
func (p *Printer) ProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if p.mode == ModeMachine {
		return fmt.Sprintf("%.0f%%", percent)
	}
	filled := int(percent / 100 * float64(width))
	bar := p.style(Styles.Success, strings.Repeat("█", filled)) +
		p.style(Styles.Muted, strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, percent)
}
