// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders command line output for the Constellation tools.
package ux

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Constellation palette, night sky blues with a star gold accent.
var (
	ColorStar     = lipgloss.Color("#F5C542")
	ColorNebula   = lipgloss.Color("#7AA2F7")
	ColorOrbit    = lipgloss.Color("#3D59A1")
	ColorDusk     = lipgloss.Color("#565F89")
	ColorSuccess  = lipgloss.Color("#9ECE6A")
	ColorWarning  = lipgloss.Color("#E0AF68")
	ColorError    = lipgloss.Color("#F7768E")
	ColorMuted    = lipgloss.Color("#565F89")
	ColorHeadline = lipgloss.Color("#C0CAF5")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Key       lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorHeadline),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorStar).Bold(true),
	Key:       lipgloss.NewStyle().Foreground(ColorNebula),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorOrbit).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconStar    Icon = "✦"
	IconArrow   Icon = "→"
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
	case IconStar:
		return Styles.Highlight.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects how much decoration the printer adds.
type Mode int

const (
	// ModeStyled uses colors, icons and boxes.
	ModeStyled Mode = iota
	// ModePlain keeps icons but drops colors and boxes.
	ModePlain
	// ModeMachine prints prefixed lines suitable for scripts.
	ModeMachine
)

// ParseMode maps "styled", "plain" and "machine" to a Mode. Anything
// else, including "", is auto.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "styled":
		return ModeStyled, true
	case "plain":
		return ModePlain, true
	case "machine":
		return ModeMachine, true
	}
	return ModeStyled, false
}

// DetectMode returns ModeStyled for a terminal and ModePlain otherwise or
// when NO_COLOR is set.
func DetectMode(f *os.File) Mode {
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	fd := f.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes user-facing output. Out carries results and Err carries
// warnings, errors and progress.
type Printer struct {
	Out  io.Writer
	Err  io.Writer
	Mode Mode
}

// NewPrinter returns a printer. Nil writers default to stdout and stderr.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Printer{Out: out, Err: errOut, Mode: mode}
}

// Title prints a headline. Machine mode omits it.
func (p *Printer) Title(text string) {
	switch p.Mode {
	case ModeMachine:
		return
	case ModePlain:
		fmt.Fprintln(p.Out, text)
	default:
		fmt.Fprintln(p.Out, Styles.Title.Render(string(IconStar)+" "+text))
	}
}

// Success prints a success line with a checkmark.
func (p *Printer) Success(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Out, "OK: %s\n", text)
	case ModePlain:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints to Err.
func (p *Printer) Warning(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
	case ModePlain:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints to Err.
func (p *Printer) Error(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
	case ModePlain:
		fmt.Fprintf(p.Err, "%s %s\n", IconError, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	switch p.Mode {
	case ModeStyled:
		fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
	default:
		fmt.Fprintln(p.Out, text)
	}
}

// Fields prints key/value pairs sorted by key.
func (p *Printer) Fields(fields map[string]string) {
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch p.Mode {
		case ModeMachine:
			fmt.Fprintf(p.Out, "%s\t%s\n", k, fields[k])
		case ModePlain:
			fmt.Fprintf(p.Out, "%-*s  %s\n", width, k, fields[k])
		default:
			fmt.Fprintf(p.Out, "%s  %s\n", Styles.Key.Render(fmt.Sprintf("%-*s", width, k)), fields[k])
		}
	}
}

// Box prints content under a title, framed in styled mode.
func (p *Printer) Box(title, content string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Out, "%s: %s\n", title, content)
	case ModePlain:
		fmt.Fprintf(p.Out, "%s\n%s\n", title, content)
	default:
		fmt.Fprintln(p.Out, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// ProgressBar renders current/total as a bar, or "n/m" in machine mode.
func (p *Printer) ProgressBar(current, total, width int) string {
	if p.Mode == ModeMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := min(int(pct*float64(width)), width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if p.Mode == ModeStyled {
		bar = Styles.Success.Render(strings.Repeat("█", filled)) + Styles.Muted.Render(strings.Repeat("░", width-filled))
	}
	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
