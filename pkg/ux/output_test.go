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
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func newTestPrinter(mode Mode) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut, mode), &out, &errOut
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"styled", ModeStyled, true},
		{" Plain ", ModePlain, true},
		{"MACHINE", ModeMachine, true},
		{"", ModeStyled, false},
		{"fancy", ModeStyled, false},
	}
	for _, tt := range tests {
		got, ok := ParseMode(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestDetectMode_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, ModePlain, DetectMode(nil))
}

func TestPrinter_Machine(t *testing.T) {
	p, out, errOut := newTestPrinter(ModeMachine)
	p.Title("Scrape")
	p.Success("saved 3 papers")
	p.Info("topic done")
	p.Warning("slow topic")
	p.Error("no key")
	p.Box("Answer", "42")

	assert.Equal(t, "OK: saved 3 papers\ntopic done\nAnswer: 42\n", out.String())
	assert.Equal(t, "WARN: slow topic\nERROR: no key\n", errOut.String())
}

func TestPrinter_Plain(t *testing.T) {
	p, out, errOut := newTestPrinter(ModePlain)
	p.Title("Scrape")
	p.Success("done")
	p.Error("failed")

	assert.Equal(t, "Scrape\n✓ done\n", out.String())
	assert.Equal(t, "✗ failed\n", errOut.String())
}

func TestPrinter_Fields(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)
	p.Fields(map[string]string{"status": "success", "id": "run-1"})
	assert.Equal(t, "id      run-1\nstatus  success\n", out.String())

	p, out, _ = newTestPrinter(ModeMachine)
	p.Fields(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "a\t1\nb\t2\n", out.String())
}

func TestPrinter_StyledContainsText(t *testing.T) {
	p, out, _ := newTestPrinter(ModeStyled)
	p.Success("deployed")
	p.Box("Plan", "three steps")
	assert.Contains(t, out.String(), "deployed")
	assert.Contains(t, out.String(), "three steps")
}

func TestPrinter_ProgressBar(t *testing.T) {
	p, _, _ := newTestPrinter(ModeMachine)
	assert.Equal(t, "3/10", p.ProgressBar(3, 10, 20))

	p, _, _ = newTestPrinter(ModePlain)
	assert.Equal(t, "█████░░░░░  50%", p.ProgressBar(5, 10, 10))
	assert.Equal(t, "0/0", p.ProgressBar(0, 0, 10))
}

func TestSpinner_NonAnimatedModes(t *testing.T) {
	p, _, errOut := newTestPrinter(ModeMachine)
	s := p.Spinner("embedding")
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
	assert.Equal(t, "PROGRESS: embedding\n", errOut.String())

	p, _, errOut = newTestPrinter(ModePlain)
	s = p.Spinner("embedding")
	s.Start()
	s.Stop()
	assert.Equal(t, "embedding...\n", errOut.String())
}

func TestSpinner_AnimatedStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	p, _, errOut := newTestPrinter(ModeStyled)
	s := p.Spinner("planning")
	s.Start()
	time.Sleep(3 * spinnerInterval)
	s.UpdateMessage("still planning")
	s.Stop()

	assert.True(t, strings.HasSuffix(errOut.String(), "\r\033[K"))
}

func TestWithSpinner(t *testing.T) {
	p, out, errOut := newTestPrinter(ModeMachine)
	assert.NoError(t, p.WithSpinner("migrate", func() error { return nil }))
	assert.Equal(t, "OK: migrate\n", out.String())

	boom := errors.New("boom")
	assert.ErrorIs(t, p.WithSpinner("migrate", func() error { return boom }), boom)
	assert.Contains(t, errOut.String(), "ERROR: migrate: boom")
}
