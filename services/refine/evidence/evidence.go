// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evidence

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// CodePointer locates a finding for display and navigation.
//
// Pointers never participate in identity.
type CodePointer struct {
	File        string `json:"file"`
	Class       string `json:"class,omitempty"`
	Method      string `json:"method,omitempty"`
	StartLine   int    `json:"start_line,omitempty"`
	EndLine     int    `json:"end_line,omitempty"`
	StartColumn int    `json:"start_column,omitempty"`
	EndColumn   int    `json:"end_column,omitempty"`
}

// String renders file:line[ (Class.method)].
func (p CodePointer) String() string {
	var b strings.Builder
	b.WriteString(p.File)
	if p.StartLine > 0 {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(p.StartLine))
	}
	if sym := p.Symbol(); sym != "" {
		b.WriteString(" (")
		b.WriteString(sym)
		b.WriteString(")")
	}
	return b.String()
}

// Symbol returns Class.Method, Class, Method or "".
func (p CodePointer) Symbol() string {
	switch {
	case p.Class != "" && p.Method != "":
		return p.Class + "." + p.Method
	case p.Class != "":
		return p.Class
	default:
		return p.Method
	}
}

// Metric is a named measurement attached to a finding. Exactly one of
// Number or Text is meaningful; IsText tells which.
type Metric struct {
	Number float64 `json:"number,omitempty"`
	Text   string  `json:"text,omitempty"`
	IsText bool    `json:"is_text,omitempty"`
}

// Num builds a numeric metric.
func Num(v float64) Metric { return Metric{Number: v} }

// Int builds a numeric metric from an int.
func Int(v int) Metric { return Metric{Number: float64(v)} }

// Str builds a string metric.
func Str(s string) Metric { return Metric{Text: s, IsText: true} }

func (m Metric) String() string {
	if m.IsText {
		return m.Text
	}
	return strconv.FormatFloat(m.Number, 'f', -1, 64)
}

// Well-known metric names.
const (
	// MetricSmell names a finer-grained smell within one detector
	// (e.g. "god-class" from the large-class detector).
	MetricSmell = "smell"

	// MetricValue is the triggering measurement.
	MetricValue = "value"

	// MetricThreshold is the lowest tier the value crossed.
	MetricThreshold = "threshold"
)

// Evidence is one finding produced by a detector.
//
// # Description
//
// Evidence is immutable once emitted: construct it with New and treat
// the value as read-only. Metrics returns a copy of the map.
type Evidence struct {
	DetectorID string            `json:"detector_id"`
	Category   Category          `json:"category"`
	Pointer    CodePointer       `json:"pointer"`
	Metrics    map[string]Metric `json:"metrics,omitempty"`
	Summary    string            `json:"summary"`
	Severity   Severity          `json:"severity"`
}

// New builds an Evidence value, copying the metrics map.
func New(detectorID string, category Category, ptr CodePointer, sev Severity, summary string, metrics map[string]Metric) Evidence {
	return Evidence{
		DetectorID: detectorID,
		Category:   category,
		Pointer:    ptr,
		Metrics:    maps.Clone(metrics),
		Summary:    summary,
		Severity:   sev,
	}
}

// Type is the finding type used for clustering and plan dispatch.
func (e Evidence) Type() string { return e.DetectorID }

// Smell returns the optional sub-classification, or "".
func (e Evidence) Smell() string {
	if m, ok := e.Metrics[MetricSmell]; ok && m.IsText {
		return m.Text
	}
	return ""
}

// Number returns a numeric metric.
func (e Evidence) Number(name string) (float64, bool) {
	m, ok := e.Metrics[name]
	if !ok || m.IsText {
		return 0, false
	}
	return m.Number, true
}

// Text returns a string metric.
func (e Evidence) Text(name string) (string, bool) {
	m, ok := e.Metrics[name]
	if !ok || !m.IsText {
		return "", false
	}
	return m.Text, true
}

// CategoryPrefix returns the namespace of the detector id ("design" for
// "design.long-method").
func (e Evidence) CategoryPrefix() string {
	if i := strings.IndexByte(e.DetectorID, '.'); i > 0 {
		return e.DetectorID[:i]
	}
	return e.DetectorID
}

func (e Evidence) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", e.Severity, e.DetectorID, e.Pointer, e.Summary)
}
