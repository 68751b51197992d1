// Package logcapture turns raw console output into clean text lines.
package logcapture

import (
	"regexp"
	"strings"
)

var (
	// CSI (colors, cursor movement), OSC (titles, hyperlinks) and two-byte escapes.
	csiSeq = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	oscSeq = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	escSeq = regexp.MustCompile(`\x1b[@-_]`)
	// C0 controls other than tab, plus DEL.
	ctrlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// StripANSI removes terminal escape sequences and control characters from s.
// Newlines and tabs survive.
func StripANSI(s string) string {
	s = oscSeq.ReplaceAllString(s, "")
	s = csiSeq.ReplaceAllString(s, "")
	s = escSeq.ReplaceAllString(s, "")
	return ctrlChars.ReplaceAllString(s, "")
}

// cleanLine normalizes one physical line. A carriage return overwrites the
// line on a terminal, so only the text after the last one is kept.
func cleanLine(line string) string {
	line = strings.TrimSuffix(line, "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	line = strings.ToValidUTF8(StripANSI(line), "")
	return strings.TrimRight(line, " \t")
}

// Clean strips escape sequences from s, trims trailing whitespace on every
// line and collapses runs of three or more blank lines into one.
func Clean(s string) string {
	var n normalizer
	var out []string
	for _, line := range strings.Split(s, "\n") {
		out = n.push(out, cleanLine(line))
	}
	out = n.flush(out)
	return strings.Join(out, "\n")
}

// normalizer holds back blank lines until it knows how long the run is.
type normalizer struct {
	blanks int
}

func (n *normalizer) push(out []string, line string) []string {
	if line == "" {
		n.blanks++
		return out
	}
	out = n.flush(out)
	return append(out, line)
}

func (n *normalizer) flush(out []string) []string {
	keep := n.blanks
	if keep >= 3 {
		keep = 1
	}
	for i := 0; i < keep; i++ {
		out = append(out, "")
	}
	n.blanks = 0
	return out
}
