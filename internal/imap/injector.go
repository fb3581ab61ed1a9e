package imap

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/mindwall/mindwall/internal/core"
)

var subjectLineRe = regexp.MustCompile(`(?im)^(Subject:[ \t]*)(.*)$`)

// VerdictBadge formats the subject-line risk marker for a scored message.
// Low-severity verdicts carry no badge.
func VerdictBadge(score float64, severity core.Severity) string {
	if severity == core.SeverityLow {
		return ""
	}
	return fmt.Sprintf("[RISK:%.0f/%s]", score, strings.ToUpper(string(severity)))
}

// InjectVerdict rewrites a FETCH literal to carry the verdict: the badge is
// prepended to the Subject header and X-MindWall-Score / X-MindWall-Severity
// headers are appended to the header block. Literals without a header block
// (BODY[TEXT] fetches) and low-severity verdicts are returned unchanged.
// The second return reports whether the literal was modified.
func InjectVerdict(literal []byte, score float64, severity core.Severity) ([]byte, bool) {
	badge := VerdictBadge(score, severity)
	if badge == "" {
		return literal, false
	}

	headerEnd, sep := headerBlockEnd(literal)
	if headerEnd < 0 {
		return literal, false
	}
	headers := literal[:headerEnd]
	rest := literal[headerEnd:]

	if !subjectLineRe.Match(headers) {
		return literal, false
	}

	replaced := false
	headers = subjectLineRe.ReplaceAllFunc(headers, func(m []byte) []byte {
		if replaced {
			return m
		}
		replaced = true
		parts := subjectLineRe.FindSubmatch(m)
		return []byte(string(parts[1]) + badge + " " + string(parts[2]))
	})

	extra := fmt.Sprintf("%sX-MindWall-Score: %.1f%sX-MindWall-Severity: %s",
		sep, score, sep, severity)

	out := make([]byte, 0, len(headers)+len(extra)+len(rest))
	out = append(out, headers...)
	out = append(out, extra...)
	out = append(out, rest...)
	return out, true
}

// headerBlockEnd locates the end of the RFC 5322 header block: the offset
// just before the blank separator line, plus the line separator in use.
// Returns -1 when the literal has no header/body split.
func headerBlockEnd(literal []byte) (int, string) {
	if i := bytes.Index(literal, []byte("\r\n\r\n")); i >= 0 {
		return i, "\r\n"
	}
	if i := bytes.Index(literal, []byte("\n\n")); i >= 0 {
		return i, "\n"
	}
	return -1, ""
}

// RewriteLiteralSize re-announces the literal size on a FETCH line after the
// literal itself was rewritten. The announced count must always equal the
// exact byte length of the literal that follows.
func RewriteLiteralSize(line []byte, newSize int) []byte {
	trimmed := bytes.TrimRight(line, "\r\n")
	suffix := line[len(trimmed):]
	loc := trailingLiteralRe.FindSubmatchIndex(trimmed)
	if loc == nil {
		return line
	}
	plus := ""
	if loc[4] >= 0 {
		plus = "+"
	}
	out := make([]byte, 0, len(line)+8)
	out = append(out, trimmed[:loc[0]]...)
	out = append(out, fmt.Sprintf("{%d%s}", newSize, plus)...)
	out = append(out, suffix...)
	return out
}
