package imap

import (
	"bytes"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FetchMeta is the message metadata recovered from an intercepted FETCH
// response: the UID from the response line, the rest from RFC 5322 headers
// inside the literal.
type FetchMeta struct {
	UID         string
	MessageID   string
	Subject     string
	FromAddress string
	FromDisplay string
	ToAddress   string
	Date        time.Time
}

var (
	fetchRe = regexp.MustCompile(`(?i)^\*\s+(\d+)\s+FETCH\s+\(`)
	uidRe   = regexp.MustCompile(`(?i)\bUID\s+(\d+)`)

	// body sections whose literal carries analyzable message content
	bodyRe = regexp.MustCompile(`(?i)(?:BODY\[(?:TEXT|HEADER|1(?:\.1)?|)\]|RFC822(?:\.TEXT)?)\s+\{(\d+)\}`)

	// any literal announced at the end of a line, LITERAL+ included
	trailingLiteralRe = regexp.MustCompile(`\{(\d+)(\+)?\}$`)

	subjectRe   = regexp.MustCompile(`(?im)^Subject:[ \t]*(.+)`)
	fromRe      = regexp.MustCompile(`(?im)^From:[ \t]*(.+)`)
	toRe        = regexp.MustCompile(`(?im)^To:[ \t]*(.+)`)
	dateRe      = regexp.MustCompile(`(?im)^Date:[ \t]*(.+)`)
	messageIDRe = regexp.MustCompile(`(?im)^Message-ID:[ \t]*(.+)`)
)

// IsFetchResponse reports whether a response line opens an untagged FETCH.
func IsFetchResponse(line []byte) bool {
	return fetchRe.Match(bytes.TrimSpace(line))
}

// BodyLiteralSize returns the announced byte count when a FETCH line
// carries message content as a literal.
func BodyLiteralSize(line []byte) (int, bool) {
	m := bodyRe.FindSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// TrailingLiteralSize returns the size of a literal announced at the end of
// a line, matching both `{N}` and LITERAL+ `{N+}` forms.
func TrailingLiteralSize(line []byte) (int, bool) {
	trimmed := bytes.TrimRight(line, "\r\n")
	m := trailingLiteralRe.FindSubmatch(trimmed)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractUID pulls the message UID out of a FETCH response line.
func ExtractUID(line []byte) string {
	m := uidRe.FindSubmatch(line)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// ParseHeaders recovers message metadata from the raw header block inside a
// FETCH literal. Missing headers leave zero values; BODY[TEXT] literals
// carry no headers at all.
func ParseHeaders(raw []byte) FetchMeta {
	var meta FetchMeta

	if m := subjectRe.FindSubmatch(raw); m != nil {
		meta.Subject = string(bytes.TrimSpace(m[1]))
	}
	if m := messageIDRe.FindSubmatch(raw); m != nil {
		meta.MessageID = strings.Trim(string(bytes.TrimSpace(m[1])), "<>")
	}
	if m := fromRe.FindSubmatch(raw); m != nil {
		if addr, err := mail.ParseAddress(string(bytes.TrimSpace(m[1]))); err == nil {
			meta.FromDisplay = addr.Name
			meta.FromAddress = strings.ToLower(addr.Address)
		}
	}
	if m := toRe.FindSubmatch(raw); m != nil {
		// first recipient only; the LOGIN-derived mailbox owner wins anyway
		if addrs, err := mail.ParseAddressList(string(bytes.TrimSpace(m[1]))); err == nil && len(addrs) > 0 {
			meta.ToAddress = strings.ToLower(addrs[0].Address)
		}
	}
	if m := dateRe.FindSubmatch(raw); m != nil {
		if t, err := mail.ParseDate(string(bytes.TrimSpace(m[1]))); err == nil {
			meta.Date = t.UTC()
		}
	}
	return meta
}

// ParseCommand splits a client command line into its tag and command name.
func ParseCommand(line []byte) (tag, name string, ok bool) {
	fields := strings.Fields(string(bytes.TrimSpace(line)))
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], strings.ToUpper(fields[1]), true
}

// LoginUsername extracts the username argument of a LOGIN command. Handles
// both quoted and bare forms; literal-form arguments are not resolved here.
func LoginUsername(line []byte) (string, bool) {
	fields := splitArgs(string(bytes.TrimSpace(line)))
	if len(fields) < 3 || !strings.EqualFold(fields[1], "LOGIN") {
		return "", false
	}
	user := strings.Trim(fields[2], `"`)
	if user == "" || strings.HasPrefix(user, "{") {
		return "", false
	}
	return strings.ToLower(user), true
}

// splitArgs splits on spaces while keeping quoted strings whole.
func splitArgs(line string) []string {
	var args []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == ' ' && !inQuote:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}
