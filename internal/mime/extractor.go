package mime

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/mindwall/mindwall/internal/core"
)

// maxNestingDepth bounds recursive multipart descent.
const maxNestingDepth = 8

// Extractor turns raw MIME messages into clean plain text for analysis.
// text/plain parts are preferred; text/html is stripped to text when no
// plain part exists. Quoted reply history and signatures are removed so
// only the new content is scored.
type Extractor struct {
	minLength int
	logger    *zap.Logger
}

// NewExtractor creates an extractor. Bodies shorter than minLength after
// cleaning are treated as not analyzable and yield an empty string.
func NewExtractor(minLength int, logger *zap.Logger) *Extractor {
	return &Extractor{minLength: minLength, logger: logger}
}

// Extract returns the cleaned analyzable text of a raw message. A body too
// short to analyze returns ("", nil). Structural failures wrap
// ErrExtractionFailure.
func (e *Extractor) Extract(raw []byte) (string, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		// no header block at all: treat the input as bare text, the way
		// BODY[TEXT] fetches arrive
		return e.finish(string(raw)), nil
	}

	text, htmlBody, err := e.walkMessage(msg.Header.Get("Content-Type"),
		msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrExtractionFailure, err)
	}

	if text != "" {
		return e.finish(text), nil
	}
	if htmlBody != "" {
		return e.finish(stripHTML(htmlBody)), nil
	}
	return "", nil
}

// walkMessage descends a MIME entity collecting the first text/plain and
// first text/html parts, skipping attachments.
func (e *Extractor) walkMessage(contentType, transferEncoding string, body io.Reader, depth int) (text, htmlBody string, err error) {
	if depth > maxNestingDepth {
		return "", "", fmt.Errorf("multipart nesting exceeds depth %d", maxNestingDepth)
	}

	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		mediaType, params, err = mime.ParseMediaType(contentType)
		if err != nil {
			// unparseable Content-Type: read as plain text
			mediaType, params = "text/plain", nil
		}
	}
	mediaType = strings.ToLower(mediaType)

	if !strings.HasPrefix(mediaType, "multipart/") {
		decoded, err := decodePart(body, transferEncoding, params["charset"])
		if err != nil {
			return "", "", err
		}
		if mediaType == "text/html" {
			return "", decoded, nil
		}
		return decoded, "", nil
	}

	boundary, ok := params["boundary"]
	if !ok {
		return "", "", fmt.Errorf("multipart message without boundary")
	}

	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", fmt.Errorf("reading multipart: %v", err)
		}

		if strings.Contains(strings.ToLower(part.Header.Get("Content-Disposition")), "attachment") {
			continue
		}

		pText, pHTML, err := e.walkMessage(part.Header.Get("Content-Type"),
			part.Header.Get("Content-Transfer-Encoding"), part, depth+1)
		if err != nil {
			e.logger.Debug("Skipping unreadable part", zap.Error(err))
			continue
		}
		if text == "" && pText != "" {
			text = pText
		}
		if htmlBody == "" && pHTML != "" {
			htmlBody = pHTML
		}
		if text != "" && htmlBody != "" {
			break
		}
	}
	return text, htmlBody, nil
}

// decodePart applies the transfer encoding and charset of a leaf part.
func decodePart(r io.Reader, transferEncoding, charset string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading part: %v", err)
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc, err := ianaindex.IANA.Encoding(charset); err == nil && enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil {
				data = decoded
			}
		}
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// finish runs the cleaning passes and applies the minimum-length rule.
func (e *Extractor) finish(text string) string {
	cleaned := collapseBlankLines(stripSignature(stripQuotedReply(text)))
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) < e.minLength {
		return ""
	}
	return cleaned
}

var (
	scriptStyleRe  = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockElementRe = regexp.MustCompile(`(?i)</?(?:div|p|br|h[1-6]|ul|ol|li|table|tr|td|th|blockquote|pre|hr|section|article|header|footer|nav)[^>]*>`)
	brRe           = regexp.MustCompile(`(?i)<br\s*/?\s*>`)
	tagRe          = regexp.MustCompile(`<[^>]+>`)
	spaceRunRe     = regexp.MustCompile(`[ \t]+`)
)

// stripHTML converts an HTML body to plain text: script/style removed,
// block elements become line breaks, remaining tags dropped, entities
// decoded, whitespace normalized per line.
func stripHTML(content string) string {
	text := scriptStyleRe.ReplaceAllString(content, "")
	text = brRe.ReplaceAllString(text, "\n")
	text = blockElementRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

var replyIntroRe = regexp.MustCompile(`(?i)^On .+ wrote:\s*$`)

// stripQuotedReply drops quoted history: ">"-prefixed lines, the "On ...
// wrote:" introduction, and everything below a forwarded-message marker.
func stripQuotedReply(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") || replyIntroRe.MatchString(trimmed) {
			continue
		}
		if strings.HasPrefix(trimmed, "-----Original Message-----") ||
			strings.HasPrefix(trimmed, "---------- Forwarded message") {
			break
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// stripSignature truncates at the conventional "-- " delimiter or a mobile
// client footer.
func stripSignature(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimRight(line, " \t\r") == "--" ||
			strings.HasPrefix(strings.TrimSpace(line), "Sent from my") {
			return strings.Join(lines[:i], "\n")
		}
	}
	return text
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(text string) string {
	return blankRunRe.ReplaceAllString(text, "\n\n")
}
