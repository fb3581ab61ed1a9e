package imap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsFetchResponse(t *testing.T) {
	assert.True(t, IsFetchResponse([]byte("* 12 FETCH (UID 4827 RFC822 {342}\r\n")))
	assert.True(t, IsFetchResponse([]byte("* 1 fetch (FLAGS (\\Seen))\r\n")))
	assert.False(t, IsFetchResponse([]byte("* 12 EXISTS\r\n")))
	assert.False(t, IsFetchResponse([]byte("a003 OK FETCH completed\r\n")))
	assert.False(t, IsFetchResponse([]byte("* OK ready\r\n")))
}

func TestBodyLiteralSize(t *testing.T) {
	tests := []struct {
		name string
		line string
		size int
		ok   bool
	}{
		{"rfc822", "* 12 FETCH (UID 4827 RFC822 {342}\r\n", 342, true},
		{"rfc822 text", "* 3 FETCH (RFC822.TEXT {57}\r\n", 57, true},
		{"body empty section", "* 5 FETCH (UID 99 BODY[] {1024}\r\n", 1024, true},
		{"body text", "* 5 FETCH (BODY[TEXT] {88}\r\n", 88, true},
		{"body header", "* 5 FETCH (BODY[HEADER] {210}\r\n", 210, true},
		{"body part one", "* 5 FETCH (BODY[1] {44}\r\n", 44, true},
		{"body nested part", "* 5 FETCH (BODY[1.1] {44}\r\n", 44, true},
		{"lowercase", "* 5 fetch (body[text] {12}\r\n", 12, true},
		{"flags only", "* 5 FETCH (FLAGS (\\Seen) UID 4827)\r\n", 0, false},
		{"no literal", "* 5 FETCH (BODY[TEXT] \"inline\")\r\n", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, ok := BodyLiteralSize([]byte(tt.line))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.size, size)
		})
	}
}

func TestTrailingLiteralSize(t *testing.T) {
	size, ok := TrailingLiteralSize([]byte("a001 APPEND INBOX {310}\r\n"))
	assert.True(t, ok)
	assert.Equal(t, 310, size)

	// LITERAL+ form
	size, ok = TrailingLiteralSize([]byte("a001 APPEND INBOX {310+}\r\n"))
	assert.True(t, ok)
	assert.Equal(t, 310, size)

	_, ok = TrailingLiteralSize([]byte("a001 NOOP\r\n"))
	assert.False(t, ok)

	// literal marker mid-line does not count
	_, ok = TrailingLiteralSize([]byte("* 1 FETCH (BODY[] {10} more)\r\n"))
	assert.False(t, ok)
}

func TestExtractUID(t *testing.T) {
	assert.Equal(t, "4827", ExtractUID([]byte("* 12 FETCH (UID 4827 RFC822 {342}\r\n")))
	assert.Equal(t, "7", ExtractUID([]byte("* 2 FETCH (FLAGS () uid 7)\r\n")))
	assert.Equal(t, "", ExtractUID([]byte("* 12 FETCH (RFC822 {342}\r\n")))
}

func TestParseHeaders(t *testing.T) {
	raw := []byte("Return-Path: <dave@vendor.example>\r\n" +
		"Date: Tue, 10 Mar 2026 09:15:00 +0100\r\n" +
		"From: \"Dave Smith\" <Dave@Vendor.example>\r\n" +
		"To: <carol@corp.example>\r\n" +
		"Message-ID: <mid-101@vendor.example>\r\n" +
		"Subject: Quarterly invoice\r\n" +
		"\r\n" +
		"Body text here.\r\n")

	meta := ParseHeaders(raw)
	assert.Equal(t, "Quarterly invoice", meta.Subject)
	assert.Equal(t, "dave@vendor.example", meta.FromAddress)
	assert.Equal(t, "Dave Smith", meta.FromDisplay)
	assert.Equal(t, "carol@corp.example", meta.ToAddress)
	assert.Equal(t, "mid-101@vendor.example", meta.MessageID)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 15, 0, 0, time.UTC), meta.Date)
}

func TestParseHeaders_BareAddresses(t *testing.T) {
	raw := []byte("From: dave@vendor.example\nTo: carol@corp.example\nSubject: hi\n\nbody\n")

	meta := ParseHeaders(raw)
	assert.Equal(t, "dave@vendor.example", meta.FromAddress)
	assert.Equal(t, "carol@corp.example", meta.ToAddress)
	assert.Equal(t, "hi", meta.Subject)
}

func TestParseHeaders_NoHeaders(t *testing.T) {
	meta := ParseHeaders([]byte("just a plain text body with no headers at all"))
	assert.Empty(t, meta.Subject)
	assert.Empty(t, meta.FromAddress)
	assert.True(t, meta.Date.IsZero())
}

func TestParseCommand(t *testing.T) {
	tag, name, ok := ParseCommand([]byte("a001 LOGIN user pass\r\n"))
	assert.True(t, ok)
	assert.Equal(t, "a001", tag)
	assert.Equal(t, "LOGIN", name)

	tag, name, ok = ParseCommand([]byte("a002 select INBOX\r\n"))
	assert.True(t, ok)
	assert.Equal(t, "a002", tag)
	assert.Equal(t, "SELECT", name)

	_, _, ok = ParseCommand([]byte("DONE\r\n"))
	assert.False(t, ok)
}

func TestLoginUsername(t *testing.T) {
	tests := []struct {
		name string
		line string
		user string
		ok   bool
	}{
		{"bare", "a001 LOGIN carol@corp.example secret\r\n", "carol@corp.example", true},
		{"quoted", "a001 LOGIN \"Carol@Corp.example\" \"p w\"\r\n", "carol@corp.example", true},
		{"lowercase command", "a1 login carol@corp.example pw\r\n", "carol@corp.example", true},
		{"not login", "a001 SELECT INBOX\r\n", "", false},
		{"missing args", "a001 LOGIN\r\n", "", false},
		{"literal form", "a001 LOGIN {21}\r\n", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, ok := LoginUsername([]byte(tt.line))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.user, user)
		})
	}
}
