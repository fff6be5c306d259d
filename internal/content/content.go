package content

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"
	"unicode/utf8"

	"coursechat/internal/models"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MaxPreviewLength is the longest preview in runes, ellipsis included.
const MaxPreviewLength = 80

var (
	policy     = bluemonday.UGCPolicy()
	markdown   = goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough))
	whitespace = regexp.MustCompile(`\s+`)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts message markdown to sanitized HTML. Raw HTML in the
// source never survives: goldmark drops it and the policy runs afterwards.
func Render(input string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return Escape(input)
	}
	return strings.TrimSpace(Sanitize(buf.String()))
}

// Truncate collapses whitespace and shortens the result to MaxPreviewLength.
func Truncate(value string) string {
	normalized := strings.TrimSpace(whitespace.ReplaceAllString(value, " "))
	if utf8.RuneCountInString(normalized) <= MaxPreviewLength {
		return normalized
	}
	runes := []rune(normalized)
	return strings.TrimRight(string(runes[:MaxPreviewLength-1]), " ") + "…"
}

// Preview is the one-line text shown for a message in lists and reply
// banners.
func Preview(m *models.Message) string {
	if m == nil {
		return ""
	}
	if m.Type == models.MessageTypeFile {
		if m.Attachment != nil && m.Attachment.FileName != "" {
			return "Attachment • " + m.Attachment.FileName
		}
		return "Attachment"
	}
	if text := strings.TrimSpace(m.Text()); text != "" {
		return Truncate(text)
	}
	return "Message"
}

// LatestReplyLabel describes the newest reply of a thread.
func LatestReplyLabel(summary *models.ReplySummary) string {
	if summary == nil {
		return ""
	}
	text := summary.Preview
	if text == "" {
		text = summary.ContentPreview
	}
	preview := Truncate(text)

	var author string
	if summary.Sender != nil {
		author = strings.TrimSpace(summary.Sender.Name)
	}

	switch {
	case preview != "" && author != "":
		return author + ": " + preview
	case preview != "":
		return preview
	case author != "":
		return author + " replied"
	}
	return "New reply"
}

// AttachmentLabel is the file name with a human readable size.
func AttachmentLabel(a *models.Attachment) string {
	if a == nil {
		return ""
	}
	name := a.FileName
	if name == "" {
		name = "file"
	}
	if a.Size <= 0 {
		return name
	}
	return name + " • " + humanize.Bytes(uint64(a.Size))
}
