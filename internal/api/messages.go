package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"

	"coursechat/internal/models"
	"coursechat/internal/normalize"
)

// sniffLen is the number of leading bytes filetype needs to detect a type.
const sniffLen = 261

// Messages fetches one page of course history.
func (c *Client) Messages(ctx context.Context, courseID, cursor string) (models.Page, error) {
	data, err := c.do(ctx, http.MethodGet, coursePath(courseID, "messages"), cursorQuery(cursor), nil)
	if err != nil {
		return models.Page{}, err
	}
	return normalize.Page(data), nil
}

// Replies fetches one page of a thread.
func (c *Client) Replies(ctx context.Context, courseID, parentID, cursor string) (models.Page, error) {
	data, err := c.do(ctx, http.MethodGet, coursePath(courseID, "messages", parentID, "replies"), cursorQuery(cursor), nil)
	if err != nil {
		return models.Page{}, err
	}
	return normalize.Page(data), nil
}

// Search runs a message search in a course.
func (c *Client) Search(ctx context.Context, courseID, query, cursor string) (models.Page, error) {
	q := url.Values{"q": {query}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	data, err := c.do(ctx, http.MethodGet, coursePath(courseID, "messages", "search"), q, nil)
	if err != nil {
		return models.Page{}, err
	}
	return normalize.Page(data), nil
}

// Send posts a text message.
func (c *Client) Send(ctx context.Context, courseID string, req models.SendRequest) (models.Message, error) {
	data, err := c.do(ctx, http.MethodPost, coursePath(courseID, "messages"), nil, req)
	if err != nil {
		return models.Message{}, err
	}
	return message(data)
}

// Pin pins a message. The returned message is nil when the server did not
// send the updated entity back.
func (c *Client) Pin(ctx context.Context, courseID, messageID string) (*models.Message, error) {
	data, err := c.do(ctx, http.MethodPost, coursePath(courseID, "messages", messageID, "pin"), nil, nil)
	if err != nil {
		return nil, err
	}
	return optionalMessage(data), nil
}

func (c *Client) Unpin(ctx context.Context, courseID, messageID string) (*models.Message, error) {
	data, err := c.do(ctx, http.MethodDelete, coursePath(courseID, "messages", messageID, "pin"), nil, nil)
	if err != nil {
		return nil, err
	}
	return optionalMessage(data), nil
}

func message(data json.RawMessage) (models.Message, error) {
	raw := normalize.Unwrap(data, "message")
	if !normalize.IsMessage(raw) {
		return models.Message{}, fmt.Errorf("response is not a message")
	}
	m, _ := normalize.Decode(raw)
	return m, nil
}

func optionalMessage(data json.RawMessage) *models.Message {
	m, err := message(data)
	if err != nil {
		return nil
	}
	return &m
}

// Upload is a file attached to a new message.
type Upload struct {
	FileName        string
	Content         io.Reader
	ParentMessageID string
	ClientID        string
}

// Upload posts a file message. The part content type is sniffed from the
// file header, falling back to the file extension.
func (c *Client) Upload(ctx context.Context, courseID string, upload Upload) (models.Message, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(upload.Content, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return models.Message{}, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if upload.ParentMessageID != "" {
		if err := w.WriteField("parentMessageId", upload.ParentMessageID); err != nil {
			return models.Message{}, fmt.Errorf("failed to write form: %w", err)
		}
	}
	if upload.ClientID != "" {
		if err := w.WriteField("clientId", upload.ClientID); err != nil {
			return models.Message{}, fmt.Errorf("failed to write form: %w", err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": upload.FileName,
	}))
	header.Set("Content-Type", DetectMimeType(upload.FileName, head))
	part, err := w.CreatePart(header)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to write form: %w", err)
	}
	if _, err := io.Copy(part, io.MultiReader(bytes.NewReader(head), upload.Content)); err != nil {
		return models.Message{}, fmt.Errorf("failed to copy upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.Message{}, fmt.Errorf("failed to write form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(coursePath(courseID, "uploads"), nil), &body)
	if err != nil {
		return models.Message{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	data, err := c.send(req)
	if err != nil {
		return models.Message{}, err
	}
	return message(data)
}

// DetectMimeType identifies a file from its leading bytes, then its name.
func DetectMimeType(fileName string, head []byte) string {
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if byExt := mime.TypeByExtension(filepath.Ext(fileName)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// Download streams an attachment into w and returns the file name to save
// it under: the Content-Disposition name when present, else the attachment
// metadata.
func (c *Client) Download(ctx context.Context, attachment models.Attachment, w io.Writer) (string, error) {
	target := attachment.DownloadURL
	if target == "" {
		target = attachment.URL
	}
	if target == "" {
		return "", fmt.Errorf("attachment %q has no url", attachment.FileName)
	}
	if strings.HasPrefix(target, "/") {
		target = c.baseURL + target
	}

	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Del("Accept")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", attachment.FileName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return "", c.fail(resp.StatusCode, data)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("download %s: %w", attachment.FileName, err)
	}
	return fileName(resp.Header.Get("Content-Disposition"), attachment.FileName), nil
}

func fileName(disposition, fallback string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := filepath.Base(params["filename"]); params["filename"] != "" && name != "." && name != "/" {
			return name
		}
	}
	if fallback == "" {
		return "download"
	}
	return fallback
}
