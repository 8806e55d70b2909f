package restclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"prism-dashboard/domain"
)

var errInvalidOwner = errors.New("attachment owner must be a project, a task or a task comment")

func (c *Client) Attachments(ctx context.Context, owner domain.AttachmentOwner) ([]domain.Attachment, error) {
	if !owner.Valid() {
		return nil, errInvalidOwner
	}
	atts, err := list[domain.Attachment](ctx, c, request{
		op: "attachments.list", path: owner.Path(), fallback: "failed to fetch attachments",
	})
	if err != nil {
		return nil, err
	}
	for i := range atts {
		atts[i].URL = c.AbsoluteURL(atts[i].URL)
	}
	return atts, nil
}

// UploadAttachment posts content as the multipart "file" field.
func (c *Client) UploadAttachment(ctx context.Context, owner domain.AttachmentOwner, filename string, content io.Reader) (domain.Attachment, error) {
	if !owner.Valid() {
		return domain.Attachment{}, errInvalidOwner
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return domain.Attachment{}, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return domain.Attachment{}, fmt.Errorf("build upload: %w", err)
	}
	att, err := one[domain.Attachment](ctx, c, request{
		op: "attachments.upload", method: http.MethodPost, path: owner.Path(),
		raw: &buf, rawType: w.FormDataContentType(), fallback: "failed to upload attachment",
	})
	if err != nil {
		return domain.Attachment{}, err
	}
	att.URL = c.AbsoluteURL(att.URL)
	return att, nil
}

func (c *Client) DeleteAttachment(ctx context.Context, owner domain.AttachmentOwner, id int) error {
	if !owner.Valid() {
		return errInvalidOwner
	}
	return c.do(ctx, request{
		op: "attachments.delete", method: http.MethodDelete, path: fmt.Sprintf("%s/%d", owner.Path(), id),
		fallback: "failed to delete attachment",
	}, nil)
}

// AbsoluteURL resolves an attachment url returned by the API against the
// base URL. Absolute and empty urls are returned unchanged.
func (c *Client) AbsoluteURL(raw string) string {
	if raw == "" {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	return c.BaseURL() + "/" + strings.TrimLeft(raw, "/")
}
