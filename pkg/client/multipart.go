package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
)

// File is one upload part.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Content     io.Reader
}

// PostMultipart sends fields and files as multipart/form-data.
func (c *Client) PostMultipart(ctx context.Context, path string, fields map[string]any, files []File, out any) (*Response, error) {
	return c.sendMultipart(ctx, http.MethodPost, path, fields, files, out)
}

// PutMultipart is PostMultipart for updates.
func (c *Client) PutMultipart(ctx context.Context, path string, fields map[string]any, files []File, out any) (*Response, error) {
	return c.sendMultipart(ctx, http.MethodPut, path, fields, files, out)
}

func (c *Client) sendMultipart(ctx context.Context, method, path string, fields map[string]any, files []File, out any) (*Response, error) {
	body, contentType, err := encodeMultipart(fields, files)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, Request{
		Method:  method,
		Path:    path,
		Body:    body,
		Headers: map[string]string{"Content-Type": contentType},
	})
	if err != nil {
		return resp, err
	}
	return resp, resp.Decode(out)
}

func encodeMultipart(fields map[string]any, files []File) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, err := formValue(fields[name])
		if err != nil {
			return nil, "", fmt.Errorf("client: encode field %q: %w", name, err)
		}
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("client: write field %q: %w", name, err)
		}
	}

	for _, file := range files {
		if file.Content == nil {
			continue
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Filename))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("client: create part %q: %w", file.Field, err)
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, "", fmt.Errorf("client: copy part %q: %w", file.Field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("client: close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func formValue(value any) (string, error) {
	switch typed := value.(type) {
	case nil:
		return "", nil
	case string:
		return typed, nil
	case bool:
		return strconv.FormatBool(typed), nil
	case int:
		return strconv.Itoa(typed), nil
	case int64:
		return strconv.FormatInt(typed, 10), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
