package client

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// AnonymousCheck fetches the usage record of a browser fingerprint
func (c *BackendClient) AnonymousCheck(ctx context.Context, fingerprint string) (*models.AnonymousStatus, error) {
	r, err := jsonRequest(http.MethodPost, "/api/anonymous/check", "", &models.AnonymousCheckRequest{BrowserFingerprint: fingerprint})
	if err != nil {
		return nil, err
	}
	r.headers = map[string]string{"X-Browser-Fingerprint": fingerprint}

	var result models.AnonymousStatus
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AnonymousConvert submits a statement for extraction without an account
func (c *BackendClient) AnonymousConvert(ctx context.Context, fingerprint string, file *models.Upload) (*models.ProcessResponse, error) {
	r, err := multipartRequest("/api/anonymous/convert", "", file)
	if err != nil {
		return nil, err
	}
	r.headers = map[string]string{"X-Browser-Fingerprint": fingerprint}
	return c.process(ctx, r)
}

// ProcessPDF submits a statement for extraction against the account quota
func (c *BackendClient) ProcessPDF(ctx context.Context, token string, file *models.Upload) (*models.ProcessResponse, error) {
	r, err := multipartRequest("/api/process-pdf", token, file)
	if err != nil {
		return nil, err
	}
	return c.process(ctx, r)
}

func (c *BackendClient) process(ctx context.Context, r *request) (*models.ProcessResponse, error) {
	var result models.ProcessResponse
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	if !result.Success || result.Data == nil {
		return nil, fmt.Errorf("invalid response from extraction")
	}
	c.log.Info("statement processed")
	return &result, nil
}

func multipartRequest(path, token string, file *models.Upload) (*request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Filename))
	header.Set("Content-Type", file.ContentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	return &request{
		method:      http.MethodPost,
		path:        path,
		token:       token,
		body:        &buf,
		contentType: w.FormDataContentType(),
	}, nil
}
