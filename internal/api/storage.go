package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	actionStorageUpload   = "storage upload"
	actionStorageDownload = "storage download"
	actionAttrStore       = "attribute upload"

	fileAttrHandleSize = 8
)

// UploadChunk posts one encrypted chunk to a storage URL at the plaintext
// offset. It returns the completion token when the server has received the
// whole file, otherwise the empty string. Storage requests are not retried
// here; the transfer engine owns per-chunk retry.
func (c *Client) UploadChunk(ctx context.Context, uploadURL string, offset int64, data []byte) (string, error) {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int("length", len(data)),
	)

	body, err := c.storageDo(ctx, actionStorageUpload, http.MethodPost,
		uploadURL+"/"+strconv.FormatInt(offset, 10), data)
	if err != nil {
		return "", err
	}

	body = bytes.TrimSpace(body)
	if code, ok := errorCode(body); ok {
		return "", NewAPIError(actionStorageUpload, code)
	}

	return string(body), nil
}

// DownloadChunk fetches ciphertext bytes [start, end) from a storage URL.
// A short body is a network failure.
func (c *Client) DownloadChunk(ctx context.Context, downloadURL string, start, end int64) ([]byte, error) {
	if end <= start {
		return nil, fmt.Errorf("api: invalid download range %d-%d", start, end)
	}

	c.logger.Debug("downloading chunk",
		slog.Int64("start", start),
		slog.Int64("end", end),
	)

	body, err := c.storageDo(ctx, actionStorageDownload, http.MethodGet,
		fmt.Sprintf("%s/%d-%d", downloadURL, start, end-1), nil)
	if err != nil {
		return nil, err
	}

	if int64(len(body)) != end-start {
		if code, ok := errorCode(bytes.TrimSpace(body)); ok {
			return nil, NewAPIError(actionStorageDownload, code)
		}

		return nil, fmt.Errorf("%w: short chunk: got %d bytes, want %d", ErrNetwork, len(body), end-start)
	}

	return body, nil
}

// UploadFileAttr stores an encrypted file attribute (thumbnail or preview)
// and returns its handle.
func (c *Client) UploadFileAttr(ctx context.Context, uploadURL string, data []byte) (string, error) {
	body, err := c.storageDo(ctx, actionAttrStore, http.MethodPost, uploadURL, data)
	if err != nil {
		return "", err
	}

	if code, ok := errorCode(bytes.TrimSpace(body)); ok {
		return "", NewAPIError(actionAttrStore, code)
	}

	if len(body) != fileAttrHandleSize {
		return "", fmt.Errorf("%w: attribute handle of %d bytes", ErrNetwork, len(body))
	}

	return b64(body), nil
}

func (c *Client) storageDo(ctx context.Context, action, method, target string, data []byte) ([]byte, error) {
	var rd io.Reader
	if data != nil {
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("api: creating %s request: %w", action, err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	if data != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = int64(len(data))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrNetwork, action, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}

	return body, nil
}
