package dropbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// apiResultHeader carries the file metadata on content download responses.
const apiResultHeader = "Dropbox-API-Result"

// Download streams a file's full content. The caller must close the
// returned reader. Metadata comes from the response header, so it is
// available before the body is consumed.
func (c *Client) Download(ctx context.Context, remotePath string) (io.ReadCloser, *Metadata, error) {
	c.logger.Info("downloading", slog.String("path", remotePath))

	resp, err := c.content(ctx, "/files/download", pathArg{Path: apiPath(remotePath)}, nil, "")
	if err != nil {
		return nil, nil, err
	}

	m, err := parseResultHeader(resp.Header.Get(apiResultHeader))
	if err != nil {
		resp.Body.Close()
		return nil, nil, err
	}

	return resp.Body, m, nil
}

// DownloadRange fetches one window of a file's content using an HTTP Range
// request. Returns exactly the requested bytes, or an error when the server
// sends a different amount. Takes no internal retry: the caller owns the
// retry policy for windows.
func (c *Client) DownloadRange(ctx context.Context, remotePath string, offset, length int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)

	resp, err := c.content(ctx, "/files/download", pathArg{Path: apiPath(remotePath)}, nil, rangeHeader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dropbox: reading range %s: %w", rangeHeader, err)
	}

	if int64(len(data)) != length {
		return nil, fmt.Errorf("dropbox: range %s returned %d bytes, want %d", rangeHeader, len(data), length)
	}

	return data, nil
}

// parseResultHeader decodes the metadata JSON from the Dropbox-API-Result
// header of a content download response.
func parseResultHeader(raw string) (*Metadata, error) {
	if raw == "" {
		return nil, fmt.Errorf("dropbox: download response missing %s header", apiResultHeader)
	}

	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("dropbox: decoding %s header: %w", apiResultHeader, err)
	}

	m.Tag = "file"

	return &m, nil
}
