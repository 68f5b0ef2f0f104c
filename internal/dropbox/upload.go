package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// commitInfo is the argument committing content to a final path. Mode
// "overwrite" matches put semantics; autorename off keeps the destination
// path deterministic.
type commitInfo struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

func newCommitInfo(remotePath string) commitInfo {
	return commitInfo{
		Path:       apiPath(remotePath),
		Mode:       "overwrite",
		Autorename: false,
		Mute:       true,
	}
}

// Upload sends an entire file in one request. Suitable for payloads below
// the session threshold; larger files must use upload sessions. Takes the
// full content as a byte slice so the caller can resend on failure.
func (c *Client) Upload(ctx context.Context, remotePath string, data []byte) (*Metadata, error) {
	c.logger.Info("simple upload",
		slog.String("path", remotePath),
		slog.Int("size", len(data)),
	)

	resp, err := c.content(ctx, "/files/upload", newCommitInfo(remotePath), bytes.NewReader(data), "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m Metadata
	if decErr := json.NewDecoder(resp.Body).Decode(&m); decErr != nil {
		return nil, fmt.Errorf("dropbox: decoding upload response: %w", decErr)
	}

	m.Tag = "file"

	return &m, nil
}

type sessionStartArg struct {
	Close bool `json:"close"`
}

type sessionStartResult struct {
	SessionID string `json:"session_id"`
}

// UploadSessionStart opens a chunked upload session, sending the first
// window of bytes. Returns the session ID used for append and finish.
func (c *Client) UploadSessionStart(ctx context.Context, data []byte) (string, error) {
	resp, err := c.content(ctx, "/files/upload_session/start", sessionStartArg{}, bytes.NewReader(data), "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var res sessionStartResult
	if decErr := json.NewDecoder(resp.Body).Decode(&res); decErr != nil {
		return "", fmt.Errorf("dropbox: decoding session start response: %w", decErr)
	}

	c.logger.Debug("upload session started", slog.Int("first_window", len(data)))

	return res.SessionID, nil
}

type sessionCursor struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

type sessionAppendArg struct {
	Cursor sessionCursor `json:"cursor"`
	Close  bool          `json:"close"`
}

// UploadSessionAppend sends the next window of bytes at the given offset.
// The server rejects offsets that disagree with what it has received, which
// surfaces lost or duplicated windows as ErrConflict.
func (c *Client) UploadSessionAppend(ctx context.Context, sessionID string, offset int64, data []byte) error {
	arg := sessionAppendArg{Cursor: sessionCursor{SessionID: sessionID, Offset: offset}}

	resp, err := c.content(ctx, "/files/upload_session/append_v2", arg, bytes.NewReader(data), "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return drain(resp)
}

type sessionFinishArg struct {
	Cursor sessionCursor `json:"cursor"`
	Commit commitInfo    `json:"commit"`
}

// UploadSessionFinish sends the final window (may be empty) and commits the
// session's content to remotePath.
func (c *Client) UploadSessionFinish(
	ctx context.Context, sessionID string, offset int64, remotePath string, data []byte,
) (*Metadata, error) {
	arg := sessionFinishArg{
		Cursor: sessionCursor{SessionID: sessionID, Offset: offset},
		Commit: newCommitInfo(remotePath),
	}

	resp, err := c.content(ctx, "/files/upload_session/finish", arg, bytes.NewReader(data), "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m Metadata
	if decErr := json.NewDecoder(resp.Body).Decode(&m); decErr != nil {
		return nil, fmt.Errorf("dropbox: decoding session finish response: %w", decErr)
	}

	m.Tag = "file"

	c.logger.Info("upload session committed",
		slog.String("path", remotePath),
		slog.Int64("size", m.Size),
	)

	return &m, nil
}

// drain consumes a response body so the connection can be reused.
func drain(resp *http.Response) error {
	if err := decodeResult(resp.Body, nil); err != nil {
		return fmt.Errorf("dropbox: draining response body: %w", err)
	}

	return nil
}
