package dropbox

import (
	"context"
	"log/slog"
)

type pathArg struct {
	Path string `json:"path"`
}

type relocationArg struct {
	FromPath string `json:"from_path"`
	ToPath   string `json:"to_path"`
}

// metadataResult wraps the v2 endpoints that nest the entry under "metadata".
type metadataResult struct {
	Metadata Metadata `json:"metadata"`
}

// GetMetadata returns the metadata for a file or folder.
// Returns ErrNotFound (wrapped) when the path does not exist.
func (c *Client) GetMetadata(ctx context.Context, remotePath string) (*Metadata, error) {
	var m Metadata
	if err := c.call(ctx, "/files/get_metadata", pathArg{Path: apiPath(remotePath)}, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// Delete removes a file, or a folder and all its contents.
func (c *Client) Delete(ctx context.Context, remotePath string) (*Metadata, error) {
	c.logger.Info("deleting", slog.String("path", remotePath))

	var res metadataResult
	if err := c.call(ctx, "/files/delete_v2", pathArg{Path: apiPath(remotePath)}, &res); err != nil {
		return nil, err
	}

	return &res.Metadata, nil
}

// Move relocates a file or folder to a new path.
func (c *Client) Move(ctx context.Context, fromPath, toPath string) (*Metadata, error) {
	c.logger.Info("moving",
		slog.String("from", fromPath),
		slog.String("to", toPath),
	)

	arg := relocationArg{FromPath: apiPath(fromPath), ToPath: apiPath(toPath)}

	var res metadataResult
	if err := c.call(ctx, "/files/move_v2", arg, &res); err != nil {
		return nil, err
	}

	return &res.Metadata, nil
}

// Copy duplicates a file or folder at a new path.
func (c *Client) Copy(ctx context.Context, fromPath, toPath string) (*Metadata, error) {
	c.logger.Info("copying",
		slog.String("from", fromPath),
		slog.String("to", toPath),
	)

	arg := relocationArg{FromPath: apiPath(fromPath), ToPath: apiPath(toPath)}

	var res metadataResult
	if err := c.call(ctx, "/files/copy_v2", arg, &res); err != nil {
		return nil, err
	}

	return &res.Metadata, nil
}

type createFolderArg struct {
	Path       string `json:"path"`
	Autorename bool   `json:"autorename"`
}

// CreateFolder creates a folder. Creating an existing folder returns
// ErrConflict (wrapped).
func (c *Client) CreateFolder(ctx context.Context, remotePath string) (*Metadata, error) {
	c.logger.Info("creating folder", slog.String("path", remotePath))

	arg := createFolderArg{Path: apiPath(remotePath)}

	var res metadataResult
	if err := c.call(ctx, "/files/create_folder_v2", arg, &res); err != nil {
		return nil, err
	}

	res.Metadata.Tag = "folder"

	return &res.Metadata, nil
}

type listFolderArg struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Limit     uint32 `json:"limit,omitempty"`
}

// ListFolder returns the first page of entries under remotePath. Use
// ListFolderContinue with the returned cursor while HasMore is set.
func (c *Client) ListFolder(ctx context.Context, remotePath string, recursive bool) (*ListFolderPage, error) {
	arg := listFolderArg{Path: apiPath(remotePath), Recursive: recursive}

	var page ListFolderPage
	if err := c.call(ctx, "/files/list_folder", arg, &page); err != nil {
		return nil, err
	}

	return &page, nil
}

type cursorArg struct {
	Cursor string `json:"cursor"`
}

// ListFolderContinue fetches the next page for a cursor from ListFolder.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (*ListFolderPage, error) {
	var page ListFolderPage
	if err := c.call(ctx, "/files/list_folder/continue", cursorArg{Cursor: cursor}, &page); err != nil {
		return nil, err
	}

	return &page, nil
}

// GetCurrentAccount returns the authenticated user's account details.
func (c *Client) GetCurrentAccount(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.call(ctx, "/users/get_current_account", nil, &acct); err != nil {
		return nil, err
	}

	return &acct, nil
}

// GetSpaceUsage returns storage consumption for the authenticated user.
func (c *Client) GetSpaceUsage(ctx context.Context) (*SpaceUsage, error) {
	var usage SpaceUsage
	if err := c.call(ctx, "/users/get_space_usage", nil, &usage); err != nil {
		return nil, err
	}

	return &usage, nil
}

type searchArg struct {
	Query   string        `json:"query"`
	Options searchOptions `json:"options"`
}

type searchOptions struct {
	Path       string `json:"path,omitempty"`
	MaxResults uint32 `json:"max_results,omitempty"`
}

type searchResult struct {
	Matches []struct {
		Metadata struct {
			Metadata Metadata `json:"metadata"`
		} `json:"metadata"`
	} `json:"matches"`
}

// Search finds entries matching query under remotePath ("" for the whole
// Dropbox). Results are capped at maxResults, or the server default when 0.
func (c *Client) Search(ctx context.Context, remotePath, query string, maxResults uint32) ([]Metadata, error) {
	arg := searchArg{
		Query: query,
		Options: searchOptions{
			Path:       apiPath(remotePath),
			MaxResults: maxResults,
		},
	}

	var res searchResult
	if err := c.call(ctx, "/files/search_v2", arg, &res); err != nil {
		return nil, err
	}

	entries := make([]Metadata, 0, len(res.Matches))
	for _, m := range res.Matches {
		entries = append(entries, m.Metadata.Metadata)
	}

	return entries, nil
}
