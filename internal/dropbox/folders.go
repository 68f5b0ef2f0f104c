package dropbox

import (
	"context"
	"log/slog"
)

// ListAll walks the cursor chain for remotePath and returns every entry
// passing the filter. The filter's Recursive field controls whether the
// server descends into subfolders.
func (c *Client) ListAll(ctx context.Context, remotePath string, filter Filter) ([]Metadata, error) {
	page, err := c.ListFolder(ctx, remotePath, filter.Recursive)
	if err != nil {
		return nil, err
	}

	var entries []Metadata

	for {
		for _, entry := range page.Entries {
			if filter.Match(&entry) {
				entries = append(entries, entry)
			}
		}

		if !page.HasMore {
			break
		}

		page, err = c.ListFolderContinue(ctx, page.Cursor)
		if err != nil {
			return nil, err
		}
	}

	c.logger.Debug("listed folder",
		slog.String("path", remotePath),
		slog.Int("entries", len(entries)),
	)

	return entries, nil
}

// FolderSize returns the total byte size and file count of everything under
// remotePath, recursively.
func (c *Client) FolderSize(ctx context.Context, remotePath string) (totalBytes int64, fileCount int, err error) {
	entries, err := c.ListAll(ctx, remotePath, Filter{Kind: KindFile, Recursive: true})
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range entries {
		totalBytes += entry.Size
		fileCount++
	}

	return totalBytes, fileCount, nil
}

// IsEmptyFolder reports whether remotePath contains no entries.
func (c *Client) IsEmptyFolder(ctx context.Context, remotePath string) (bool, error) {
	page, err := c.ListFolder(ctx, remotePath, false)
	if err != nil {
		return false, err
	}

	return len(page.Entries) == 0 && !page.HasMore, nil
}
