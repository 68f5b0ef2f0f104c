package dropbox

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Metadata describes one file or folder as reported by the API.
type Metadata struct {
	Tag            string    `json:".tag"` //nolint:tagliatelle // Dropbox union tag key
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ID             string    `json:"id"`
	ClientModified time.Time `json:"client_modified"`
	ServerModified time.Time `json:"server_modified"`
	Rev            string    `json:"rev"`
	Size           int64     `json:"size"`
	ContentHash    string    `json:"content_hash"`
}

// IsFolder reports whether the entry is a folder.
func (m *Metadata) IsFolder() bool { return m.Tag == "folder" }

// IsFile reports whether the entry is a regular file.
func (m *Metadata) IsFile() bool { return m.Tag == "file" }

// Account identifies the authenticated Dropbox user.
type Account struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Name      struct {
		DisplayName string `json:"display_name"`
	} `json:"name"`
}

// SpaceUsage reports storage consumption for the authenticated user.
type SpaceUsage struct {
	Used       int64 `json:"used"`
	Allocation struct {
		Allocated int64 `json:"allocated"`
	} `json:"allocation"`
}

// ListFolderPage is one page of folder entries plus the cursor for the next.
type ListFolderPage struct {
	Entries []Metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

// EntryKind selects a category of entries for filtered listings.
type EntryKind string

const (
	KindAll      EntryKind = "all"
	KindFile     EntryKind = "file"
	KindFolder   EntryKind = "folder"
	KindImage    EntryKind = "image"
	KindVideo    EntryKind = "video"
	KindAudio    EntryKind = "audio"
	KindDocument EntryKind = "document"
)

// Extension sets per media kind, lowercase with leading dot.
var kindExtensions = map[EntryKind]map[string]bool{
	KindImage: {
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".bmp": true, ".webp": true, ".heic": true, ".tiff": true, ".svg": true,
	},
	KindVideo: {
		".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
		".webm": true, ".wmv": true, ".m4v": true,
	},
	KindAudio: {
		".mp3": true, ".wav": true, ".flac": true, ".aac": true,
		".ogg": true, ".m4a": true,
	},
	KindDocument: {
		".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
		".ppt": true, ".pptx": true, ".txt": true, ".md": true, ".csv": true,
	},
}

// ParseEntryKind validates a user-supplied kind name.
func ParseEntryKind(s string) (EntryKind, error) {
	switch k := EntryKind(strings.ToLower(s)); k {
	case KindAll, KindFile, KindFolder, KindImage, KindVideo, KindAudio, KindDocument:
		return k, nil
	default:
		return "", fmt.Errorf("dropbox: unknown entry kind %q", s)
	}
}

// Filter selects a subset of folder entries. The zero value matches
// everything.
type Filter struct {
	Kind      EntryKind
	MinSize   int64 // bytes, 0 means no lower bound
	MaxSize   int64 // bytes, 0 means no upper bound
	Recursive bool
}

// Match reports whether the entry passes the filter. Size bounds never
// apply to folders, whose reported size is meaningless.
func (f Filter) Match(m *Metadata) bool {
	if !f.matchKind(m) {
		return false
	}

	if m.IsFolder() {
		return true
	}

	if f.MinSize > 0 && m.Size < f.MinSize {
		return false
	}

	if f.MaxSize > 0 && m.Size > f.MaxSize {
		return false
	}

	return true
}

func (f Filter) matchKind(m *Metadata) bool {
	switch f.Kind {
	case "", KindAll:
		return true
	case KindFile:
		return m.IsFile()
	case KindFolder:
		return m.IsFolder()
	default:
		if !m.IsFile() {
			return false
		}

		ext := strings.ToLower(path.Ext(m.Name))

		return kindExtensions[f.Kind][ext]
	}
}

// apiPath normalizes a remote path for the API: the root folder is the
// empty string, everything else carries a leading slash.
func apiPath(p string) string {
	if p == "" || p == "/" {
		return ""
	}

	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}

	return p
}
