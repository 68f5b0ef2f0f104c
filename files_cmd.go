package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akorhonen/dropbox-go/internal/dropbox"
	"github.com/akorhonen/dropbox-go/internal/transfer"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}

	cmd.Flags().BoolP("recursive", "r", false, "list the whole subtree")
	cmd.Flags().BoolP("long", "l", false, "show size and modification time")
	cmd.Flags().String("type", "all", "entry type: all, file, folder, image, video, audio, document")
	cmd.Flags().String("min-size", "", "only files of at least this size (e.g. 10M)")
	cmd.Flags().String("max-size", "", "only files of at most this size (e.g. 1G)")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file or folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file or directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPut,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder on Dropbox. Folder deletion is recursive, so
deleting a non-empty folder requires --recursive (-r) to confirm intent.
Empty folders are deleted without the flag.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from-path> <to-path>",
		Short: "Move or rename a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

func newCpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <from-path> <to-path>",
		Short: "Copy a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runCp,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

// normalizeRemotePath coerces user input into the leading-slash form the
// API expects. "" and "/" both mean the root.
func normalizeRemotePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return strings.TrimSuffix(p, "/")
}

// lsFilter builds the listing filter from the ls command's flags.
func lsFilter(cmd *cobra.Command) (dropbox.Filter, error) {
	var filter dropbox.Filter

	kindName, err := cmd.Flags().GetString("type")
	if err != nil {
		return filter, err
	}

	filter.Kind, err = dropbox.ParseEntryKind(kindName)
	if err != nil {
		return filter, err
	}

	filter.Recursive, err = cmd.Flags().GetBool("recursive")
	if err != nil {
		return filter, err
	}

	if raw, _ := cmd.Flags().GetString("min-size"); raw != "" {
		if filter.MinSize, err = parseSize(raw); err != nil {
			return filter, fmt.Errorf("--min-size: %w", err)
		}
	}

	if raw, _ := cmd.Flags().GetString("max-size"); raw != "" {
		if filter.MaxSize, err = parseSize(raw); err != nil {
			return filter, fmt.Errorf("--max-size: %w", err)
		}
	}

	return filter, nil
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = normalizeRemotePath(args[0])
	}

	ctx := cmd.Context()
	logger := buildLogger()

	filter, err := lsFilter(cmd)
	if err != nil {
		return err
	}

	client, err := newAPIClient(ctx, logger)
	if err != nil {
		return err
	}

	logger.Debug("ls", "path", remotePath, "recursive", filter.Recursive)

	entries, err := client.ListAll(ctx, remotePath, filter)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	// Sort: folders first, then alphabetical by display path.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsFolder() != entries[j].IsFolder() {
			return entries[i].IsFolder()
		}

		return entries[i].PathLower < entries[j].PathLower
	})

	if flagJSON {
		return printEntriesJSON(entries)
	}

	long, err := cmd.Flags().GetBool("long")
	if err != nil {
		return err
	}

	printEntries(entries, filter.Recursive, long)

	return nil
}

// lsJSONItem is the JSON output schema for a single entry in ls output.
type lsJSONItem struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Rev        string `json:"rev,omitempty"`
}

func printEntriesJSON(entries []dropbox.Metadata) error {
	out := make([]lsJSONItem, 0, len(entries))

	for i := range entries {
		item := lsJSONItem{
			Path:     entries[i].PathDisplay,
			Name:     entries[i].Name,
			Size:     entries[i].Size,
			IsFolder: entries[i].IsFolder(),
			Rev:      entries[i].Rev,
		}

		if !entries[i].ServerModified.IsZero() {
			item.ModifiedAt = entries[i].ServerModified.Format("2006-01-02T15:04:05Z")
		}

		out = append(out, item)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printEntries(entries []dropbox.Metadata, recursive, long bool) {
	rows := make([][]string, 0, len(entries))

	for i := range entries {
		// Recursive listings show the full path; flat listings just the name.
		name := entries[i].Name
		if recursive {
			name = entries[i].PathDisplay
		}

		if entries[i].IsFolder() {
			name += "/"
		}

		if !long {
			fmt.Println(name)
			continue
		}

		size, modified := "-", "-"
		if entries[i].IsFile() {
			size = formatSize(entries[i].Size)
			modified = formatTime(entries[i].ServerModified)
		}

		rows = append(rows, []string{name, size, modified})
	}

	if long {
		printTable(os.Stdout, []string{"NAME", "SIZE", "MODIFIED"}, rows)
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := normalizeRemotePath(args[0])
	ctx := cmd.Context()
	logger := buildLogger()

	client, err := newAPIClient(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := client.GetMetadata(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	localPath := path.Base(remotePath)
	if len(args) > 1 {
		localPath = args[1]
	}

	engine, err := newEngine(ctx, newProgressPrinter(os.Stderr), logger)
	if err != nil {
		return err
	}

	if meta.IsFolder() {
		summary, dirErr := engine.DownloadDir(ctx, remotePath, localPath)
		reportSummary(summary)

		return dirErr
	}

	d, err := engine.Download(ctx, remotePath, localPath)
	if err != nil {
		if errors.Is(err, transfer.ErrCancelled) {
			statusf("Download interrupted. Re-run the same command to resume.\n")
		}

		return err
	}

	statusf("Downloaded %s (%s)\n", localPath, formatSize(d.BytesTransferred()))

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	ctx := cmd.Context()
	logger := buildLogger()

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stating local path: %w", err)
	}

	// Default remote path is root + local base name.
	remotePath := "/" + filepath.Base(localPath)
	if len(args) > 1 {
		remotePath = normalizeRemotePath(args[1])
	}

	engine, err := newEngine(ctx, newProgressPrinter(os.Stderr), logger)
	if err != nil {
		return err
	}

	if fi.IsDir() {
		summary, dirErr := engine.UploadDir(ctx, localPath, remotePath)
		reportSummary(summary)

		return dirErr
	}

	d, err := engine.Upload(ctx, localPath, remotePath)
	if err != nil {
		if errors.Is(err, transfer.ErrCancelled) {
			statusf("Upload interrupted. Re-run the same command to resume.\n")
		}

		return err
	}

	statusf("Uploaded %s (%s)\n", remotePath, formatSize(d.BytesTransferred()))

	return nil
}

// reportSummary prints directory transfer counts. Per-file errors are in
// the summary's aggregate error, which the caller returns.
func reportSummary(summary *transfer.Summary) {
	if summary == nil {
		return
	}

	succeeded, failed := summary.Counts()
	if failed == 0 {
		statusf("Transferred %d files.\n", succeeded)
	} else {
		statusf("Transferred %d files, %d failed.\n", succeeded, failed)
	}
}

func runRm(cmd *cobra.Command, args []string) error {
	remotePath := normalizeRemotePath(args[0])
	ctx := cmd.Context()
	logger := buildLogger()

	client, err := newAPIClient(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := client.GetMetadata(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	if meta.IsFolder() && !recursive {
		empty, emptyErr := client.IsEmptyFolder(ctx, remotePath)
		if emptyErr != nil {
			return fmt.Errorf("inspecting folder %q: %w", remotePath, emptyErr)
		}

		if !empty {
			return fmt.Errorf("cannot delete non-empty folder %q without --recursive (-r)", remotePath)
		}
	}

	if _, err := client.Delete(ctx, remotePath); err != nil {
		return fmt.Errorf("deleting %q: %w", remotePath, err)
	}

	logger.Debug("delete complete", "path", remotePath)
	statusf("Deleted %s\n", remotePath)

	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	fromPath := normalizeRemotePath(args[0])
	toPath := normalizeRemotePath(args[1])
	ctx := cmd.Context()
	logger := buildLogger()

	client, err := newAPIClient(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := client.Move(ctx, fromPath, toPath)
	if err != nil {
		return fmt.Errorf("moving %q to %q: %w", fromPath, toPath, err)
	}

	logger.Debug("move complete", "from", fromPath, "to", meta.PathDisplay)
	statusf("Moved %s to %s\n", fromPath, meta.PathDisplay)

	return nil
}

func runCp(cmd *cobra.Command, args []string) error {
	fromPath := normalizeRemotePath(args[0])
	toPath := normalizeRemotePath(args[1])
	ctx := cmd.Context()
	logger := buildLogger()

	client, err := newAPIClient(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := client.Copy(ctx, fromPath, toPath)
	if err != nil {
		return fmt.Errorf("copying %q to %q: %w", fromPath, toPath, err)
	}

	logger.Debug("copy complete", "from", fromPath, "to", meta.PathDisplay)
	statusf("Copied %s to %s\n", fromPath, meta.PathDisplay)

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	remotePath := normalizeRemotePath(args[0])
	if remotePath == "/" {
		return fmt.Errorf("cannot create root folder")
	}

	ctx := cmd.Context()
	logger := buildLogger()

	client, err := newAPIClient(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := client.CreateFolder(ctx, remotePath)
	if err != nil {
		if errors.Is(err, dropbox.ErrConflict) {
			return fmt.Errorf("%q already exists", remotePath)
		}

		return fmt.Errorf("creating folder %q: %w", remotePath, err)
	}

	logger.Debug("mkdir complete", "path", meta.PathDisplay)
	statusf("Created %s\n", meta.PathDisplay)

	return nil
}

// statJSONOutput is the JSON output schema for the stat command.
type statJSONOutput struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	IsFolder    bool   `json:"is_folder"`
	Size        int64  `json:"size,omitempty"`
	ModifiedAt  string `json:"modified_at,omitempty"`
	Rev         string `json:"rev,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	TotalBytes  int64  `json:"total_bytes,omitempty"`
	FileCount   int    `json:"file_count,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	remotePath := normalizeRemotePath(args[0])
	ctx := cmd.Context()
	logger := buildLogger()

	client, err := newAPIClient(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := client.GetMetadata(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	// Folders report no size of their own; sum their contents.
	var totalBytes int64

	var fileCount int

	if meta.IsFolder() {
		totalBytes, fileCount, err = client.FolderSize(ctx, remotePath)
		if err != nil {
			return fmt.Errorf("sizing folder %q: %w", remotePath, err)
		}
	}

	if flagJSON {
		return printStatJSON(meta, totalBytes, fileCount)
	}

	printStatText(meta, totalBytes, fileCount)

	return nil
}

func printStatJSON(meta *dropbox.Metadata, totalBytes int64, fileCount int) error {
	out := statJSONOutput{
		Path:        meta.PathDisplay,
		Name:        meta.Name,
		ID:          meta.ID,
		IsFolder:    meta.IsFolder(),
		Rev:         meta.Rev,
		ContentHash: meta.ContentHash,
	}

	if meta.IsFile() {
		out.Size = meta.Size
		out.ModifiedAt = meta.ServerModified.Format("2006-01-02T15:04:05Z")
	} else {
		out.TotalBytes = totalBytes
		out.FileCount = fileCount
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printStatText(meta *dropbox.Metadata, totalBytes int64, fileCount int) {
	itemType := "file"
	if meta.IsFolder() {
		itemType = "folder"
	}

	fmt.Printf("Name:     %s\n", meta.Name)
	fmt.Printf("Path:     %s\n", meta.PathDisplay)
	fmt.Printf("Type:     %s\n", itemType)

	if meta.IsFile() {
		fmt.Printf("Size:     %s (%s bytes)\n", formatSize(meta.Size), formatBytesExact(meta.Size))
		fmt.Printf("Modified: %s\n", meta.ServerModified.Format("2006-01-02 15:04:05 UTC"))
		fmt.Printf("Rev:      %s\n", meta.Rev)

		if meta.ContentHash != "" {
			fmt.Printf("Hash:     %s\n", meta.ContentHash)
		}
	} else {
		fmt.Printf("Size:     %s (%s bytes, %d files)\n",
			formatSize(totalBytes), formatBytesExact(totalBytes), fileCount)
	}

	fmt.Printf("ID:       %s\n", meta.ID)
}
