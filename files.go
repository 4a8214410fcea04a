package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/graphfiles/internal/config"
	"github.com/tonimelisma/graphfiles/internal/graph"
	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List a page of items in a folder",
		Long: `List one page of the items in a folder of your drive, root by default.
Pass the ETAG column to "rm".`,
		Args: cobra.NoArgs,
		RunE: runLs,
	}

	cmd.Flags().Int("page-size", 0, "number of items to list (default from config)")
	cmd.Flags().String("parent", "", "folder id to list (default root)")

	return cmd
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <item-id>",
		Short: "Delete an item if it has not changed",
		Long: `Delete an item from your drive. The delete only succeeds if the item's
current ETag matches --etag, so a file changed elsewhere is never removed.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().String("etag", "", "ETag the item must still have (required)")

	if err := cmd.MarkFlagRequired("etag"); err != nil {
		panic(err)
	}

	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-file>",
		Short: "Upload a local file",
		Long:  "Upload a local file into a folder of your drive, replacing any item with the same name.",
		Args:  cobra.ExactArgs(1),
		RunE:  runPut,
	}

	cmd.Flags().String("parent", "", "destination folder id (default root)")
	cmd.Flags().String("name", "", "name to upload as (default the local file name)")

	return cmd
}

// driveCommand opens the durable cache, resolves the acting user and runs fn
// with a drive client for that user.
func driveCommand(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, c *graph.Client) error) error {
	cc := mustCLIContext(cmd.Context())

	if err := config.RequireIdentity(cc.Cfg); err != nil {
		return err
	}

	user, err := resolveUser(cc.Flags)
	if err != nil {
		return err
	}

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	sess, err := openCLISession(ctx, cc)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := sess.Close(); cerr != nil {
			cc.Logger.Warn("closing token cache", slog.String("error", cerr.Error()))
		}
	}()

	return friendlyError(fn(ctx, cc, sess.client(user)))
}

// itemJSON is the --json shape of one listed item.
type itemJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ParentID     string    `json:"parent_id"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	IsFolder     bool      `json:"is_folder"`
	MimeType     string    `json:"mime_type,omitempty"`
	QuickXorHash string    `json:"quick_xor_hash,omitempty"`
	ModifiedAt   time.Time `json:"modified_at"`
	ChildCount   *int      `json:"child_count,omitempty"`
}

func toItemJSON(item *graph.Item) itemJSON {
	out := itemJSON{
		ID:           item.ID,
		Name:         item.Name,
		ParentID:     item.ParentID,
		Size:         item.Size,
		ETag:         item.ETag,
		IsFolder:     item.IsFolder,
		MimeType:     item.MimeType,
		QuickXorHash: item.QuickXorHash,
		ModifiedAt:   item.ModifiedAt,
	}

	if item.ChildCount != graph.ChildCountUnknown {
		n := item.ChildCount
		out.ChildCount = &n
	}

	return out
}

func runLs(cmd *cobra.Command, _ []string) error {
	pageSize, err := cmd.Flags().GetInt("page-size")
	if err != nil {
		return err
	}

	parent, err := cmd.Flags().GetString("parent")
	if err != nil {
		return err
	}

	if parent == "" {
		parent = graph.RootID
	}

	return driveCommand(cmd, func(ctx context.Context, cc *CLIContext, c *graph.Client) error {
		if pageSize == 0 {
			pageSize = cc.Cfg.Graph.DefaultPageSize
		}

		items, err := c.ListChildren(ctx, parent, graph.PageRequest{PageSize: pageSize})
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printItemsJSON(cmd.OutOrStdout(), items)
		}

		printItemsTable(cmd.OutOrStdout(), items)

		return nil
	})
}

func printItemsJSON(w io.Writer, items []graph.Item) error {
	out := make([]itemJSON, 0, len(items))
	for i := range items {
		out = append(out, toItemJSON(&items[i]))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printItemsTable(w io.Writer, items []graph.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items.")
		return
	}

	headers := []string{"NAME", "SIZE", "MODIFIED", "ID", "ETAG"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		item := &items[i]

		name := item.Name
		size := formatSize(item.Size)

		if item.IsFolder {
			name += "/"
			size = "-"

			if item.ChildCount != graph.ChildCountUnknown {
				size = strconv.Itoa(item.ChildCount) + " items"
			}
		}

		rows = append(rows, []string{name, size, formatTime(item.ModifiedAt), item.ID, item.ETag})
	}

	printTable(w, headers, rows)
}

func runRm(cmd *cobra.Command, args []string) error {
	etag, err := cmd.Flags().GetString("etag")
	if err != nil {
		return err
	}

	itemID := args[0]

	return driveCommand(cmd, func(ctx context.Context, cc *CLIContext, c *graph.Client) error {
		if err := c.DeleteItem(ctx, itemID, etag); err != nil {
			if errors.Is(err, graph.ErrConflict) {
				return fmt.Errorf("%s changed since it was listed, list it again for the current etag: %w", itemID, err)
			}

			return err
		}

		cc.Statusf("Deleted %s\n", itemID)

		return nil
	})
}

func runPut(cmd *cobra.Command, args []string) error {
	parent, err := cmd.Flags().GetString("parent")
	if err != nil {
		return err
	}

	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return err
	}

	local := args[0]
	if name == "" {
		name = filepath.Base(local)
	}

	name = norm.NFC.String(name)

	if parent == "" {
		parent = graph.RootID
	}

	return driveCommand(cmd, func(ctx context.Context, cc *CLIContext, c *graph.Client) error {
		f, err := os.Open(local)
		if err != nil {
			return fmt.Errorf("opening %s: %w", local, err)
		}
		defer f.Close()

		item, err := c.UploadItem(ctx, parent, name, f)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printItemsJSON(cmd.OutOrStdout(), []graph.Item{*item})
		}

		cc.Statusf("Uploaded %s (%s) as %s\n", item.Name, formatSize(item.Size), item.ID)

		return nil
	})
}

// userLabel renders the acting identity for status output.
func userLabel(user tokencache.UserIdentity) string {
	if user.IsZero() {
		return "(unknown)"
	}

	return user.String()
}
