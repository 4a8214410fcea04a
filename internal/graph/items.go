package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Timestamp validation bounds. Timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// driveItemResponse mirrors the Graph API driveItem JSON.
// Unexported; callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	ETag                 string       `json:"eTag"`
	CTag                 string       `json:"cTag"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	ParentReference      *parentRef   `json:"parentReference"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
}

type parentRef struct {
	ID string `json:"id"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

// listChildrenResponse is one page of children. NextLink is decoded only to
// report that more items exist; it is never followed.
type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

// toItem normalizes a Graph API driveItem response into our Item type.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:         d.ID,
		Name:       d.Name,
		Size:       d.Size,
		ETag:       d.ETag,
		CTag:       d.CTag,
		IsFolder:   d.Folder != nil,
		ChildCount: ChildCountUnknown,
	}

	if d.ParentReference != nil {
		item.ParentID = d.ParentReference.ID
	}

	if d.Folder != nil {
		item.ChildCount = d.Folder.ChildCount
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
		}
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger)
	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger)

	return item
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw, field, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Debug("empty timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// itemPath returns the API path of an item, mapping "" and RootID to the
// drive root.
func itemPath(itemID string) string {
	if itemID == "" || itemID == RootID {
		return "/me/drive/root"
	}

	return "/me/drive/items/" + url.PathEscape(itemID)
}

// ListChildren returns at most one page of children of parentID ("" or
// RootID for the drive root). The result never exceeds the page size, even
// if the server returns more. Further pages are not fetched.
func (c *Client) ListChildren(ctx context.Context, parentID string, page PageRequest) ([]Item, error) {
	top, err := page.size()
	if err != nil {
		return nil, err
	}

	c.logger.Info("listing children",
		slog.String("parent_id", parentID),
		slog.Int("page_size", top),
	)

	path := fmt.Sprintf("%s/children?$top=%d", itemPath(parentID), top)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lcr listChildrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lcr); err != nil {
		return nil, fmt.Errorf("graph: decoding children response: %w", err)
	}

	if len(lcr.Value) > top {
		lcr.Value = lcr.Value[:top]
	}

	items := make([]Item, 0, len(lcr.Value))
	for i := range lcr.Value {
		items = append(items, lcr.Value[i].toItem(c.logger))
	}

	c.logger.Debug("listed children",
		slog.Int("count", len(items)),
		slog.Bool("more_available", lcr.NextLink != ""),
	)

	return items, nil
}

// DeleteItem deletes an item only if its current etag still equals etag.
// A stale etag yields an error wrapping ErrConflict and the item is left
// untouched. Returns nil on success (HTTP 204).
func (c *Client) DeleteItem(ctx context.Context, itemID, etag string) error {
	if itemID == "" || itemID == RootID {
		return ErrMissingItemID
	}

	if etag == "" {
		return ErrMissingETag
	}

	c.logger.Info("deleting item",
		slog.String("item_id", itemID),
	)

	resp, err := c.Do(ctx, http.MethodDelete, itemPath(itemID), nil, withHeader("If-Match", etag))
	if err != nil {
		return err
	}

	return drain(resp)
}
