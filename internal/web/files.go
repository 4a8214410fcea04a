package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/graphfiles/internal/graph"
	"github.com/tonimelisma/graphfiles/internal/tokencache"
)

// maxFieldBytes caps non-file multipart fields.
const maxFieldBytes = 1024

// Skip reasons reported for upload parts that were not sent to the drive.
const (
	skipEmpty       = "empty"
	skipInvalidName = "invalid name"
)

type itemView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ParentID   string    `json:"parent_id,omitempty"`
	Size       int64     `json:"size"`
	ETag       string    `json:"etag"`
	IsFolder   bool      `json:"is_folder"`
	MimeType   string    `json:"mime_type,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
	ChildCount *int      `json:"child_count,omitempty"`
}

func newItemView(it *graph.Item) itemView {
	v := itemView{
		ID:         it.ID,
		Name:       it.Name,
		ParentID:   it.ParentID,
		Size:       it.Size,
		ETag:       it.ETag,
		IsFolder:   it.IsFolder,
		MimeType:   it.MimeType,
		ModifiedAt: it.ModifiedAt,
	}

	if it.ChildCount != graph.ChildCountUnknown {
		n := it.ChildCount
		v.ChildCount = &n
	}

	return v
}

type listResponse struct {
	ParentID string     `json:"parent_id"`
	PageSize int        `json:"page_size"`
	Items    []itemView `json:"items"`
}

type skippedPart struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type uploadResponse struct {
	Uploaded []itemView    `json:"uploaded"`
	Skipped  []skippedPart `json:"skipped"`
}

// ChangeEvent is pushed to a user's event subscribers after a mutation.
type ChangeEvent struct {
	Type     string `json:"type"`
	ParentID string `json:"parent_id"`
}

const eventChanged = "changed"

// signedIn returns the session identity, or sends the client to sign in
// and returns false.
func (s *Server) signedIn(w http.ResponseWriter, r *http.Request, returnURL string) (tokencache.UserIdentity, bool) {
	user := s.currentUser(r)
	if user.IsZero() {
		requireSignIn(w, r, returnURL)
		return "", false
	}

	return user, true
}

func parentParam(raw string) string {
	if raw == "" {
		return graph.RootID
	}

	return raw
}

// filesURL is the listing a mutation redirects back to.
func filesURL(parentID string) string {
	if parentID == graph.RootID {
		return "/files"
	}

	return "/files?parentId=" + url.QueryEscape(parentID)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	returnURL := r.URL.RequestURI()

	user, ok := s.signedIn(w, r, returnURL)
	if !ok {
		return
	}

	q := r.URL.Query()
	parentID := parentParam(q.Get("parentId"))

	pageSize := s.pageSize()

	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, codeInvalid, fmt.Sprintf("pageSize must be a positive integer, got %q", raw))
			return
		}

		pageSize = n
	}

	items, err := s.stores(user, returnURL).ListChildren(r.Context(), parentID, graph.PageRequest{PageSize: pageSize})
	if err != nil {
		s.writeStoreError(w, r, user, returnURL, err)
		return
	}

	resp := listResponse{ParentID: parentID, PageSize: pageSize, Items: make([]itemView, 0, len(items))}
	for i := range items {
		resp.Items = append(resp.Items, newItemView(&items[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	returnURL := filesURL(parentParam(r.URL.Query().Get("parentId")))

	user, ok := s.signedIn(w, r, returnURL)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalid, "malformed form body")
		return
	}

	itemID := r.PostForm.Get("itemId")
	etag := r.PostForm.Get("etag")
	parentID := parentParam(r.Form.Get("parentId"))
	returnURL = filesURL(parentID)

	if itemID == "" || etag == "" {
		writeError(w, http.StatusBadRequest, codeInvalid, "itemId and etag are required")
		return
	}

	if err := s.stores(user, returnURL).DeleteItem(r.Context(), itemID, etag); err != nil {
		s.writeStoreError(w, r, user, returnURL, err)
		return
	}

	s.logger.Info("item deleted",
		slog.String("user_id", user.String()),
		slog.String("item_id", itemID),
	)

	s.events.Publish(user, ChangeEvent{Type: eventChanged, ParentID: parentID})

	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Redirect(w, r, returnURL, http.StatusSeeOther)
}

// handleUpload streams every file part of a multipart body to the drive
// without buffering whole files. Empty parts and unusable names are skipped
// and reported. The first drive error stops the upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	parentID := parentParam(r.URL.Query().Get("parentId"))
	returnURL := filesURL(parentID)

	user, ok := s.signedIn(w, r, returnURL)
	if !ok {
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalid, "expected a multipart/form-data body")
		return
	}

	store := s.stores(user, returnURL)
	resp := uploadResponse{Uploaded: []itemView{}, Skipped: []skippedPart{}}
	parts := 0

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			s.finishUpload(user, parentID, len(resp.Uploaded))
			writeError(w, http.StatusBadRequest, codeInvalid, "malformed multipart body")

			return
		}

		if part.FileName() == "" {
			// Plain form fields may only redirect the upload target.
			if part.FormName() == "parentId" {
				value, _ := io.ReadAll(io.LimitReader(part, maxFieldBytes))
				parentID = parentParam(strings.TrimSpace(string(value)))
				returnURL = filesURL(parentID)
				store = s.stores(user, returnURL)
			}

			_ = part.Close()

			continue
		}

		parts++

		item, skip, err := s.uploadPart(r.Context(), store, parentID, part)
		_ = part.Close()

		if err != nil {
			s.finishUpload(user, parentID, len(resp.Uploaded))
			s.writeStoreError(w, r, user, returnURL, err)

			return
		}

		if skip != nil {
			resp.Skipped = append(resp.Skipped, *skip)
			continue
		}

		resp.Uploaded = append(resp.Uploaded, newItemView(item))
	}

	if parts == 0 {
		writeError(w, http.StatusBadRequest, codeInvalid, "no files in upload")
		return
	}

	s.finishUpload(user, parentID, len(resp.Uploaded))

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	http.Redirect(w, r, returnURL, http.StatusSeeOther)
}

// uploadPart sends one file part to the drive, or reports why it was
// skipped.
func (s *Server) uploadPart(
	ctx context.Context, store Store, parentID string, part *multipart.Part,
) (*graph.Item, *skippedPart, error) {
	raw := part.FileName()

	name, ok := uploadName(raw)
	if !ok {
		return nil, &skippedPart{Name: raw, Reason: skipInvalidName}, nil
	}

	body := bufio.NewReader(part)
	if _, err := body.Peek(1); errors.Is(err, io.EOF) {
		return nil, &skippedPart{Name: name, Reason: skipEmpty}, nil
	}

	item, err := store.UploadItem(ctx, parentID, name, body)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("item uploaded",
		slog.String("item_id", item.ID),
		slog.String("parent_id", parentID),
	)

	return item, nil, nil
}

func (s *Server) finishUpload(user tokencache.UserIdentity, parentID string, uploaded int) {
	if uploaded > 0 {
		s.events.Publish(user, ChangeEvent{Type: eventChanged, ParentID: parentID})
	}
}

// uploadName reduces a client-supplied file name to a bare NFC base name.
// Browsers on some platforms send full paths with either separator.
func uploadName(raw string) (string, bool) {
	name := strings.ReplaceAll(raw, `\`, "/")
	name = strings.TrimRight(name, "/")

	if name == "" {
		return "", false
	}

	name = norm.NFC.String(path.Base(name))

	if name == "" || name == "." || name == ".." || name == "/" {
		return "", false
	}

	return name, true
}
