// Package graphtest provides in-memory fakes of the two remote services the
// application talks to: a drive that speaks the subset of the Graph API used
// by graph.Client, and an OAuth2 identity provider. Both are plain
// http.Handlers so they serve tests (via httptest) and the offline dev mode.
package graphtest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tonimelisma/graphfiles/pkg/quickxorhash"
)

// RootID is the id of the drive root folder.
const RootID = "root"

// maxTop mirrors the Graph API cap on $top for children listings.
const maxTop = 200

// Entry is one stored drive item.
type Entry struct {
	ID       string
	Name     string
	ParentID string
	ETag     string
	CTag     string
	IsFolder bool
	Content  []byte
	Created  time.Time
	Modified time.Time
	version  int
}

// Drive is an in-memory drive. The zero value is not usable; call NewDrive.
type Drive struct {
	mu      sync.Mutex
	entries map[string]*Entry
	router  *mux.Router
	logger  *slog.Logger
	nowFunc func() time.Time

	// Authorize decides whether a bearer token may access the drive.
	// nil accepts any non-empty token.
	Authorize func(token string) bool

	failNext []int
}

// NewDrive returns an empty drive containing only the root folder.
func NewDrive(logger *slog.Logger) *Drive {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Drive{
		entries: make(map[string]*Entry),
		logger:  logger,
		nowFunc: time.Now,
	}

	now := d.nowFunc().UTC()
	d.entries[RootID] = &Entry{ID: RootID, Name: "root", IsFolder: true, Created: now, Modified: now}

	r := mux.NewRouter()
	r.HandleFunc("/me/drive/root/children", d.handleList).Methods(http.MethodGet)
	r.HandleFunc("/me/drive/items/{id}/children", d.handleList).Methods(http.MethodGet)
	r.HandleFunc("/me/drive/items/{id}", d.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/me/drive/root:/{name}:/content", d.handleUpload).Methods(http.MethodPut)
	r.HandleFunc("/me/drive/items/{id}:/{name}:/content", d.handleUpload).Methods(http.MethodPut)
	d.router = r

	return d
}

// ServeHTTP authenticates the request and dispatches it.
func (d *Drive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if status, ok := d.popFailure(); ok {
		writeError(w, status, "injectedFailure", "injected failure")
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || (d.Authorize != nil && !d.Authorize(token)) {
		writeError(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "access token is empty or invalid")
		return
	}

	// Trim the Graph version prefix so the fake can sit behind a base URL
	// ending in /v1.0.
	r.URL.Path = strings.TrimPrefix(r.URL.Path, "/v1.0")

	d.router.ServeHTTP(w, r)
}

// FailNext makes the next len(statuses) requests fail with the given codes.
func (d *Drive) FailNext(statuses ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failNext = append(d.failNext, statuses...)
}

func (d *Drive) popFailure() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.failNext) == 0 {
		return 0, false
	}

	status := d.failNext[0]
	d.failNext = d.failNext[1:]

	return status, true
}

// Put stores a file directly, bypassing HTTP, and returns a copy of it.
func (d *Drive) Put(parentID, name string, content []byte) Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	return *d.putLocked(parentID, name, content)
}

// Mkdir creates a folder directly and returns a copy of it.
func (d *Drive) Mkdir(parentID, name string) Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.newEntryLocked(parentID, name)
	e.IsFolder = true

	return *e
}

// SetETag overwrites an item's etag, simulating a change made elsewhere.
func (d *Drive) SetETag(id, etag string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[id]; ok {
		e.ETag = etag
	}
}

// Get returns a copy of the item with the given id.
func (d *Drive) Get(id string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		return Entry{}, false
	}

	return *e, true
}

// Children returns copies of parentID's children sorted by name.
func (d *Drive) Children(parentID string) []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.childrenLocked(parentID)
}

func (d *Drive) childrenLocked(parentID string) []Entry {
	var out []Entry

	for _, e := range d.entries {
		if e.ParentID == parentID && e.ID != RootID {
			out = append(out, *e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

func (d *Drive) newEntryLocked(parentID, name string) *Entry {
	now := d.nowFunc().UTC()
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))

	e := &Entry{ID: id, Name: name, ParentID: parentID, Created: now}
	d.bumpLocked(e, now)
	d.entries[id] = e

	return e
}

// bumpLocked assigns a fresh version to e, in the Graph etag/ctag format.
func (d *Drive) bumpLocked(e *Entry, now time.Time) {
	e.version++
	e.ETag = fmt.Sprintf(`"{%s},%d"`, e.ID, e.version)
	e.CTag = fmt.Sprintf(`"c:{%s},%d"`, e.ID, e.version)
	e.Modified = now
}

// putLocked creates or replaces parentID/name. Same-name uploads replace the
// content and keep the id, like the Graph "replace" conflict behavior.
func (d *Drive) putLocked(parentID, name string, content []byte) *Entry {
	for _, e := range d.entries {
		if e.ParentID == parentID && strings.EqualFold(e.Name, name) && !e.IsFolder {
			e.Content = content
			d.bumpLocked(e, d.nowFunc().UTC())

			return e
		}
	}

	e := d.newEntryLocked(parentID, name)
	e.Content = content

	return e
}

func (d *Drive) handleList(w http.ResponseWriter, r *http.Request) {
	parentID := mux.Vars(r)["id"]
	if parentID == "" {
		parentID = RootID
	}

	top := maxTop

	if raw := r.URL.Query().Get("$top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTop {
			writeError(w, http.StatusBadRequest, "invalidRequest", "invalid $top")
			return
		}

		top = n
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	parent, ok := d.entries[parentID]
	if !ok || !parent.IsFolder {
		writeError(w, http.StatusNotFound, "itemNotFound", "parent not found")
		return
	}

	children := d.childrenLocked(parentID)
	resp := listResponse{Value: make([]itemJSON, 0, min(len(children), top))}

	for i := range children {
		if i == top {
			resp.NextLink = "https://graph.invalid/next"
			break
		}

		resp.Value = append(resp.Value, d.toJSONLocked(&children[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Drive) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ifMatch := r.Header.Get("If-Match")

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok || id == RootID {
		writeError(w, http.StatusNotFound, "itemNotFound", "item not found")
		return
	}

	if ifMatch != "" && ifMatch != "*" && ifMatch != e.ETag {
		d.logger.Debug("fake drive: etag mismatch",
			slog.String("item_id", id),
		)
		writeError(w, http.StatusPreconditionFailed, "resourceModified", "eTag does not match current item's value")

		return
	}

	d.deleteTreeLocked(id)
	w.WriteHeader(http.StatusNoContent)
}

func (d *Drive) deleteTreeLocked(id string) {
	for _, child := range d.childrenLocked(id) {
		d.deleteTreeLocked(child.ID)
	}

	delete(d.entries, id)
}

func (d *Drive) handleUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	parentID := vars["id"]
	if parentID == "" {
		parentID = RootID
	}

	name := vars["name"]

	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", "reading body")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	parent, ok := d.entries[parentID]
	if !ok || !parent.IsFolder {
		writeError(w, http.StatusNotFound, "itemNotFound", "parent not found")
		return
	}

	_, existed := d.findChildLocked(parentID, name)
	e := d.putLocked(parentID, name, content)

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}

	writeJSON(w, status, d.toJSONLocked(e))
}

// findChildLocked finds a file (not folder) child by case-insensitive name.
func (d *Drive) findChildLocked(parentID, name string) (*Entry, bool) {
	for _, e := range d.entries {
		if e.ParentID == parentID && strings.EqualFold(e.Name, name) && !e.IsFolder {
			return e, true
		}
	}

	return nil, false
}

type itemJSON struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Size                 int64       `json:"size"`
	ETag                 string      `json:"eTag"`
	CTag                 string      `json:"cTag"`
	CreatedDateTime      string      `json:"createdDateTime"`
	LastModifiedDateTime string      `json:"lastModifiedDateTime"`
	ParentReference      *parentJSON `json:"parentReference,omitempty"`
	File                 *fileJSON   `json:"file,omitempty"`
	Folder               *folderJSON `json:"folder,omitempty"`
}

type parentJSON struct {
	ID string `json:"id"`
}

type fileJSON struct {
	MimeType string     `json:"mimeType"`
	Hashes   hashesJSON `json:"hashes"`
}

type hashesJSON struct {
	QuickXorHash string `json:"quickXorHash"`
}

type folderJSON struct {
	ChildCount int `json:"childCount"`
}

type listResponse struct {
	Value    []itemJSON `json:"value"`
	NextLink string     `json:"@odata.nextLink,omitempty"` //nolint:tagliatelle // OData annotation key
}

// toJSONLocked renders e the way the Graph API does. Caller holds d.mu.
func (d *Drive) toJSONLocked(e *Entry) itemJSON {
	out := itemJSON{
		ID:                   e.ID,
		Name:                 e.Name,
		Size:                 int64(len(e.Content)),
		ETag:                 e.ETag,
		CTag:                 e.CTag,
		CreatedDateTime:      e.Created.Format(time.RFC3339),
		LastModifiedDateTime: e.Modified.Format(time.RFC3339),
		ParentReference:      &parentJSON{ID: e.ParentID},
	}

	if e.IsFolder {
		out.Folder = &folderJSON{ChildCount: len(d.childrenLocked(e.ID))}
	} else {
		h := quickxorhash.New()
		h.Write(e.Content)

		out.File = &fileJSON{
			MimeType: "application/octet-stream",
			Hashes:   hashesJSON{QuickXorHash: quickxorhash.Encode(h)},
		}
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("request-id", uuid.NewString())
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
