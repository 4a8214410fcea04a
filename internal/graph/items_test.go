package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListChildren_Root(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/me/drive/root/children", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("$top"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[
			{"id":"a","name":"notes.txt","size":12,"eTag":"etag-a",
			 "createdDateTime":"2024-01-15T10:30:00Z","lastModifiedDateTime":"2024-06-20T14:45:00Z",
			 "parentReference":{"id":"root-id"},"file":{"mimeType":"text/plain"}},
			{"id":"b","name":"Docs","eTag":"etag-b",
			 "createdDateTime":"2024-01-01T00:00:00Z","lastModifiedDateTime":"2024-01-01T00:00:00Z",
			 "folder":{"childCount":3}}
		]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	items, err := client.ListChildren(context.Background(), "", PageRequest{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "notes.txt", items[0].Name)
	assert.Equal(t, int64(12), items[0].Size)
	assert.Equal(t, "etag-a", items[0].ETag)
	assert.Equal(t, "root-id", items[0].ParentID)
	assert.Equal(t, "text/plain", items[0].MimeType)
	assert.False(t, items[0].IsFolder)
	assert.Equal(t, ChildCountUnknown, items[0].ChildCount)
	assert.Equal(t, 2024, items[0].ModifiedAt.Year())

	assert.True(t, items[1].IsFolder)
	assert.Equal(t, 3, items[1].ChildCount)
}

func TestListChildren_FolderPathAndPageSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/items/folder 1/children", r.URL.Path)
		assert.Equal(t, "/me/drive/items/folder%201/children", r.URL.EscapedPath())
		assert.Equal(t, "25", r.URL.Query().Get("$top"))
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	items, err := client.ListChildren(context.Background(), "folder 1", PageRequest{PageSize: 25})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListChildren_TruncatesOverlongPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Server ignores $top and returns five items plus a next link.
		fmt.Fprint(w, `{"value":[{"id":"1"},{"id":"2"},{"id":"3"},{"id":"4"},{"id":"5"}],
			"@odata.nextLink":"https://example.invalid/next"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	for n := 1; n <= 6; n++ {
		items, err := client.ListChildren(context.Background(), RootID, PageRequest{PageSize: n})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(items), n)
	}

	items, err := client.ListChildren(context.Background(), RootID, PageRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].ID)
	assert.Equal(t, "2", items[1].ID)
}

func TestListChildren_InvalidPageSize(t *testing.T) {
	client := NewClient("http://unused.invalid", nil, failingToken{}, nil)

	_, err := client.ListChildren(context.Background(), RootID, PageRequest{PageSize: -1})
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestListChildren_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"itemNotFound"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.ListChildren(context.Background(), "missing", PageRequest{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChildren_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.ListChildren(context.Background(), RootID, PageRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding children response")
}

func TestListChildren_InvalidTimestampFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"value":[{"id":"x","createdDateTime":"not-a-date","lastModifiedDateTime":"1601-01-01T00:00:00Z"}]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	items, err := client.ListChildren(context.Background(), RootID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.GreaterOrEqual(t, items[0].CreatedAt.Year(), 2024)
	assert.GreaterOrEqual(t, items[0].ModifiedAt.Year(), 2024)
}

func TestDeleteItem_SendsIfMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/me/drive/items/item-1", r.URL.Path)
		assert.Equal(t, `"{item-1},3"`, r.Header.Get("If-Match"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.DeleteItem(context.Background(), "item-1", `"{item-1},3"`))
}

func TestDeleteItem_StaleETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Match") != "xyz789" {
			w.WriteHeader(http.StatusPreconditionFailed)
			fmt.Fprint(w, `{"error":{"code":"resourceModified"}}`)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.DeleteItem(context.Background(), "item-1", "abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, http.StatusPreconditionFailed, graphErr.StatusCode)
}

func TestDeleteItem_Validation(t *testing.T) {
	client := NewClient("http://unused.invalid", nil, failingToken{}, nil)

	assert.ErrorIs(t, client.DeleteItem(context.Background(), "item-1", ""), ErrMissingETag)
	assert.ErrorIs(t, client.DeleteItem(context.Background(), "", "etag"), ErrMissingItemID)
	assert.ErrorIs(t, client.DeleteItem(context.Background(), RootID, "etag"), ErrMissingItemID)
}

func TestDeleteItem_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.DeleteItem(context.Background(), "item-1", "etag")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
