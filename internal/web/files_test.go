package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphfiles/internal/graph/graphtest"
)

func TestList_NotSignedIn_BrowserRedirects(t *testing.T) {
	e := newTestEnv(t)

	resp := e.get(t, e.browser(t), "/files?parentId=abc", false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/signin?returnUrl=%2Ffiles%3FparentId%3Dabc", resp.Header.Get("Location"))
}

func TestList_NotSignedIn_APIGets401(t *testing.T) {
	e := newTestEnv(t)

	resp := e.get(t, e.browser(t), "/files", true)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, codeReauth, body.Code)
	assert.Equal(t, "/auth/signin?returnUrl=%2Ffiles", body.LoginURL)
}

func TestList_PageSize(t *testing.T) {
	e := newTestEnv(t)
	for i := range 7 {
		e.drive.Put(graphtest.RootID, fmt.Sprintf("file-%d.txt", i), []byte("x"))
	}

	c := e.signIn(t)

	for _, n := range []int{1, 3, 7, 9} {
		resp := e.get(t, c, fmt.Sprintf("/files?pageSize=%d", n), true)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[listResponse](t, resp)
		assert.Equal(t, n, body.PageSize)
		assert.Len(t, body.Items, min(n, 7))
	}
}

func TestList_DefaultPageSizeFollowsConfig(t *testing.T) {
	e := newTestEnv(t)
	for i := range 5 {
		e.drive.Put(graphtest.RootID, fmt.Sprintf("file-%d.txt", i), []byte("x"))
	}

	c := e.signIn(t)

	e.pageSize.Store(2)

	body := decode[listResponse](t, e.get(t, c, "/files", true))
	assert.Equal(t, 2, body.PageSize)
	assert.Len(t, body.Items, 2)
	assert.Equal(t, graphtest.RootID, body.ParentID)
}

func TestList_InvalidPageSize(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	for _, raw := range []string{"0", "-3", "ten"} {
		resp := e.get(t, c, "/files?pageSize="+raw, true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, raw)
	}
}

func TestList_Folder(t *testing.T) {
	e := newTestEnv(t)
	folder := e.drive.Mkdir(graphtest.RootID, "docs")
	e.drive.Put(folder.ID, "inner.txt", []byte("inner"))
	e.drive.Put(graphtest.RootID, "outer.txt", []byte("outer"))

	c := e.signIn(t)

	body := decode[listResponse](t, e.get(t, c, "/files?parentId="+url.QueryEscape(folder.ID), true))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "inner.txt", body.Items[0].Name)
	assert.Equal(t, int64(5), body.Items[0].Size)
}

func TestList_UnknownFolder(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	resp := e.get(t, c, "/files?parentId=missing", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, codeNotFound, decode[errorResponse](t, resp).Code)
}

func TestList_TransientFailure(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	e.drive.FailNext(http.StatusServiceUnavailable)

	resp := e.get(t, c, "/files", true)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, codeUnavailable, body.Code)
	assert.True(t, body.Retryable)

	// Nothing is retried internally; the caller's retry succeeds.
	assert.Equal(t, http.StatusOK, e.get(t, c, "/files", true).StatusCode)
}

func TestList_UnexpectedStatus(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	e.drive.FailNext(http.StatusTeapot)

	resp := e.get(t, c, "/files", true)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestList_ExpiredTokenIsRefreshed(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)
	e.expireCredential(t)

	resp := e.get(t, c, "/files", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, e.idp.RefreshCount())
}

func TestList_ConcurrentExpiredRequestsRefreshOnce(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)
	e.expireCredential(t)

	const callers = 10

	statuses := make([]int, callers)

	var wg sync.WaitGroup

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			req, err := http.NewRequest(http.MethodGet, e.app.URL+"/files", nil)
			if !assert.NoError(t, err) {
				return
			}

			req.Header.Set("Accept", "application/json")

			resp, err := c.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()

			statuses[i] = resp.StatusCode
		}()
	}

	wg.Wait()

	for _, status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}

	assert.Equal(t, 1, e.idp.RefreshCount())
}

func TestList_RefreshFailureIsRetryable(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)
	e.expireCredential(t)

	e.idp.FailNextToken(http.StatusServiceUnavailable)

	resp := e.get(t, c, "/files", true)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, decode[errorResponse](t, resp).Retryable)
}

func TestList_RevokedRefreshTokenRedirectsToSignIn(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)
	e.expireCredential(t)

	e.idp.RevokeRefreshTokens(graphtest.DefaultUser)

	resp := e.get(t, c, "/files?pageSize=1", false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/signin?returnUrl=%2Ffiles%3FpageSize%3D1", resp.Header.Get("Location"))

	_, found, err := e.cache.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestList_RejectedTokenClearsCache(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	e.rejectTokens.Store(true)

	resp := e.get(t, c, "/files", true)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeUnauthorized, decode[errorResponse](t, resp).Code)

	_, found, err := e.cache.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, found)

	// With the entry gone the next request asks for a new sign-in.
	e.rejectTokens.Store(false)

	resp = e.get(t, c, "/files", true)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeReauth, decode[errorResponse](t, resp).Code)
}

func TestList_ForbiddenKeepsCredential(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	e.drive.FailNext(http.StatusForbidden)

	resp := e.get(t, c, "/files", true)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, codeForbidden, decode[errorResponse](t, resp).Code)

	_, found, err := e.cache.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, found)

	// The same credential still works for items the user can reach.
	assert.Equal(t, http.StatusOK, e.get(t, c, "/files", true).StatusCode)
}

func TestDelete_StaleETagIsConflict(t *testing.T) {
	e := newTestEnv(t)
	item := e.drive.Put(graphtest.RootID, "keep.txt", []byte("keep"))
	e.drive.SetETag(item.ID, "xyz789")

	c := e.signIn(t)

	resp := e.postForm(t, c, "/files/delete", url.Values{"itemId": {item.ID}, "etag": {"abc123"}}, true)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, codeConflict, decode[errorResponse](t, resp).Code)

	_, ok := e.drive.Get(item.ID)
	assert.True(t, ok, "item must survive a stale delete")
}

func TestDelete_API(t *testing.T) {
	e := newTestEnv(t)
	item := e.drive.Put(graphtest.RootID, "gone.txt", []byte("x"))

	c := e.signIn(t)

	resp := e.postForm(t, c, "/files/delete", url.Values{"itemId": {item.ID}, "etag": {item.ETag}}, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok := e.drive.Get(item.ID)
	assert.False(t, ok)
}

func TestDelete_BrowserRedirectsToListing(t *testing.T) {
	e := newTestEnv(t)
	folder := e.drive.Mkdir(graphtest.RootID, "docs")
	item := e.drive.Put(folder.ID, "gone.txt", []byte("x"))

	c := e.signIn(t)

	form := url.Values{"itemId": {item.ID}, "etag": {item.ETag}, "parentId": {folder.ID}}
	resp := e.postForm(t, c, "/files/delete", form, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/files?parentId="+url.QueryEscape(folder.ID), resp.Header.Get("Location"))
}

func TestDelete_NotFound(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	resp := e.postForm(t, c, "/files/delete", url.Values{"itemId": {"missing"}, "etag": {"e"}}, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelete_MissingFields(t *testing.T) {
	e := newTestEnv(t)
	item := e.drive.Put(graphtest.RootID, "keep.txt", []byte("x"))

	c := e.signIn(t)

	for _, form := range []url.Values{
		{"itemId": {item.ID}},
		{"etag": {item.ETag}},
		{},
	} {
		resp := e.postForm(t, c, "/files/delete", form, true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	_, ok := e.drive.Get(item.ID)
	assert.True(t, ok)
}

func TestDelete_NotSignedInRedirects(t *testing.T) {
	e := newTestEnv(t)

	resp := e.postForm(t, e.browser(t), "/files/delete", url.Values{"itemId": {"x"}, "etag": {"y"}}, false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/signin?returnUrl=%2Ffiles", resp.Header.Get("Location"))
}

func TestUpload_ThenList(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	resp := e.upload(t, c, "/files/upload", []filePart{{name: "report.pdf", content: "%PDF-"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[uploadResponse](t, resp)
	require.Len(t, body.Uploaded, 1)
	assert.Equal(t, "report.pdf", body.Uploaded[0].Name)
	assert.Equal(t, int64(5), body.Uploaded[0].Size)
	assert.Empty(t, body.Skipped)

	list := decode[listResponse](t, e.get(t, c, "/files?pageSize=1", true))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "report.pdf", list.Items[0].Name)
}

func TestUpload_SkipsEmptyAndInvalidParts(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	resp := e.upload(t, c, "/files/upload", []filePart{
		{name: "a.txt", content: "alpha"},
		{name: "empty.txt", content: ""},
		{name: `C:\Users\me\notes.txt`, content: "notes"},
		{name: "..", content: "nope"},
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[uploadResponse](t, resp)

	var names []string
	for _, it := range body.Uploaded {
		names = append(names, it.Name)
	}

	assert.Equal(t, []string{"a.txt", "notes.txt"}, names)
	assert.Equal(t, []skippedPart{
		{Name: "empty.txt", Reason: skipEmpty},
		{Name: "..", Reason: skipInvalidName},
	}, body.Skipped)

	assert.Len(t, e.drive.Children(graphtest.RootID), 2)
}

func TestUpload_NormalizesToNFC(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	resp := e.upload(t, c, "/files/upload", []filePart{{name: "cafe\u0301.txt", content: "x"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[uploadResponse](t, resp)
	require.Len(t, body.Uploaded, 1)
	assert.Equal(t, "caf\u00e9.txt", body.Uploaded[0].Name)
}

func TestUpload_IntoFolderBrowserRedirect(t *testing.T) {
	e := newTestEnv(t)
	folder := e.drive.Mkdir(graphtest.RootID, "docs")

	c := e.signIn(t)

	resp := e.upload(t, c, "/files/upload?parentId="+url.QueryEscape(folder.ID), []filePart{{name: "in.txt", content: "x"}}, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/files?parentId="+url.QueryEscape(folder.ID), resp.Header.Get("Location"))

	children := e.drive.Children(folder.ID)
	require.Len(t, children, 1)
	assert.Equal(t, "in.txt", children[0].Name)
}

func TestUpload_NoFiles(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	resp := e.upload(t, c, "/files/upload", nil, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpload_NotMultipart(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	resp := e.postForm(t, c, "/files/upload", url.Values{"a": {"b"}}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpload_MissingParent(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	resp := e.upload(t, c, "/files/upload?parentId=missing", []filePart{{name: "x.txt", content: "x"}}, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"report.pdf", "report.pdf", true},
		{"dir/sub/report.pdf", "report.pdf", true},
		{`C:\Users\me\report.pdf`, "report.pdf", true},
		{"trailing/", "trailing", true},
		{"cafe\u0301", "caf\u00e9", true},
		{"", "", false},
		{".", "", false},
		{"..", "", false},
		{"a/..", "", false},
		{"/", "", false},
		{`\\`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := uploadName(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
