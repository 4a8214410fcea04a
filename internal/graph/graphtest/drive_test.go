package graphtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, target, token string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(""))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestDrive_RequiresBearer(t *testing.T) {
	d := NewDrive(nil)

	rec := serve(t, d, http.MethodGet, "/me/drive/root/children", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDrive_InvalidTop(t *testing.T) {
	d := NewDrive(nil)

	for _, top := range []string{"0", "-1", "201", "abc"} {
		rec := serve(t, d, http.MethodGet, "/me/drive/root/children?$top="+top, "tok", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "top=%s", top)
	}
}

func TestDrive_NextLinkWhenMore(t *testing.T) {
	d := NewDrive(nil)
	d.Put(RootID, "a", nil)
	d.Put(RootID, "b", nil)

	rec := serve(t, d, http.MethodGet, "/v1.0/me/drive/root/children?$top=1", "tok", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "@odata.nextLink")
	assert.Contains(t, rec.Body.String(), `"name":"a"`)
}

func TestDrive_DeleteIsRecursive(t *testing.T) {
	d := NewDrive(nil)
	dir := d.Mkdir(RootID, "dir")
	file := d.Put(dir.ID, "f.txt", []byte("x"))

	rec := serve(t, d, http.MethodDelete, "/me/drive/items/"+dir.ID, "tok", map[string]string{"If-Match": dir.ETag})
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok := d.Get(file.ID)
	assert.False(t, ok)
}

func TestDrive_DeleteRootNotAllowed(t *testing.T) {
	d := NewDrive(nil)

	rec := serve(t, d, http.MethodDelete, "/me/drive/items/root", "tok", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrive_UploadStatus(t *testing.T) {
	d := NewDrive(nil)

	rec := serve(t, d, http.MethodPut, "/me/drive/root:/a.txt:/content", "tok", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(t, d, http.MethodPut, "/me/drive/root:/A.TXT:/content", "tok", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, d.Children(RootID), 1)
}

func TestDrive_FailNext(t *testing.T) {
	d := NewDrive(nil)
	d.FailNext(http.StatusTooManyRequests, http.StatusBadGateway)

	assert.Equal(t, http.StatusTooManyRequests, serve(t, d, http.MethodGet, "/me/drive/root/children", "tok", nil).Code)
	assert.Equal(t, http.StatusBadGateway, serve(t, d, http.MethodGet, "/me/drive/root/children", "tok", nil).Code)
	assert.Equal(t, http.StatusOK, serve(t, d, http.MethodGet, "/me/drive/root/children", "tok", nil).Code)
}
