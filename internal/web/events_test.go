package web

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphfiles/internal/graph/graphtest"
)

func TestHub_PublishReachesOnlyThatUser(t *testing.T) {
	h := NewHub(nil)

	mine, unsubMine := h.Subscribe("alice")
	defer unsubMine()

	theirs, unsubTheirs := h.Subscribe("bob")
	defer unsubTheirs()

	h.Publish("alice", ChangeEvent{Type: eventChanged, ParentID: "root"})

	select {
	case ev := <-mine:
		assert.Equal(t, ChangeEvent{Type: eventChanged, ParentID: "root"}, ev)
	default:
		t.Fatal("subscriber did not receive the event")
	}

	select {
	case ev := <-theirs:
		t.Fatalf("other user received %+v", ev)
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(nil)

	_, unsub := h.Subscribe("alice")
	defer unsub()

	done := make(chan struct{})

	go func() {
		defer close(done)

		for range subscriberBuffer * 3 {
			h.Publish("alice", ChangeEvent{Type: eventChanged})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(nil)

	_, unsub1 := h.Subscribe("alice")
	_, unsub2 := h.Subscribe("alice")
	assert.Equal(t, 2, h.Subscribers("alice"))

	unsub1()
	unsub1()
	assert.Equal(t, 1, h.Subscribers("alice"))

	unsub2()
	assert.Equal(t, 0, h.Subscribers("alice"))

	// Publishing with no subscribers is a no-op.
	h.Publish("alice", ChangeEvent{Type: eventChanged})
}

func TestEvents_RequiresSession(t *testing.T) {
	e := newTestEnv(t)

	resp := e.get(t, e.browser(t), "/files/events", false)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeReauth, decode[errorResponse](t, resp).Code)
}

func TestEvents_PushedAfterUpload(t *testing.T) {
	e := newTestEnv(t)
	c := e.signIn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(e.app.URL, "http") + "/files/events"

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: &http.Client{Jar: c.Jar}})
	require.NoError(t, err)
	defer conn.CloseNow()

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		return e.server.Events().Subscribers(testUser) == 1
	}, 5*time.Second, 10*time.Millisecond)

	up := e.upload(t, c, "/files/upload", []filePart{{name: "new.txt", content: "hello"}}, true)
	require.Equal(t, http.StatusOK, up.StatusCode)

	var ev ChangeEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, ChangeEvent{Type: eventChanged, ParentID: graphtest.RootID}, ev)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		return e.server.Events().Subscribers(testUser) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEvents_NoEventForFailedDelete(t *testing.T) {
	e := newTestEnv(t)
	item := e.drive.Put(graphtest.RootID, "keep.txt", []byte("x"))
	e.drive.SetETag(item.ID, "current")

	c := e.signIn(t)

	events, unsub := e.server.Events().Subscribe(testUser)
	defer unsub()

	resp := e.postForm(t, c, "/files/delete", map[string][]string{"itemId": {item.ID}, "etag": {"stale"}}, true)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	resp = e.postForm(t, c, "/files/delete", map[string][]string{"itemId": {item.ID}, "etag": {"current"}}, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case ev := <-events:
		assert.Equal(t, eventChanged, ev.Type)
	default:
		t.Fatal("expected a change event after delete")
	}
}
