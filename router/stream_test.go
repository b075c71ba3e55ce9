package router

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	chat_handlers "github.com/sahilchouksey/school-connect/handlers/chat"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T, s *testServer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() { _ = s.app.Shutdown() })
	return ln.Addr().String()
}

func TestChatStream_SendsAndReceivesUpdates(t *testing.T) {
	s := newTestServer(t)
	addr := listen(t, s)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.studentToken(t))
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/chat/conversations/tch-2002/stream", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var first services.FeedUpdate
	require.NoError(t, conn.ReadJSON(&first))
	assert.Empty(t, first.Messages)

	require.NoError(t, conn.WriteJSON(chat_handlers.StreamClientMessage{Type: "send", Text: "Good morning"}))

	for {
		var update services.FeedUpdate
		require.NoError(t, conn.ReadJSON(&update))
		if len(update.Messages) == 1 && update.Messages[0].Text == "Good morning" {
			assert.Equal(t, "stu-1001", update.Messages[0].SenderID)
			assert.Equal(t, "tch-2002", update.Messages[0].ReceiverID)
			return
		}
	}
}

func TestChatStream_EndsWhenConversationIsClosed(t *testing.T) {
	s := newTestServer(t)
	addr := listen(t, s)
	token := s.studentToken(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/chat/conversations/tch-2001/stream", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var first services.FeedUpdate
	require.NoError(t, conn.ReadJSON(&first))

	// A REST read of the same chat leaves the streamed view open
	status, _ := s.do(t, http.MethodGet, "/api/v1/chat/conversations/tch-2001/messages", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env := s.do(t, http.MethodDelete, "/api/v1/chat/conversations/tch-2001", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, decode[map[string]bool](t, env)["closed"])

	for {
		var update services.FeedUpdate
		if err := conn.ReadJSON(&update); err != nil {
			var netErr net.Error
			assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "stream should end, not time out")
			return
		}
	}
}

func TestChatStream_TokenInQuery(t *testing.T) {
	s := newTestServer(t)
	addr := listen(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/chat/conversations/tch-2001/stream?token="+s.studentToken(t), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var first services.FeedUpdate
	require.NoError(t, conn.ReadJSON(&first))
}

func TestChatStream_RejectsPlainHTTP(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/conversations/tch-2001/stream", nil)
	req.Header.Set("Authorization", "Bearer "+s.studentToken(t))
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
