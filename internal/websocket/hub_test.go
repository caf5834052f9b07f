package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guild-achievements/internal/domain"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gorillaws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastsToCommunitySubscribers(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, CommunityID: "G1"}))

	ack := readMessage(t, conn)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "G1", ack.CommunityID)

	assert.Eventually(t, func() bool { return hub.GetSubscriberCount("G1") == 1 }, time.Second, 10*time.Millisecond)

	// other communities are not delivered
	hub.BroadcastProgress(context.Background(), domain.ProgressEvent{CommunityID: "G2", MemberID: "U1", Progress: 10})
	hub.BroadcastCompletion(context.Background(), domain.CompletionEvent{
		CommunityID: "G1",
		MemberID:    "U1",
		ChannelID:   "C1",
		Achievement: domain.AchievementRecord{ID: 1, Name: "First"},
	})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeComplete, msg.Type)
	assert.Equal(t, "G1", msg.CommunityID)
	assert.Equal(t, "U1", msg.MemberID)
}

func TestHub_MemberFilter(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, CommunityID: "G1", MemberID: "U2"}))
	readMessage(t, conn)

	assert.Eventually(t, func() bool { return hub.GetSubscriberCount("G1") == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastProgress(context.Background(), domain.ProgressEvent{CommunityID: "G1", MemberID: "U1", Progress: 10})
	hub.BroadcastProgress(context.Background(), domain.ProgressEvent{CommunityID: "G1", MemberID: "U2", Progress: 20})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeProgress, msg.Type)
	assert.Equal(t, "U2", msg.MemberID)
}

func TestClient_Requests(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	assert.Eventually(t, func() bool { return hub.GetTotalConnections() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte("{not json")))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.GetTotalConnections() == 0 }, time.Second, 10*time.Millisecond)
}
