package stream

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organ-match-server/internal/domain"
)

func newTestHub() *Hub {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewHub(logger)
}

func notification(id string, target domain.Target) *domain.Notification {
	return &domain.Notification{
		ID:        id,
		Target:    target,
		Message:   "match confirmed",
		Severity:  domain.SeverityMedical,
		DedupeKey: "transition:m1:e1|" + target.String(),
		CreatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

var h1 = domain.Target{Kind: domain.TargetHospital, ID: "h1"}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := newTestHub()
	client := NewClient("hospital:h1")

	hub.Register(client)
	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, 1, hub.TopicCount("hospital:h1"))

	hub.Unregister(client)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.TopicCount("hospital:h1"))
	_, open := <-client.Send
	assert.False(t, open)

	hub.Unregister(client)
}

func TestHub_PublishToTopic(t *testing.T) {
	hub := newTestHub()
	subscriber := NewClient("hospital:h1")
	other := NewClient("recipient:r1")
	hub.Register(subscriber)
	hub.Register(other)

	hub.Publish(notification("n1", h1))
	hub.Publish(nil)

	require.Len(t, subscriber.Send, 1)
	assert.Len(t, other.Send, 0)

	var event Event
	require.NoError(t, json.Unmarshal(<-subscriber.Send, &event))
	assert.Equal(t, "notification", event.Type)
	assert.Equal(t, "hospital:h1", event.Topic)
	assert.Equal(t, "n1", event.Notification.ID)
	assert.Empty(t, event.Notification.DedupeKey)
}

func TestHub_SlowClientDrops(t *testing.T) {
	hub := newTestHub()
	client := NewClient("hospital:h1")
	hub.Register(client)

	for i := 0; i < sendBuffer+3; i++ {
		hub.Publish(notification("n", h1))
	}
	assert.Len(t, client.Send, sendBuffer)
	assert.Equal(t, 3, hub.Dropped())
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := newTestHub()
	client := NewClient()
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Targets: []string{"Hospital:h1", "donor:d1", "bogus"}})
	assert.ElementsMatch(t, []string{"hospital:h1", "donor:d1"}, client.Topics)
	assert.Equal(t, 1, hub.TopicCount("hospital:h1"))

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Targets: []string{"hospital:h1"}})
	assert.Len(t, client.Topics, 2)

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Targets: []string{"donor:d1"}})
	assert.Equal(t, []string{"hospital:h1"}, client.Topics)
	assert.Equal(t, 0, hub.TopicCount("donor:d1"))
}

func TestHub_ServeHTTP(t *testing.T) {
	hub := newTestHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/?target=hospital:h1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.TopicCount("hospital:h1") == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(notification("n1", h1))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "n1", event.Notification.ID)
	assert.Equal(t, h1, event.Notification.Target)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe", Targets: []string{"recipient:r1"}}))
	require.Eventually(t, func() bool { return hub.TopicCount("recipient:r1") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ServeHTTP_BadTarget(t *testing.T) {
	hub := newTestHub()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?target=staff:s1", nil)

	hub.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, hub.ClientCount())
}
