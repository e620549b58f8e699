package notification_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"backend/internal/notification"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// newWSTestServer 启动一个把收到的消息回收到 channel 的 WebSocket 服务端
func newWSTestServer(t *testing.T) (*httptest.Server, chan []byte) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	}))
	t.Cleanup(server.Close)
	return server, received
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_SendToUserDeliversToAllConnections(t *testing.T) {
	server, received := newWSTestServer(t)
	hub := notification.NewHub(zap.NewNop(), notification.WithKeepAliveInterval(0))

	hub.Register("u1", dialWS(t, server))
	hub.Register("u1", dialWS(t, server))

	if err := hub.SendToUser("u1", map[string]string{"title": "login-burst"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			if !strings.Contains(string(msg), "login-burst") {
				t.Fatalf("unexpected payload: %s", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d did not receive message", i)
		}
	}
}

func TestHub_SendToUserConcurrentWithRegister(t *testing.T) {
	server, _ := newWSTestServer(t)
	hub := notification.NewHub(zap.NewNop(), notification.WithKeepAliveInterval(0))

	hub.Register("u1", dialWS(t, server))

	extra := make([]*websocket.Conn, 20)
	for i := range extra {
		extra[i] = dialWS(t, server)
	}

	// 注册与推送并发执行，推送过程中连接集合持续变化
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, conn := range extra {
			hub.Register("u1", conn)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = hub.SendToUser("u1", map[string]int{"seq": i})
		}
	}()
	wg.Wait()

	if hub.ConnectedCount("u1") == 0 {
		t.Fatal("expected live connections after concurrent traffic")
	}
}

func TestHub_SendToUserBuffersWhenOffline(t *testing.T) {
	server, received := newWSTestServer(t)
	hub := notification.NewHub(zap.NewNop(), notification.WithKeepAliveInterval(0))

	if err := hub.SendToUser("u2", map[string]string{"title": "while-away"}); err != nil {
		t.Fatalf("offline send failed: %v", err)
	}

	// 重新上线时按序重放积压消息
	hub.Register("u2", dialWS(t, server))
	select {
	case msg := <-received:
		if !strings.Contains(string(msg), "while-away") {
			t.Fatalf("unexpected replayed payload: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffered message was not replayed on reconnect")
	}
}
