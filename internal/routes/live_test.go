package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rental-portal/internal/storage"

	"github.com/gorilla/websocket"
)

// readEvent returns the next server-sent event, skipping comments.
func readEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestRequestStream_DeliversSnapshots(t *testing.T) {
	s := newTestServices(t)
	srv := httptest.NewServer(newTestEngine(t, s))
	defer srv.Close()
	_, admin := signIn(t, s, "boss@example.com", true)

	rental, err := s.Store.CreateRental(context.Background(), storage.Rental{Name: "テント", Category: "アウトドア"})
	if err != nil {
		t.Fatalf("CreateRental failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/admin/requests/stream", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.AddCookie(accessCookie(t))
	req.AddCookie(admin)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := bufio.NewReader(resp.Body)

	event, data := readEvent(t, body)
	if event != "snapshot" || data != "[]" {
		t.Fatalf("first event = %q %s, want an empty snapshot", event, data)
	}

	if _, err := s.Store.CreateRentalRequest(context.Background(), storage.RentalRequest{
		RentalID:  rental.ID,
		Name:      "山田 太郎",
		StartDate: "2025-06-01",
		EndDate:   "2025-06-03",
	}); err != nil {
		t.Fatalf("CreateRentalRequest failed: %v", err)
	}

	event, data = readEvent(t, body)
	var requests []storage.RentalRequest
	if err := json.Unmarshal([]byte(data), &requests); err != nil {
		t.Fatalf("snapshot is not a request list: %v: %s", err, data)
	}
	if event != "snapshot" || len(requests) != 1 || requests[0].Name != "山田 太郎" {
		t.Errorf("second event = %q %+v, want the new request", event, requests)
	}
}

func TestOfferLatest_KeepsNewest(t *testing.T) {
	ch := make(chan int, 1)
	offerLatest(ch, 1)
	offerLatest(ch, 2)
	offerLatest(ch, 3)
	if got := <-ch; got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	select {
	case v := <-ch:
		t.Errorf("unexpected extra value %d", v)
	default:
	}
}

type talkEvent struct {
	Type     string            `json:"type"`
	Messages []storage.Message `json:"messages"`
	Message  string            `json:"message"`
}

func dialTalk(t *testing.T, srv *httptest.Server, roomID string, cookies ...*http.Cookie) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	for _, c := range cookies {
		header.Add("Cookie", c.String())
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/talk/" + roomID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readTalkEvent(t *testing.T, conn *websocket.Conn) talkEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event talkEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading chat event: %v", err)
	}
	return event
}

// expectClosed reads past any snapshots until the alert, then expects the
// server to close with code.
func expectClosed(t *testing.T, conn *websocket.Conn, alert string, code int) {
	t.Helper()
	for {
		event := readTalkEvent(t, conn)
		if event.Type == "snapshot" {
			continue
		}
		if event.Type != "alert" || event.Message != alert {
			t.Fatalf("event = %+v, want alert %q", event, alert)
		}
		break
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, code) {
		t.Errorf("expected close %d, got %v", code, err)
	}
}

// failingMessages rejects every chat message write.
type failingMessages struct {
	storage.Provider
}

func (failingMessages) AddMessage(ctx context.Context, roomID string, message storage.Message) (storage.Message, error) {
	return storage.Message{}, errors.New("disk full")
}

func TestTalkSocket_SnapshotsAndSend(t *testing.T) {
	s := newTestServices(t)
	srv := httptest.NewServer(newTestEngine(t, s))
	defer srv.Close()
	alice, session := signIn(t, s, "alice@example.com", false)

	conn, _, err := dialTalk(t, srv, alice.UID, accessCookie(t), session)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	if event := readTalkEvent(t, conn); event.Type != "snapshot" || len(event.Messages) != 0 {
		t.Fatalf("first event = %+v, want an empty snapshot", event)
	}

	if err := conn.WriteJSON(talkMessage{Text: "   "}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteJSON(talkMessage{Text: " こんにちは "}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	event := readTalkEvent(t, conn)
	if event.Type != "snapshot" || len(event.Messages) != 1 {
		t.Fatalf("event after send = %+v, want one message", event)
	}
	if m := event.Messages[0]; m.Text != "こんにちは" || m.SenderUID != alice.UID || m.SenderRole != storage.SenderRoleUser {
		t.Errorf("unexpected message %+v", m)
	}

	err = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal closure, got %v", err)
	}
}

func TestTalkSocket_ForeignRoomRejected(t *testing.T) {
	s := newTestServices(t)
	srv := httptest.NewServer(newTestEngine(t, s))
	defer srv.Close()
	_, session := signIn(t, s, "alice@example.com", false)
	bob, _ := signIn(t, s, "bob@example.com", false)

	_, resp, err := dialTalk(t, srv, bob.UID, accessCookie(t), session)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected a rejected handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestTalkSocket_FailedSendAlerts(t *testing.T) {
	s := newTestServices(t)
	s.Store = failingMessages{s.Store}
	srv := httptest.NewServer(newTestEngine(t, s))
	defer srv.Close()
	alice, session := signIn(t, s, "alice@example.com", false)

	conn, _, err := dialTalk(t, srv, alice.UID, accessCookie(t), session)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	readTalkEvent(t, conn)

	if err := conn.WriteJSON(talkMessage{Text: "hello"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if event := readTalkEvent(t, conn); event.Type != "alert" || event.Message != "送信に失敗しました" {
		t.Errorf("event = %+v, want the send failure alert", event)
	}
}

func TestTalkSocket_ClosedAfterLogout(t *testing.T) {
	s := newTestServices(t)
	s.Config.TalkSessionRecheck = 20 * time.Millisecond
	r := newTestEngine(t, s)
	srv := httptest.NewServer(r)
	defer srv.Close()
	alice, session := signIn(t, s, "alice@example.com", false)

	conn, _, err := dialTalk(t, srv, alice.UID, accessCookie(t), session)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	readTalkEvent(t, conn)

	if w := doJSON(r, http.MethodPost, "/api/auth/logout", nil, accessCookie(t), session); w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	expectClosed(t, conn, "ログインしてください", websocket.ClosePolicyViolation)
}

func TestTalkSocket_ClosedAfterAdminRevoked(t *testing.T) {
	s := newTestServices(t)
	s.Config.TalkSessionRecheck = 20 * time.Millisecond
	srv := httptest.NewServer(newTestEngine(t, s))
	defer srv.Close()
	alice, _ := signIn(t, s, "alice@example.com", false)
	_, admin := signIn(t, s, "boss@example.com", true)

	conn, _, err := dialTalk(t, srv, alice.UID, accessCookie(t), admin)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	readTalkEvent(t, conn)

	if _, err := s.Identities.SetAdminByEmail(context.Background(), "boss@example.com", false); err != nil {
		t.Fatalf("SetAdminByEmail failed: %v", err)
	}
	expectClosed(t, conn, "このトークにはアクセスできません", websocket.ClosePolicyViolation)
}
