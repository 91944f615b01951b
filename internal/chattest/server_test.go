package chattest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"merechat/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, baseURL, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/" + DefaultWSService
	if token != "" {
		u += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestServer_SendAndHistory(t *testing.T) {
	s, ts := Start(t, Config{Users: map[string]string{"t1": "alice"}})

	post := func(token, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/merechats/chat/room/message", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	require.Equal(t, http.StatusUnauthorized, post("bad", `{"content":"x"}`).StatusCode)

	resp := post("t1", `{"content":" hi ","clientId":"c_1_a"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.Equal(t, float64(1), rec["messageId"])
	require.Equal(t, "hi", rec["content"])
	require.Equal(t, "alice", rec["sender"])

	// Same client id is not stored twice.
	post("t1", `{"content":"hi","clientId":"c_1_a"}`)
	require.Len(t, s.Messages("room"), 1)
	require.Equal(t, 2, s.Sends())

	s.FailSends(1)
	require.Equal(t, http.StatusServiceUnavailable, post("t1", `{"content":"x"}`).StatusCode)
	require.Equal(t, http.StatusOK, post("t1", `{"content":"y"}`).StatusCode)
	require.Len(t, s.Messages("room"), 2)
}

func TestServer_MaxRecords(t *testing.T) {
	s, _ := Start(t, Config{MaxRecords: 2})
	s.Post("a", "bob", "1")
	s.Post("a", "bob", "2")
	s.Post("a", "bob", "3")

	msgs := s.Messages("a")
	require.Len(t, msgs, 2)
	require.Equal(t, models.ID("2"), msgs[0].ID)
	require.Equal(t, models.ID("3"), msgs[1].ID)
}

func TestServer_Websocket(t *testing.T) {
	s, ts := Start(t, Config{Users: map[string]string{"t1": "alice", "t2": "bob"}})

	alice := dial(t, ts.URL, "t1")
	bob := dial(t, ts.URL, "t2")
	require.Eventually(t, func() bool { return s.Connected() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(models.JoinFrame{Type: models.FrameTypeJoin, ConversationID: "room"}))
	require.Eventually(t, func() bool { return s.Joined("room") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(models.TypingFrame{Type: models.FrameTypeTyping, ConversationID: "room"}))
	frame := readFrame(t, bob)
	require.Equal(t, "typing", frame["type"])
	require.Equal(t, "alice", frame["sender"])

	require.NoError(t, alice.WriteJSON(models.OutboundMessage{Type: models.FrameTypeMessage, ConversationID: "room", Content: "hello", ClientID: "c_1_x"}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, "message", frame["type"])
		require.Equal(t, "c_1_x", frame["clientId"])
		require.Equal(t, "alice", frame["sender"])
	}

	_, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/"+DefaultWSService+"?token=nope", nil)
	require.Error(t, err)
}

func TestServer_Upload(t *testing.T) {
	_, ts := Start(t, Config{})

	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	var body bytes.Buffer
	contentType := newForm(t, &body, "chat", "cat.png", png)

	resp, err := http.Post(ts.URL+"/upload", contentType, &body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored []models.StoredFile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))
	require.Len(t, stored, 1)
	require.Equal(t, "png", stored[0].Extension)

	file, err := http.Get(ts.URL + "/files/" + stored[0].Filename)
	require.NoError(t, err)
	defer func() { _ = file.Body.Close() }()
	require.Equal(t, http.StatusOK, file.StatusCode)
}

func newForm(t *testing.T, body *bytes.Buffer, field, name string, data []byte) string {
	t.Helper()
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w.FormDataContentType()
}
