package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sortrace/internal/config"
	"sortrace/internal/game"
)

func newTestServer(t *testing.T) *FiberServer {
	t.Helper()
	s := newFiberServer(config.Config{}, nil, nil, nil)
	s.RegisterFiberRoutes()
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func doRequest(t *testing.T, s *FiberServer, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}
	var result map[string]interface{}
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &result); err != nil {
			t.Fatalf("could not unmarshal response %q: %v", data, err)
		}
	}
	return resp.StatusCode, result
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	status, result := doRequest(t, s, "GET", "/health", "")
	if status != http.StatusOK {
		t.Fatalf("expected status OK; got %v", status)
	}

	db, _ := result["database"].(map[string]interface{})
	if db["status"] != "disabled" {
		t.Errorf("expected database to be 'disabled'; got %v", result["database"])
	}
	g, _ := result["game"].(map[string]interface{})
	if g["status"] != "running" {
		t.Errorf("expected game status 'running'; got %v", result["game"])
	}
}

func TestListAlgorithms(t *testing.T) {
	s := newTestServer(t)

	status, result := doRequest(t, s, "GET", "/api/v1/algorithms", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	algos, _ := result["algorithms"].([]interface{})
	if len(algos) != 12 {
		t.Fatalf("got %d algorithms, want 12", len(algos))
	}
	first, _ := algos[0].(map[string]interface{})
	if first["id"] == "" || first["complexity"] == nil {
		t.Errorf("catalog entry missing metadata: %v", first)
	}
}

func TestGetAlgorithm(t *testing.T) {
	s := newTestServer(t)

	status, info := doRequest(t, s, "GET", "/api/v1/algorithms/heap", "")
	if status != http.StatusOK || info["id"] != "heap" {
		t.Fatalf("GET heap = %d %v", status, info)
	}
	if desc, _ := info["description"].(string); !strings.Contains(desc, "already sorted") {
		t.Errorf("heap description = %q, want the sorted-input note", desc)
	}
	if status, _ := doRequest(t, s, "GET", "/api/v1/algorithms/sleep", ""); status != http.StatusNotFound {
		t.Errorf("GET sleep status = %d, want 404", status)
	}
}

func TestCreateAndGetRoom(t *testing.T) {
	s := newTestServer(t)

	status, created := doRequest(t, s, "POST", "/api/v1/rooms",
		`{"user_id":"u1","username":"alice","algorithms":["bubble","quick"]}`)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", status, created)
	}
	code, _ := created["code"].(string)
	if len(code) != 6 {
		t.Fatalf("room code = %q", code)
	}
	if created["host_id"] != "u1" || created["status"] != "waiting" {
		t.Errorf("created room = %v", created)
	}

	status, room := doRequest(t, s, "GET", "/api/v1/rooms/"+code, "")
	if status != http.StatusOK || room["code"] != code {
		t.Errorf("get room = %d %v", status, room)
	}

	status, board := doRequest(t, s, "GET", "/api/v1/rooms/"+code+"/leaderboard", "")
	if status != http.StatusOK {
		t.Fatalf("leaderboard status = %d", status)
	}
	entries, _ := board["leaderboard"].([]interface{})
	if len(entries) != 1 {
		t.Errorf("leaderboard = %v, want the host only", board)
	}
}

func TestCreateRoomErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed body", `{"username":`, http.StatusBadRequest, ""},
		{"missing username", `{"algorithms":["bubble","quick"]}`, http.StatusBadRequest, ""},
		{"one algorithm", `{"username":"a","algorithms":["bubble"]}`, http.StatusBadRequest, "validation"},
		{"unknown algorithm", `{"username":"a","algorithms":["bubble","sleep"]}`, http.StatusBadRequest, "validation"},
		{"bad settings", `{"username":"a","algorithms":["bubble","quick"],"settings":{"dataset_size":1,"min_value":1,"max_value":10}}`, http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, result := doRequest(t, s, "POST", "/api/v1/rooms", tt.body)
			if status != tt.status {
				t.Errorf("status = %d, want %d (%v)", status, tt.status, result)
			}
			if tt.kind != "" && result["kind"] != tt.kind {
				t.Errorf("kind = %v, want %s", result["kind"], tt.kind)
			}
		})
	}
}

func TestRoomNotFound(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/rooms/NOPE00", "/api/v1/rooms/NOPE00/leaderboard"} {
		status, result := doRequest(t, s, "GET", path, "")
		if status != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, status)
		}
		if result["error"] != game.ErrRoomNotFound.Error() {
			t.Errorf("%s error = %v", path, result["error"])
		}
	}
}

func TestHistoryWithoutStores(t *testing.T) {
	s := newTestServer(t)

	if status, _ := doRequest(t, s, "GET", "/api/v1/rooms/ABC123/history", ""); status != http.StatusServiceUnavailable {
		t.Errorf("history status = %d, want 503", status)
	}
	if status, _ := doRequest(t, s, "GET", "/api/v1/stats/algorithms", ""); status != http.StatusServiceUnavailable {
		t.Errorf("stats status = %d, want 503", status)
	}
	if status, _ := doRequest(t, s, "GET", "/api/v1/races/00000000-0000-0000-0000-000000000001", ""); status != http.StatusServiceUnavailable {
		t.Errorf("race status = %d, want 503", status)
	}
	if status, _ := doRequest(t, s, "GET", "/api/v1/races/not-a-uuid", ""); status != http.StatusBadRequest {
		t.Errorf("malformed race id status = %d, want 400", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s, "POST", "/api/v1/rooms", `{"username":"alice","algorithms":["bubble","quick"]}`)

	resp, err := s.App.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "sortrace_rooms 1") {
		t.Errorf("metrics output missing room gauge:\n%s", body)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)

	if status, _ := doRequest(t, s, "GET", "/ws", ""); status != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", status)
	}
}

func TestHandleMessage(t *testing.T) {
	s := newTestServer(t)
	host := &session{playerID: "host", username: "alice"}
	guest := &session{playerID: "guest", username: "bob"}

	if err := s.handleMessage(host, []byte(`{"type":"create_room","algorithms":["bubble","quick"]}`)); err != nil {
		t.Fatalf("create_room: %v", err)
	}
	if host.room == "" {
		t.Fatal("create_room did not set the session room")
	}

	t.Run("guest joins", func(t *testing.T) {
		msg := `{"type":"join_room","code":"` + host.room + `","username":"bobby"}`
		if err := s.handleMessage(guest, []byte(msg)); err != nil {
			t.Fatalf("join_room: %v", err)
		}
		if guest.room != host.room || guest.username != "bobby" {
			t.Errorf("guest session = %+v", guest)
		}
		view, _ := s.gameManager.GetRoom(host.room)
		if len(view.Players) != 2 {
			t.Errorf("players = %v", view.Players)
		}
	})

	tests := []struct {
		name string
		sess *session
		msg  string
		want error
	}{
		{"invalid json", guest, `{`, game.ErrBadRequest},
		{"unknown type", guest, `{"type":"fly"}`, game.ErrBadRequest},
		{"guest cannot start", guest, `{"type":"start_race"}`, game.ErrNotHost},
		{"guest cannot reset points", guest, `{"type":"reset_points"}`, game.ErrNotHost},
		{"unknown bet", guest, `{"type":"place_bet","algorithm":"heap"}`, game.ErrAlgorithmNotSelected},
		{"missing delay", host, `{"type":"update_step_speed"}`, game.ErrBadRequest},
		{"missing settings", host, `{"type":"update_settings"}`, game.ErrBadRequest},
		{"end without race", host, `{"type":"end_race_early"}`, game.ErrNotRacing},
		{"roomless start", &session{playerID: "x"}, `{"type":"start_race"}`, game.ErrNotInRoom},
		{"join missing room", &session{playerID: "y"}, `{"type":"join_room","code":"ZZZZZZ"}`, game.ErrRoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.handleMessage(tt.sess, []byte(tt.msg))
			if !errors.Is(err, tt.want) {
				t.Errorf("handleMessage(%s) = %v, want %v", tt.msg, err, tt.want)
			}
		})
	}

	t.Run("bet and speed", func(t *testing.T) {
		if err := s.handleMessage(guest, []byte(`{"type":"place_bet","algorithm":"quick"}`)); err != nil {
			t.Errorf("place_bet: %v", err)
		}
		if err := s.handleMessage(host, []byte(`{"type":"update_step_speed","delay_ms":5}`)); err != nil {
			t.Errorf("update_step_speed: %v", err)
		}
		view, _ := s.gameManager.GetRoom(host.room)
		if len(view.Bets) != 1 || view.Settings.StepDelayMs != 5 {
			t.Errorf("room after bet = %+v", view)
		}
	})

	t.Run("host leaves", func(t *testing.T) {
		code := host.room
		if err := s.handleMessage(host, []byte(`{"type":"leave_room"}`)); err != nil {
			t.Fatalf("leave_room: %v", err)
		}
		if host.room != "" {
			t.Error("leave_room kept the session room")
		}
		view, _ := s.gameManager.GetRoom(code)
		if view.HostID != guest.playerID {
			t.Errorf("host after leave = %s, want %s", view.HostID, guest.playerID)
		}
		if err := s.handleMessage(host, []byte(`{"type":"leave_room"}`)); !errors.Is(err, game.ErrNotInRoom) {
			t.Errorf("second leave_room = %v", err)
		}
	})

	if err := s.handleMessage(guest, []byte(`{"type":"ping"}`)); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestHandleMessage_ReconnectKeepsMembership(t *testing.T) {
	s := newTestServer(t)
	host := &session{playerID: "host", username: "alice"}
	if err := s.handleMessage(host, []byte(`{"type":"create_room","algorithms":["bubble","quick"]}`)); err != nil {
		t.Fatal(err)
	}
	code := host.room
	join := []byte(`{"type":"join_room","code":"` + code + `"}`)

	// A reloaded page opens its new socket before the old one is dropped.
	oldHost := host
	newHost := &session{playerID: "host", username: "alice"}
	if err := s.handleMessage(newHost, join); err != nil {
		t.Fatalf("second join_room: %v", err)
	}
	oldGuest := &session{playerID: "guest", username: "bob"}
	newGuest := &session{playerID: "guest", username: "bob"}
	for _, sess := range []*session{oldGuest, newGuest} {
		if err := s.handleMessage(sess, join); err != nil {
			t.Fatalf("guest join_room: %v", err)
		}
	}
	// Joining the room a session is already in does not count it twice.
	if err := s.handleMessage(newGuest, join); err != nil {
		t.Fatal(err)
	}

	s.leave(oldHost)
	s.leave(oldGuest)

	view, _ := s.gameManager.GetRoom(code)
	if len(view.Players) != 2 {
		t.Fatalf("players after old sockets closed = %v, want host and guest", view.Players)
	}
	if view.HostID != "host" {
		t.Errorf("host = %s, want host kept", view.HostID)
	}

	s.leave(newGuest)
	view, _ = s.gameManager.GetRoom(code)
	if len(view.Players) != 1 || view.Players[0].ID != "host" {
		t.Errorf("players after guest's last socket = %v, want host only", view.Players)
	}

	s.leave(newHost)
	view, _ = s.gameManager.GetRoom(code)
	if !view.PendingDeletion {
		t.Error("room not pending deletion after the last socket closed")
	}
}
