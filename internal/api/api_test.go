package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/reedfamily/rconwatch/internal/auth"
	"github.com/reedfamily/rconwatch/internal/config"
	"github.com/reedfamily/rconwatch/internal/db"
	"github.com/reedfamily/rconwatch/internal/monitor"
	"github.com/reedfamily/rconwatch/internal/notify"
	"github.com/reedfamily/rconwatch/internal/rcon"
)

type fixture struct {
	srv   *httptest.Server
	hub   *notify.Hub
	token string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	authSvc := auth.NewService(conn)
	if err := authSvc.EnsureDefaultUser("admin", "secret"); err != nil {
		t.Fatalf("default user: %v", err)
	}

	ctrl := gomock.NewController(t)
	querier := monitor.NewMockQuerier(ctrl)
	querier.EXPECT().Query(gomock.Any(), gomock.Any(), "ShowPlayers").DoAndReturn(
		func(_ context.Context, srv config.ServerConfig, _ string) (string, error) {
			switch srv.Name {
			case "alpha":
				return "name,playeruid,steamid\nAlice,1,111\nBob,2,222\n", nil
			case "beta":
				return "name,playeruid,steamid\nCarol,3,333\n", nil
			default:
				return "", &rcon.ConnectionError{Server: srv.Name, Err: errors.New("connection refused")}
			}
		}).AnyTimes()

	hub := notify.NewHub(10)
	m := monitor.New(monitor.Options{
		Servers: []config.ServerConfig{
			{Name: "alpha", Host: "10.0.0.1", Port: 25575, Password: "pw"},
			{Name: "beta", Host: "10.0.0.2", Port: 25575, Password: "pw"},
			{Name: "gamma", Host: "10.0.0.3", Port: 25575, Password: "pw"},
		},
		Querier: querier,
		Events:  hub,
	})
	m.Tick(context.Background())

	authHandler := NewAuthHandler(authSvc)
	serverHandler := NewServerHandler(m, time.Second)
	eventHandler := NewEventHandler(hub)

	r := chi.NewRouter()
	r.Post("/auth/login", authHandler.Login)
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authSvc))
		r.Get("/auth/me", authHandler.Me)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/status", serverHandler.Status)
		r.Get("/servers", serverHandler.List)
		r.Get("/servers/{name}", serverHandler.Get)
		r.Post("/servers/{name}/probe", serverHandler.Probe)
		r.Get("/events", eventHandler.Recent)
		r.Get("/events/live", eventHandler.Live)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	f := &fixture{srv: srv, hub: hub}
	f.token = f.login(t)
	return f
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	body := bytes.NewBufferString(`{"username":"admin","password":"secret"}`)
	resp, err := http.Post(f.srv.URL+"/auth/login", "application/json", body)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected login status '200', but got '%d'", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out.Token
}

func (f *fixture) do(t *testing.T, method, path string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestAuthRequired(t *testing.T) {

	f := newFixture(t)

	tests := []struct {
		header string
		status int
	}{
		{header: "", status: http.StatusUnauthorized},
		{header: "Bearer nope", status: http.StatusUnauthorized},
		{header: "Bearer " + f.token, status: http.StatusOK},
	}

	for _, test := range tests {
		req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/servers", nil)
		if test.header != "" {
			req.Header.Set("Authorization", test.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != test.status {
			t.Errorf("Expected '%d' for header '%s', but got '%d'", test.status, test.header, resp.StatusCode)
		}
	}
}

func TestServerHandler_List(t *testing.T) {

	f := newFixture(t)

	var list []monitor.Status
	if status := f.do(t, http.MethodGet, "/servers", &list); status != http.StatusOK {
		t.Fatalf("Expected '200', but got '%d'", status)
	}

	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name
	}
	if strings.Join(names, ",") != "alpha,beta,gamma" {
		t.Errorf("Expected order 'alpha,beta,gamma', but got '%v'", names)
	}
	if list[2].Online || list[2].LastError == "" {
		t.Errorf("Expected gamma offline with an error, but got '%+v'", list[2])
	}
	// the password never leaves the process
	raw, _ := json.Marshal(list)
	if bytes.Contains(raw, []byte("pw")) {
		t.Errorf("Expected no password in response, but got '%s'", raw)
	}
}

func TestServerHandler_Get(t *testing.T) {

	f := newFixture(t)

	var s monitor.Status
	if status := f.do(t, http.MethodGet, "/servers/beta", &s); status != http.StatusOK {
		t.Fatalf("Expected '200', but got '%d'", status)
	}
	if s.PlayerCount != 1 || s.Players[0].Name != "Carol" {
		t.Errorf("Expected Carol on beta, but got '%+v'", s)
	}

	if status := f.do(t, http.MethodGet, "/servers/nope", nil); status != http.StatusNotFound {
		t.Errorf("Expected '404', but got '%d'", status)
	}
}

func TestServerHandler_Status(t *testing.T) {

	f := newFixture(t)

	var agg monitor.Aggregate
	if status := f.do(t, http.MethodGet, "/status", &agg); status != http.StatusOK {
		t.Fatalf("Expected '200', but got '%d'", status)
	}
	if agg.Online != 3 || agg.Servers != 3 || agg.ServersUp != 2 || agg.Ticks != 1 {
		t.Errorf("Unexpected aggregate '%+v'", agg)
	}
}

func TestServerHandler_Probe(t *testing.T) {

	f := newFixture(t)

	tests := []struct {
		server string
		status int
	}{
		{server: "alpha", status: http.StatusOK},
		{server: "gamma", status: http.StatusBadGateway},
		{server: "nope", status: http.StatusNotFound},
	}

	for _, test := range tests {
		var out struct {
			Raw     string `json:"raw"`
			Players []struct {
				Name string `json:"name"`
			} `json:"players"`
		}
		status := f.do(t, http.MethodPost, "/servers/"+test.server+"/probe", &out)
		if status != test.status {
			t.Errorf("Expected '%d' for '%s', but got '%d'", test.status, test.server, status)
			continue
		}
		if status == http.StatusOK && len(out.Players) != 2 {
			t.Errorf("Expected 2 probed players, but got '%+v'", out)
		}
	}
}

func TestEventHandler_Recent(t *testing.T) {

	f := newFixture(t)

	var all []notify.Event
	if status := f.do(t, http.MethodGet, "/events", &all); status != http.StatusOK {
		t.Fatalf("Expected '200', but got '%d'", status)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 join events, but got '%d'", len(all))
	}

	var one []notify.Event
	f.do(t, http.MethodGet, "/events?limit=1", &one)
	if len(one) != 1 || one[0].Type != notify.JoinEventType {
		t.Errorf("Expected one join event, but got '%+v'", one)
	}

	if status := f.do(t, http.MethodGet, "/events?limit=x", nil); status != http.StatusBadRequest {
		t.Errorf("Expected '400', but got '%d'", status)
	}
}

func TestEventHandler_Live(t *testing.T) {

	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events/live?token=" + f.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the handler subscribes after the upgrade, so keep publishing until
	// something arrives
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.hub.UpdateStatus(context.Background(), 7)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != notify.StatusEventType || ev.Online != 7 {
		t.Errorf("Expected status event with 7 online, but got '%+v'", ev)
	}
}

func TestAuthHandler_Logout(t *testing.T) {

	f := newFixture(t)

	if status := f.do(t, http.MethodPost, "/auth/logout", nil); status != http.StatusOK {
		t.Fatalf("Expected '200', but got '%d'", status)
	}
	if status := f.do(t, http.MethodGet, "/auth/me", nil); status != http.StatusUnauthorized {
		t.Errorf("Expected '401' after logout, but got '%d'", status)
	}
}
