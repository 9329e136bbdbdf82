package rcon

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/reedfamily/rconwatch/internal/config"
)

const (
	typeResponseValue = 0
	typeExecOrAuthOK  = 2
	typeAuth          = 3
)

// fakeServer speaks just enough Source RCON to answer one command per
// connection.
type fakeServer struct {
	ln       net.Listener
	password string
	reply    string
	stall    bool

	mu     sync.Mutex
	closed int
	cmds   []string
}

func newFakeServer(t *testing.T, password, reply string, stall bool) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, password: password, reply: reply, stall: stall}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) config(name string) config.ServerConfig {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return config.ServerConfig{Name: name, Host: host, Port: p, Password: s.password}
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		s.closed++
		s.mu.Unlock()
	}()

	for {
		id, typ, body, err := readPacket(conn)
		if err != nil {
			return
		}
		if s.stall {
			continue
		}
		switch typ {
		case typeAuth:
			if body != s.password {
				writePacket(conn, -1, typeExecOrAuthOK, "")
				return
			}
			writePacket(conn, id, typeExecOrAuthOK, "")
		case typeExecOrAuthOK:
			s.mu.Lock()
			s.cmds = append(s.cmds, body)
			s.mu.Unlock()
			writePacket(conn, id, typeResponseValue, s.reply)
		}
	}
}

func readPacket(r io.Reader) (int32, int32, string, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return 0, 0, "", err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, 0, "", err
	}
	id := int32(binary.LittleEndian.Uint32(buf[0:4]))
	typ := int32(binary.LittleEndian.Uint32(buf[4:8]))
	body := string(bytes.TrimRight(buf[8:], "\x00"))
	return id, typ, body, nil
}

func writePacket(w io.Writer, id, typ int32, body string) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(len(body)+10))
	binary.Write(&buf, binary.LittleEndian, id)
	binary.Write(&buf, binary.LittleEndian, typ)
	buf.WriteString(body)
	buf.Write([]byte{0, 0})
	w.Write(buf.Bytes())
}

func TestClient_Query(t *testing.T) {

	reply := "name,playeruid,steamid\nAlice,1,111\n"
	srv := newFakeServer(t, "secret", reply, false)

	client := NewClient(2 * time.Second)
	got, err := client.Query(context.Background(), srv.config("alpha"), "ShowPlayers")
	if err != nil {
		t.Fatalf("Expected no error, but got '%v'", err)
	}
	if got != reply {
		t.Errorf("Expected '%q', but got '%q'", reply, got)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.cmds) != 1 || srv.cmds[0] != "ShowPlayers" {
		t.Errorf("Expected a single ShowPlayers command, but got '%v'", srv.cmds)
	}
}

func TestClient_QueryClosesConnection(t *testing.T) {

	srv := newFakeServer(t, "secret", "header\n", false)
	client := NewClient(2 * time.Second)

	for i := 0; i < 3; i++ {
		if _, err := client.Query(context.Background(), srv.config("alpha"), "ShowPlayers"); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		closed := srv.closed
		srv.mu.Unlock()
		if closed == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Expected every connection to be closed after its query")
}

func TestClient_QueryErrors(t *testing.T) {

	wrongPass := newFakeServer(t, "secret", "", false)
	stalled := newFakeServer(t, "secret", "", true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	refusedAddr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	tests := []struct {
		name    string
		srv     config.ServerConfig
		timeout bool
	}{
		{
			name: "wrong password",
			srv: func() config.ServerConfig {
				c := wrongPass.config("alpha")
				c.Password = "nope"
				return c
			}(),
		},
		{
			name: "connection refused",
			srv:  config.ServerConfig{Name: "beta", Host: "127.0.0.1", Port: refusedAddr.Port, Password: "x"},
		},
		{
			name:    "server never answers",
			srv:     stalled.config("gamma"),
			timeout: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := NewClient(300 * time.Millisecond)

			start := time.Now()
			_, err := client.Query(context.Background(), test.srv, "ShowPlayers")
			elapsed := time.Since(start)

			if err == nil {
				t.Fatal("Expected an error, but got nil")
			}
			if elapsed > 2*time.Second {
				t.Errorf("Expected the query to give up near its timeout, but it took '%v'", elapsed)
			}

			if test.timeout {
				if !IsTimeout(err) {
					t.Errorf("Expected a timeout error, but got '%v'", err)
				}
				return
			}

			var connErr *ConnectionError
			if !errors.As(err, &connErr) {
				t.Fatalf("Expected a connection error, but got '%T: %v'", err, err)
			}
			if connErr.Server != test.srv.Name {
				t.Errorf("Expected server '%s', but got '%s'", test.srv.Name, connErr.Server)
			}
		})
	}
}

func TestClient_QueryHonorsContextDeadline(t *testing.T) {

	stalled := newFakeServer(t, "secret", "", true)

	client := NewClient(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Query(ctx, stalled.config("delta"), "ShowPlayers")
	if !IsTimeout(err) {
		t.Fatalf("Expected a timeout error, but got '%v'", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Expected the context deadline to bound the query")
	}
}
