package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/danmuck/plcctl/internal/testutil/testlog"
)

func consoleConfig(t *testing.T, srv *httptest.Server) Config {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return Config{
		Host:        u.Hostname(),
		Port:        port,
		Credentials: Credentials{Username: "openplc", Password: "secret"},
	}
}

func newConsole(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != "openplc" || r.FormValue("password") != "secret" {
			http.Error(w, "Bad credentials", http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		io.WriteString(w, "dashboard")
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
				http.Error(w, "login required", http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/programs", authed(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "list_all="+r.URL.Query().Get("list_all"))
	}))
	mux.HandleFunc("/users", authed(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<html>"+strings.Repeat("x", 400)+"Error: could not open DATABASE file</html>")
	}))
	mux.HandleFunc("/modbus", authed(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<p>an error happened</p>"+strings.Repeat("x", 400))
	}))
	mux.HandleFunc("/boom", authed(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "stack trace", http.StatusInternalServerError)
	}))
	mux.HandleFunc("/add-user", authed(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		io.WriteString(w, r.FormValue("user_name")+"|"+hdr.Filename+"|"+hdr.Header.Get("Content-Type")+"|"+string(data))
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestConfigBaseURL(t *testing.T) {
	testlog.Start(t)
	if got := (Config{Host: "10.0.0.2", Port: 8080}).BaseURL(); got != "http://10.0.0.2:8080/" {
		t.Fatalf("unexpected base url %q", got)
	}
	if got := (Config{Scheme: "https", Host: "plc.local"}).BaseURL(); got != "https://plc.local/" {
		t.Fatalf("unexpected base url %q", got)
	}
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected missing host error")
	}
	if err := (Config{Host: "plc", Port: 70000}).Validate(); err == nil {
		t.Fatalf("expected invalid port error")
	}
}

func TestDialKeepsSessionCookie(t *testing.T) {
	testlog.Start(t)
	srv := newConsole(t)
	s, err := Dial(context.Background(), consoleConfig(t, srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp, err := s.Get(context.Background(), "programs?list_all=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.Body != "list_all=1" || resp.Path != "programs?list_all=1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestDialRejectsBadCredentials(t *testing.T) {
	testlog.Start(t)
	srv := newConsole(t)
	cfg := consoleConfig(t, srv)
	cfg.Credentials.Password = "wrong"
	_, err := Dial(context.Background(), cfg)
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 TransportError, got %v", err)
	}
}

func TestResponseValidation(t *testing.T) {
	testlog.Start(t)
	srv := newConsole(t)
	s, err := Dial(context.Background(), consoleConfig(t, srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ctx := context.Background()

	_, err = s.Get(ctx, "boom")
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusInternalServerError || !strings.Contains(te.Body, "stack trace") {
		t.Fatalf("expected 500 TransportError with body, got %v", err)
	}

	_, err = s.Get(ctx, "users")
	var re *RemoteError
	if !errors.As(err, &re) || !errors.Is(err, ErrRemote) || re.Path != "users" {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if len(re.Tail) > ErrorTailLen || !strings.Contains(re.Tail, "DATABASE") {
		t.Fatalf("unexpected tail %q", re.Tail)
	}

	if _, err := s.Get(ctx, "modbus"); err != nil {
		t.Fatalf("an error marker outside the tail must not fail: %v", err)
	}
}

func TestCheckRequiresBothMarkers(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		body string
		fail bool
	}{
		{body: "all good", fail: false},
		{body: "error only", fail: false},
		{body: "database only", fail: false},
		{body: "Database ERROR", fail: true},
	}
	for _, tc := range tests {
		_, err := check(http.MethodGet, "x", http.StatusOK, tc.body)
		if (err != nil) != tc.fail {
			t.Fatalf("check(%q) err=%v, want fail=%v", tc.body, err, tc.fail)
		}
	}
}

func TestPostMultipartUpload(t *testing.T) {
	testlog.Start(t)
	srv := newConsole(t)
	s, err := Dial(context.Background(), consoleConfig(t, srv))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp, err := s.Post(context.Background(), "add-user", url.Values{"user_name": {"ada"}}, &Upload{
		Field:       "file",
		Filename:    "ada.png",
		ContentType: "image/png",
		Data:        []byte("png-bytes"),
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.Body != "ada|ada.png|image/png|png-bytes" {
		t.Fatalf("unexpected echo %q", resp.Body)
	}
}

func TestTransportFailureHasNoStatus(t *testing.T) {
	testlog.Start(t)
	srv := newConsole(t)
	cfg := consoleConfig(t, srv)
	srv.Close()

	_, err := Dial(context.Background(), cfg)
	var te *TransportError
	if !errors.As(err, &te) || te.Status != 0 || te.Err == nil {
		t.Fatalf("expected connection TransportError, got %v", err)
	}
}
