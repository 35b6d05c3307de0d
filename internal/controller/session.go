package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/plcctl/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultLoginPath = "login"
	DefaultTimeout   = 30 * time.Second
)

// Credentials are the console login form values.
type Credentials struct {
	Username string
	Password string
}

// Config locates one console and how to log in to it.
type Config struct {
	Scheme      string
	Host        string
	Port        int
	Credentials Credentials
	LoginPath   string
	Timeout     time.Duration

	// CAFile trusts an extra PEM bundle for https consoles.
	CAFile             string
	InsecureSkipVerify bool

	// Transport overrides the HTTP transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Validate checks the fields required to reach the console.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("controller: host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("controller: invalid port %d", c.Port)
	}
	return nil
}

// BaseURL returns the console root, always ending in a slash.
func (c Config) BaseURL() string {
	scheme := strings.TrimSpace(c.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.TrimSpace(c.Host)
	if c.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	return scheme + "://" + host + "/"
}

// Upload is one file part of a multipart POST.
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Session is an authenticated console session. It is owned by a single
// reconcile run and is not safe for concurrent use.
type Session struct {
	base   *url.URL
	client *http.Client
}

// Dial logs in and returns a session holding the resulting cookies.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(cfg.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("controller: parse base url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("controller: cookie jar: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport, err := cfg.transport()
	if err != nil {
		return nil, err
	}
	s := &Session{
		base: base,
		client: &http.Client{
			Jar:       jar,
			Timeout:   timeout,
			Transport: transport,
		},
	}

	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	form := url.Values{
		"username": {cfg.Credentials.Username},
		"password": {cfg.Credentials.Password},
	}
	if _, err := s.Post(ctx, loginPath, form, nil); err != nil {
		return nil, fmt.Errorf("controller: login: %w", err)
	}
	log.Debug().Str("url", base.String()).Msg("controller session established")
	return s, nil
}

// URL resolves a console-relative path such as "programs?list_all=1".
func (s *Session) URL(path string) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", err
	}
	return s.base.ResolveReference(ref).String(), nil
}

// Get fetches path and validates the reply.
func (s *Session) Get(ctx context.Context, path string) (*Response, error) {
	target, err := s.URL(path)
	if err != nil {
		return nil, &TransportError{Method: http.MethodGet, Path: path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Method: http.MethodGet, Path: path, Err: err}
	}
	return s.do(req, path)
}

// Post submits form, or a multipart body with form fields plus upload when
// upload is non-nil.
func (s *Session) Post(ctx context.Context, path string, form url.Values, upload *Upload) (*Response, error) {
	target, err := s.URL(path)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, Path: path, Err: err}
	}

	var (
		body        io.Reader
		contentType string
	)
	if upload == nil {
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else {
		buf, ct, err := multipartBody(form, upload)
		if err != nil {
			return nil, &TransportError{Method: http.MethodPost, Path: path, Err: err}
		}
		body = buf
		contentType = ct
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, Path: path, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	return s.do(req, path)
}

func (s *Session) do(req *http.Request, path string) (*Response, error) {
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		observability.RecordControllerRequest(req.Method, metricPath(path), 0, time.Since(start), false)
		return nil, &TransportError{Method: req.Method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordControllerRequest(req.Method, metricPath(path), resp.StatusCode, time.Since(start), false)
		return nil, &TransportError{Method: req.Method, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}

	out, err := check(req.Method, path, resp.StatusCode, string(raw))
	observability.RecordControllerRequest(req.Method, metricPath(path), resp.StatusCode, time.Since(start), err == nil)

	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("method", req.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("controller request")
	return out, err
}

func multipartBody(form url.Values, upload *Upload) (*bytes.Buffer, string, error) {
	if upload.Field == "" {
		return nil, "", errors.New("upload field name is required")
	}
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for key, values := range form {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, "", err
			}
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, upload.Field, upload.Filename))
	ct := upload.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header.Set("Content-Type", ct)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// metricPath drops the query so ids do not explode label cardinality.
func metricPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
