// Package plcfake serves an in-memory OpenPLC web console for tests. Pages
// carry the same shapes the scraper depends on: listing tables with
// table_id handlers, edit pages with inline script assignments, inputs,
// dropdowns and textareas, and a compile log that advances one step per read.
package plcfake

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/plcctl/internal/controller"
	"github.com/danmuck/plcctl/internal/mirror"
)

const (
	Username = "openplc"
	Password = "openplc"

	sessionCookie = "session"
	sessionValue  = "authenticated"

	CompileSuccess = "Compilation finished successfully!"
	CompileFailure = "Compilation finished with errors!"
)

// Program is one listed program row.
type Program struct {
	ID          string
	Name        string
	File        string
	Description string
}

// Record is a user or device row keyed by form field name.
type Record map[string]string

// Server is a fake console. Zero or more programs, users and devices may be
// seeded before the first request.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	token    int
	programs []Program
	users    []Record
	devices  []Record
	hardware Record
	// files holds stored program sources by token.
	files map[string][]byte
	// staged holds uploads waiting for registration.
	staged map[string][]byte

	compileLog []string
	logStep    int
	running    bool
	requests   []string
	failures   map[string]int
	dbErrors   map[string]bool
	compiled   []string
}

// New starts a fake console and closes it with the test.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		nextID:     10,
		token:      482,
		files:      map[string][]byte{},
		staged:     map[string][]byte{},
		failures:   map[string]int{},
		dbErrors:   map[string]bool{},
		compileLog: []string{"compiling...", CompileSuccess},
		running:    true,
		hardware: Record{
			"hardware_layer":    "blank_linux",
			"custom_layer_code": "# custom layer\n",
		},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// Config returns controller settings pointing at the fake.
func (s *Server) Config() controller.Config {
	u, _ := url.Parse(s.URL)
	port, _ := strconv.Atoi(u.Port())
	return controller.Config{
		Host: u.Hostname(),
		Port: port,
		Credentials: controller.Credentials{
			Username: Username,
			Password: Password,
		},
	}
}

// Dial opens a logged-in session against the fake.
func (s *Server) Dial(ctx context.Context) (*controller.Session, error) {
	return controller.Dial(ctx, s.Config())
}

// AddProgram seeds a stored program and returns its id.
func (s *Server) AddProgram(name, file string, source []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	s.programs = append(s.programs, Program{ID: id, Name: name, File: file})
	s.files[file] = append([]byte(nil), source...)
	return id
}

// AddUser seeds a user and returns its id.
func (s *Server) AddUser(fields Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	rec := clone(fields)
	rec["user_id"] = id
	s.users = append(s.users, rec)
	return id
}

// AddDevice seeds a Modbus device and returns its id.
func (s *Server) AddDevice(fields Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	rec := clone(fields)
	rec["device_id"] = id
	s.devices = append(s.devices, rec)
	return id
}

// SetCompileLog scripts the log reads that follow the next build start. The
// last entry repeats.
func (s *Server) SetCompileLog(steps ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compileLog = append([]string(nil), steps...)
	s.logStep = 0
}

// FailWith makes every request to path answer status.
func (s *Server) FailWith(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// DatabaseError makes path render a normal page with a backend error footer.
func (s *Server) DatabaseError(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbErrors[path] = true
}

// Programs returns the listed programs.
func (s *Server) Programs() []Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Program(nil), s.programs...)
}

// Users returns a copy of every user.
func (s *Server) Users() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.users)
}

// Devices returns a copy of every device.
func (s *Server) Devices() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.devices)
}

// Hardware returns the hardware profile.
func (s *Server) Hardware() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.hardware)
}

// Running reports whether the runtime was last started rather than stopped.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetRunning sets the runtime mode.
func (s *Server) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// Compiled lists every token a build was started for.
func (s *Server) Compiled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.compiled...)
}

// Requests lists "METHOD path?query" for every request after login.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Mutations lists the requests that are not plain page reads.
func (s *Server) Mutations() []string {
	var out []string
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, "POST ") || isMutatingGet(r) {
			out = append(out, r)
		}
	}
	return out
}

func isMutatingGet(r string) bool {
	for _, p := range []string{"GET remove-program", "GET delete-", "GET compile-program", "GET start_plc", "GET stop_plc", "GET reload-program"} {
		if strings.HasPrefix(r, p) {
			return true
		}
	}
	return false
}

// Mirror returns a mirror over the fake's stored program files.
func (s *Server) Mirror() mirror.Mirror { return storeMirror{s: s} }

type storeMirror struct{ s *Server }

func (m storeMirror) Fetch(_ context.Context, name string) ([]byte, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	data, ok := m.s.files[name]
	if !ok {
		return nil, fmt.Errorf("cat: %s: No such file or directory", name)
	}
	return append([]byte(nil), data...), nil
}

func (m storeMirror) Remove(_ context.Context, name string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.files, name)
	return nil
}

// Stored reports whether a program file is still on disk.
func (s *Server) Stored(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[name]
	return ok
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.login)

	pages := map[string]func(w http.ResponseWriter, r *http.Request){
		"/programs":              s.listPrograms,
		"/upload-program":        s.uploadProgram,
		"/upload-program-action": s.registerProgram,
		"/reload-program":        s.reloadProgram,
		"/update-program-action": s.registerProgram,
		"/compile-program":       s.compileProgram,
		"/compilation-logs":      s.compilationLogs,
		"/start_plc":             s.setRunning(true),
		"/stop_plc":              s.setRunning(false),
		"/remove-program":        s.removeProgram,
		"/users":                 s.listUsers,
		"/user-info":             s.userInfo,
		"/add-user":              s.addUser,
		"/update-user":           s.updateUser,
		"/delete-user":           s.deleteUser,
		"/modbus":                s.listDevices,
		"/modbus-edit-device":    s.editDevice,
		"/add-modbus-device":     s.addDevice,
		"/delete-device":         s.deleteDevice,
		"/hardware":              s.hardwarePage,
	}
	for path, h := range pages {
		mux.HandleFunc(path, s.guard(h))
	}
	return mux
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		io.WriteString(w, `<html><form method="post"><input name="username"><input name="password"></form></html>`)
		return
	}
	if r.FormValue("username") != Username || r.FormValue("password") != Password {
		http.Error(w, "Bad credentials! Try again", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sessionValue, Path: "/"})
	io.WriteString(w, `<html><body>Dashboard</body></html>`)
}

// guard checks the session cookie, records the request and applies injected
// failures.
func (s *Server) guard(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(sessionCookie); err != nil || c.Value != sessionValue {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/")
		line := r.Method + " " + path
		if r.URL.RawQuery != "" {
			line += "?" + r.URL.RawQuery
		}

		s.mu.Lock()
		s.requests = append(s.requests, line)
		status, fail := s.failures[path]
		dbErr := s.dbErrors[path]
		s.mu.Unlock()

		if fail {
			http.Error(w, "Internal Server Error", status)
			return
		}
		if dbErr {
			rec := httptest.NewRecorder()
			next(rec, r)
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, rec.Body.String())
			io.WriteString(w, "<p>Error connecting to the database. Make sure that your openplc.db file is not corrupt.</p>")
			return
		}
		next(w, r)
	}
}

func (s *Server) listPrograms(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([][]string, 0, len(s.programs))
	for _, p := range s.programs {
		rows = append(rows, []string{p.ID, p.Name, p.File, "Oct 18, 2026"})
	}
	writeTable(w, "reload-program", []string{"Program Name", "File", "Date Uploaded"}, rows)
}

func (s *Server) uploadProgram(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	token := fmt.Sprintf("%d.st", s.token)
	s.token++
	s.staged[token] = data
	s.mu.Unlock()

	fmt.Fprintf(w, `<html><body><h2>Program Info</h2>
<form action="upload-program-action" method="post">
<input type="text" id="prog_name" name="prog_name">
<textarea id="prog_descr" name="prog_descr"></textarea>
<input type="hidden" value="%s" id="prog_file" name="prog_file">
<input type="hidden" value="1760745600" id="epoch_time" name="epoch_time">
</form></body></html>`, token)
}

// registerProgram serves both upload-program-action and
// update-program-action. Registering starts a build; updates keep the row id.
func (s *Server) registerProgram(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token := r.PostForm.Get("prog_file")
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.staged[token]; ok {
		delete(s.staged, token)
		s.files[token] = data
		s.programs = append(s.programs, Program{
			ID:          s.newID(),
			Name:        r.PostForm.Get("prog_name"),
			File:        token,
			Description: r.PostForm.Get("prog_descr"),
		})
		s.startBuild(token)
	} else {
		for i := range s.programs {
			if s.programs[i].File == token {
				s.programs[i].Name = r.PostForm.Get("prog_name")
				s.programs[i].Description = r.PostForm.Get("prog_descr")
			}
		}
	}
	io.WriteString(w, `<html><body>Compiling program...</body></html>`)
}

func (s *Server) reloadProgram(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("table_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.programs {
		if p.ID == id {
			s.running = false
			fmt.Fprintf(w, `<html><body><h2>Program Info</h2>
<label>Name: %s</label><label>File: %s</label>
<form action="reload-program-action"><input type="hidden" value="%s" id="prog_file" name="prog_file"></form>
</body></html>`, html.EscapeString(p.Name), p.File, p.File)
			return
		}
	}
	io.WriteString(w, `<html><body>Program not found</body></html>`)
}

func (s *Server) compileProgram(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.startBuild(r.URL.Query().Get("file"))
	s.mu.Unlock()
	io.WriteString(w, `<html><body>Compiling...</body></html>`)
}

func (s *Server) startBuild(token string) {
	s.compiled = append(s.compiled, token)
	s.logStep = 0
}

func (s *Server) compilationLogs(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.compileLog) == 0 {
		return
	}
	step := s.logStep
	if step >= len(s.compileLog) {
		step = len(s.compileLog) - 1
	}
	s.logStep++
	io.WriteString(w, s.compileLog[step])
}

func (s *Server) setRunning(running bool) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.SetRunning(running)
		io.WriteString(w, `<html><body>Dashboard</body></html>`)
	}
}

func (s *Server) removeProgram(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.programs[:0]
	for _, p := range s.programs {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.programs = kept
	io.WriteString(w, `<html><body>Programs</body></html>`)
}

func (s *Server) listUsers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([][]string, 0, len(s.users))
	for _, u := range s.users {
		rows = append(rows, []string{u["user_id"], u["full_name"], u["user_name"], u["user_email"]})
	}
	writeTable(w, "user-info", []string{"Full Name", "Username", "Email"}, rows)
}

func (s *Server) userInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := find(s.users, "user_id", r.URL.Query().Get("table_id"))
	if u == nil {
		io.WriteString(w, `<html><body>User not found</body></html>`)
		return
	}
	var b strings.Builder
	b.WriteString(`<html><body><form action="update-user" method="post" enctype="multipart/form-data">`)
	for _, name := range []string{"user_id", "full_name", "user_name", "user_email", "user_password"} {
		fmt.Fprintf(&b, `<input type='text' id='%s' name='%s' value='%s'>`, name, name, html.EscapeString(u[name]))
	}
	b.WriteString(`<input type="file" id="file" name="file"></form></body></html>`)
	io.WriteString(w, b.String())
}

func (s *Server) addUser(w http.ResponseWriter, r *http.Request) {
	fields, err := formFields(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	fields["user_id"] = s.newID()
	s.users = append(s.users, fields)
	s.mu.Unlock()
	io.WriteString(w, `<html><body>Users</body></html>`)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	fields, err := formFields(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := find(s.users, "user_id", fields["user_id"]); u != nil {
		for k, v := range fields {
			u[k] = v
		}
	}
	io.WriteString(w, `<html><body>Users</body></html>`)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.users = without(s.users, "user_id", r.URL.Query().Get("user_id"))
	s.mu.Unlock()
	io.WriteString(w, `<html><body>Users</body></html>`)
}

func (s *Server) listDevices(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([][]string, 0, len(s.devices))
	for _, d := range s.devices {
		rows = append(rows, []string{d["device_id"], d["device_name"], d["device_protocol"], d["device_ip"]})
	}
	writeTable(w, "modbus-edit-device", []string{"Device Name", "Device Type", "IP Address"}, rows)
}

// deviceScriptFields are rendered as abbreviated script assignments the way
// the console fills its edit form.
var deviceScriptFields = []struct{ script, field string }{
	{"devid", "device_id"},
	{"devname", "device_name"},
	{"devprotocol", "device_protocol"},
	{"distart", "di_start"},
	{"disize", "di_size"},
	{"coilstart", "coil_start"},
	{"coilsize", "coil_size"},
}

var deviceProtocols = []string{"Uno", "Mega", "ESP32", "ESP8266", "TCP", "RTU"}

func (s *Server) editDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.updateDevice(w, r)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := find(s.devices, "device_id", r.URL.Query().Get("table_id"))
	if d == nil {
		io.WriteString(w, `<html><body>Device not found</body></html>`)
		return
	}

	scripted := map[string]bool{}
	var b strings.Builder
	b.WriteString(`<html><body><form action="modbus-edit-device" method="post">`)
	b.WriteString(`<select id="dev_protocol" name="device_protocol">`)
	for _, p := range deviceProtocols {
		if p == d["device_protocol"] {
			fmt.Fprintf(&b, `<option selected='selected' value='%s'>%s</option>`, p, p)
		} else {
			fmt.Fprintf(&b, `<option value='%s'>%s</option>`, p, p)
		}
	}
	b.WriteString(`</select>`)
	for _, f := range deviceScriptFields {
		scripted[f.field] = true
	}
	for _, k := range sortedKeys(d) {
		if scripted[k] {
			continue
		}
		fmt.Fprintf(&b, `<input type='text' id='%s' name='%s' value='%s'>`, k, k, html.EscapeString(d[k]))
	}
	b.WriteString(`</form><script>function setup(){`)
	for _, f := range deviceScriptFields {
		if v, ok := d[f.field]; ok {
			fmt.Fprintf(&b, `;%s.value = '%s'`, f.script, v)
		}
	}
	b.WriteString(`;}</script></body></html>`)
	io.WriteString(w, b.String())
}

func (s *Server) updateDevice(w http.ResponseWriter, r *http.Request) {
	fields, err := formFields(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := find(s.devices, "device_id", fields["device_id"]); d != nil {
		for k, v := range fields {
			d[k] = v
		}
	}
	io.WriteString(w, `<html><body>Modbus</body></html>`)
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	fields, err := formFields(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	fields["device_id"] = s.newID()
	s.devices = append(s.devices, fields)
	s.mu.Unlock()
	io.WriteString(w, `<html><body>Modbus</body></html>`)
}

func (s *Server) deleteDevice(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.devices = without(s.devices, "device_id", r.URL.Query().Get("dev_id"))
	s.mu.Unlock()
	io.WriteString(w, `<html><body>Modbus</body></html>`)
}

var hardwareLayers = []string{"blank", "blank_linux", "rpi", "psm_linux", "psm_win", "simulink"}

func (s *Server) hardwarePage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		fields, err := formFields(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		for k, v := range fields {
			s.hardware[k] = v
		}
		s.mu.Unlock()
		io.WriteString(w, `<html><body>Dashboard</body></html>`)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	b.WriteString(`<html><body><form action="hardware" method="post"><select id="hardware_layer" name="hardware_layer">`)
	for _, l := range hardwareLayers {
		if l == s.hardware["hardware_layer"] {
			fmt.Fprintf(&b, `<option selected='selected' value='%s'>%s</option>`, l, l)
		} else {
			fmt.Fprintf(&b, `<option value='%s'>%s</option>`, l, l)
		}
	}
	fmt.Fprintf(&b, `</select><textarea id="custom_layer_code" name="custom_layer_code">%s</textarea></form></body></html>`,
		html.EscapeString(s.hardware["custom_layer_code"]))
	io.WriteString(w, b.String())
}

func (s *Server) newID() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

// writeTable renders a listing. Each row is id followed by its cells; the
// header row has no handler and a trailing footer row has no id.
func writeTable(w io.Writer, target string, header []string, rows [][]string) {
	var b strings.Builder
	b.WriteString(`<html><body><table><tr style="background-color: white">`)
	for _, h := range header {
		fmt.Fprintf(&b, "<th>%s</th>", h)
	}
	b.WriteString("</tr>\n")
	for _, row := range rows {
		fmt.Fprintf(&b, `<tr onclick="document.location='%s?table_id=%s'">`, target, row[0])
		for _, cell := range row[1:] {
			fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(cell))
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString(`<tr><td colspan="3">List all</td></tr></table></body></html>`)
	io.WriteString(w, b.String())
}

// formFields reads url-encoded or multipart values. An uploaded file part is
// recorded under its field name as "<filename>:<size>".
func formFields(r *http.Request) (Record, error) {
	out := Record{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil, err
		}
		for k, vs := range r.MultipartForm.Value {
			out[k] = vs[0]
		}
		for k, fhs := range r.MultipartForm.File {
			out[k] = fmt.Sprintf("%s:%d", fhs[0].Filename, fhs[0].Size)
		}
		return out, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k, vs := range r.PostForm {
		out[k] = vs[0]
	}
	return out, nil
}

func find(records []Record, key, id string) Record {
	for _, rec := range records {
		if rec[key] == id {
			return rec
		}
	}
	return nil
}

func without(records []Record, key, id string) []Record {
	kept := records[:0]
	for _, rec := range records {
		if rec[key] != id {
			kept = append(kept, rec)
		}
	}
	return kept
}

func clone(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func cloneAll(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, clone(r))
	}
	return out
}

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
