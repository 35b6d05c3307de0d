package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/plcctl/internal/controller"
	"github.com/danmuck/plcctl/internal/mirror"
	"github.com/danmuck/plcctl/internal/mutate"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/danmuck/plcctl/internal/scrape"
	"github.com/danmuck/plcctl/internal/testutil/plcfake"
	"github.com/danmuck/plcctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newEngine(srv *plcfake.Server, m mirror.Mirror) *Engine {
	return &Engine{
		Kinds: resource.OpenPLC(),
		Dial: func(ctx context.Context) (mutate.Console, error) {
			s, err := srv.Dial(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Mirror: m,
		Sleep:  noSleep,
	}
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDiff(t *testing.T) {
	testlog.Start(t)
	live := scrape.Record{"device_port": "502", "device_ip": "10.0.0.5", "device_protocol": "TCP"}

	changes, merged, err := Diff("device", "press", resource.Properties{"device_port": "503", "device_protocol": "TCP"}, live)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if diff := cmp.Diff([]Change{{Property: "device_port", From: "502", To: "503"}}, changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
	if merged["device_port"] != "503" || merged["device_ip"] != "10.0.0.5" || live["device_port"] != "502" {
		t.Fatalf("unexpected merge %v (live %v)", merged, live)
	}

	changes, _, err = Diff("device", "press", resource.Properties{"device_ip": "10.0.0.5"}, live)
	if err != nil || len(changes) != 0 {
		t.Fatalf("expected no changes, got %v err=%v", changes, err)
	}

	_, _, err = Diff("device", "press", resource.Properties{"device_prot": "RTU"}, live)
	var ve *resource.ValidationError
	if !errors.As(err, &ve) || !strings.Contains(ve.Reason, "device_prot") {
		t.Fatalf("expected ValidationError naming the key, got %v", err)
	}
}

func TestDecideTable(t *testing.T) {
	testlog.Start(t)
	idx := scrape.Index{"clientA": "7"}
	fetched := 0
	fetch := func(_ context.Context, id string) (scrape.Record, error) {
		fetched++
		if id != "7" {
			t.Fatalf("unexpected detail fetch for %q", id)
		}
		return scrape.Record{"user_email": "a@plc"}, nil
	}
	k := resource.UserKind()

	tests := []struct {
		name    string
		desired resource.Desired
		want    ActionKind
	}{
		{name: "absent unknown", desired: resource.Desired{Name: "clientB", State: resource.StateAbsent}, want: NoOp},
		{name: "present unknown", desired: resource.Desired{Name: "clientB", State: resource.StatePresent}, want: Create},
		{name: "absent known", desired: resource.Desired{Name: "clientA", State: resource.StateAbsent}, want: Delete},
		{name: "present same", desired: resource.Desired{Name: "clientA", State: resource.StatePresent, Properties: resource.Properties{"user_email": "a@plc"}}, want: NoOp},
		{name: "present differs", desired: resource.Desired{Name: "clientA", State: resource.StatePresent, Properties: resource.Properties{"user_email": "b@plc"}}, want: Update},
	}
	for _, tc := range tests {
		action, err := Decide(context.Background(), k, tc.desired, tc.desired.Properties, idx, fetch)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if action.Kind != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, action.Kind, tc.want)
		}
	}
	if fetched != 2 {
		t.Fatalf("detail must be fetched only for present known names, got %d fetches", fetched)
	}
}

func TestDecideSingletonRejectsAbsent(t *testing.T) {
	testlog.Start(t)
	fetch := func(context.Context, string) (scrape.Record, error) { return scrape.Record{}, nil }
	_, err := Decide(context.Background(), resource.HardwareKind(), resource.Desired{State: resource.StateAbsent}, nil, nil, fetch)
	if !errors.Is(err, resource.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApplyAbsentUnknownIsNoOp(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	srv.AddUser(plcfake.Record{"full_name": "Client A", "user_name": "clientA", "user_email": "a@plc"})

	res, err := newEngine(srv, nil).Apply(context.Background(), resource.Desired{Kind: "user", Name: "clientB", State: resource.StateAbsent})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Changed || res.Action.Kind != NoOp {
		t.Fatalf("expected unchanged no-op, got %+v", res)
	}
	if m := srv.Mutations(); len(m) != 0 {
		t.Fatalf("expected no mutations, got %v", m)
	}
}

func TestApplyProgramCreate(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	srv.SetCompileLog("compiling...", "Compilation finished successfully!")
	src := writeSource(t, "a.st", "PROGRAM prog1\nEND_PROGRAM\n")

	d := resource.Desired{Kind: "program", Name: "prog1", State: resource.StatePresent, File: src}
	res, err := newEngine(srv, srv.Mirror()).Apply(context.Background(), d)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Changed || res.Action.Kind != Create {
		t.Fatalf("expected changed create, got %+v", res)
	}

	progs := srv.Programs()
	if len(progs) != 1 || progs[0].Name != "prog1" || progs[0].File != "482.st" {
		t.Fatalf("unexpected programs %+v", progs)
	}
	want := []string{
		"GET programs?list_all=1",
		"POST upload-program",
		"POST upload-program-action",
		"GET compilation-logs",
		"GET compilation-logs",
		"GET programs?list_all=1",
	}
	if diff := cmp.Diff(want, srv.Requests()); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyProgramCompilationFailure(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	srv.SetCompileLog("Compilation finished with errors!")
	src := writeSource(t, "a.st", "PROGRAM broken")

	res, err := newEngine(srv, nil).Apply(context.Background(), resource.Desired{Kind: "program", Name: "prog1", State: resource.StatePresent, File: src})
	if !errors.Is(err, mutate.ErrCompilation) {
		t.Fatalf("expected ErrCompilation, got %v", err)
	}
	if res.Changed {
		t.Fatalf("a failed run reports no change")
	}
}

func TestApplyProgramIdenticalContentResumes(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	srv.AddProgram("prog1", "311.st", []byte("PROGRAM prog1\nEND_PROGRAM\n"))
	srv.SetRunning(false)
	src := writeSource(t, "a.st", "PROGRAM prog1\nEND_PROGRAM\n")

	res, err := newEngine(srv, srv.Mirror()).Apply(context.Background(), resource.Desired{Kind: "program", Name: "prog1", State: resource.StatePresent, File: src})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Changed || !res.Action.Resume {
		t.Fatalf("expected unchanged resume, got %+v", res)
	}
	if diff := cmp.Diff([]string{"GET start_plc"}, srv.Mutations()); diff != "" {
		t.Fatalf("mutations mismatch (-want +got):\n%s", diff)
	}
	if !srv.Running() {
		t.Fatalf("runtime must be resumed")
	}
}

func TestApplyProgramChangedContentRebuilds(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	id := srv.AddProgram("prog1", "311.st", []byte("PROGRAM prog1\nEND_PROGRAM\n"))
	srv.SetCompileLog("Compilation finished successfully!")
	src := writeSource(t, "a.st", "PROGRAM prog1\n(* v2 *)\nEND_PROGRAM\n")

	res, err := newEngine(srv, srv.Mirror()).Apply(context.Background(), resource.Desired{Kind: "program", Name: "prog1", State: resource.StatePresent, File: src, Description: "v2"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Changed || res.Action.Kind != Update || res.Action.RemoteID != id {
		t.Fatalf("expected update of %s, got %+v", id, res)
	}
	want := []string{
		"GET reload-program?table_id=" + id,
		"POST update-program-action",
		"GET compile-program?file=311.st",
		"GET start_plc",
	}
	if diff := cmp.Diff(want, srv.Mutations()); diff != "" {
		t.Fatalf("mutations mismatch (-want +got):\n%s", diff)
	}
	if progs := srv.Programs(); progs[0].Description != "v2" || !srv.Running() {
		t.Fatalf("unexpected state %+v running=%v", progs, srv.Running())
	}
}

func TestApplyProgramDelete(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	id := srv.AddProgram("prog1", "311.st", []byte("x"))

	res, err := newEngine(srv, srv.Mirror()).Apply(context.Background(), resource.Desired{Kind: "program", Name: "prog1", State: resource.StateAbsent, File: "unused.st"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Changed || res.Action.Kind != Delete || res.Action.Filename != "311.st" {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]string{"GET remove-program?id=" + id}, srv.Mutations()); diff != "" {
		t.Fatalf("mutations mismatch (-want +got):\n%s", diff)
	}
	if len(srv.Programs()) != 0 || srv.Stored("311.st") {
		t.Fatalf("program and stored file must be gone")
	}
}

func TestApplyDeviceUpdatePostsMergedRecord(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	id := srv.AddDevice(plcfake.Record{
		"device_name":     "press",
		"device_protocol": "TCP",
		"device_ip":       "10.0.0.5",
		"device_port":     "502",
		"di_start":        "0",
		"di_size":         "8",
	})

	d := resource.Desired{Kind: "device", Name: "press", State: resource.StatePresent, Properties: resource.Properties{
		"device_port":     "503",
		"device_protocol": "TCP",
		"di_size":         "16",
	}}
	res, err := newEngine(srv, nil).Apply(context.Background(), d)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Changed || res.Action.Kind != Update {
		t.Fatalf("expected update, got %+v", res)
	}
	want := []Change{
		{Property: "device_port", From: "502", To: "503"},
		{Property: "di_size", From: "8", To: "16"},
	}
	if diff := cmp.Diff(want, res.Action.Changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}

	got := srv.Devices()[0]
	wantDevice := plcfake.Record{
		"device_id":       id,
		"device_name":     "press",
		"device_protocol": "TCP",
		"device_ip":       "10.0.0.5",
		"device_port":     "503",
		"di_start":        "0",
		"di_size":         "16",
	}
	if diff := cmp.Diff(wantDevice, got); diff != "" {
		t.Fatalf("device mismatch (-want +got):\n%s", diff)
	}

	again, err := newEngine(srv, nil).Apply(context.Background(), d)
	if err != nil || again.Changed {
		t.Fatalf("second apply must be a no-op, got %+v err=%v", again, err)
	}
}

func TestApplyDeviceUnknownProperty(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	srv.AddDevice(plcfake.Record{"device_name": "press", "device_protocol": "TCP"})

	d := resource.Desired{Kind: "device", Name: "press", State: resource.StatePresent, Properties: resource.Properties{"device_prot": "RTU"}}
	if _, err := newEngine(srv, nil).Apply(context.Background(), d); !errors.Is(err, resource.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if m := srv.Mutations(); len(m) != 0 {
		t.Fatalf("expected no mutations, got %v", m)
	}
}

func TestApplyUserCreateAndDelete(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	e := newEngine(srv, nil)

	d := resource.Desired{Kind: "user", Name: "ada", State: resource.StatePresent, Properties: resource.Properties{
		"full_name":     "Ada Lovelace",
		"user_email":    "ada@plc",
		"user_password": "engine",
	}}
	res, err := e.Apply(context.Background(), d)
	if err != nil || !res.Changed || res.Action.Kind != Create {
		t.Fatalf("expected create, got %+v err=%v", res, err)
	}
	users := srv.Users()
	if len(users) != 1 || users[0]["user_name"] != "ada" || users[0]["full_name"] != "Ada Lovelace" {
		t.Fatalf("unexpected users %v", users)
	}

	res, err = e.Apply(context.Background(), resource.Desired{Kind: "user", Name: "ada", State: resource.StateAbsent})
	if err != nil || !res.Changed || res.Action.Kind != Delete {
		t.Fatalf("expected delete, got %+v err=%v", res, err)
	}
	if len(srv.Users()) != 0 {
		t.Fatalf("user must be deleted")
	}
}

func TestApplyHardwareReadsCodeFile(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	code := writeSource(t, "psm.py", "def update_inputs():\n    pass\n")

	d := resource.Desired{Kind: "hardware", State: resource.StatePresent, Properties: resource.Properties{
		"hardware_layer":    "psm_linux",
		"custom_layer_code": code,
	}}
	res, err := newEngine(srv, nil).Apply(context.Background(), d)
	if err != nil || !res.Changed {
		t.Fatalf("expected change, got %+v err=%v", res, err)
	}
	hw := srv.Hardware()
	if hw["hardware_layer"] != "psm_linux" || hw["custom_layer_code"] != "def update_inputs():\n    pass\n" {
		t.Fatalf("unexpected hardware %v", hw)
	}

	again, err := newEngine(srv, nil).Apply(context.Background(), d)
	if err != nil || again.Changed {
		t.Fatalf("second apply must be a no-op, got %+v err=%v", again, err)
	}
}

func TestApplyPropagatesRemoteError(t *testing.T) {
	testlog.Start(t)
	srv := plcfake.New(t)
	srv.DatabaseError("users")

	_, err := newEngine(srv, nil).Apply(context.Background(), resource.Desired{Kind: "user", Name: "ada", State: resource.StateAbsent})
	if !errors.Is(err, controller.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestApplyValidatesBeforeDialing(t *testing.T) {
	testlog.Start(t)
	dialed := false
	e := &Engine{
		Kinds: resource.OpenPLC(),
		Dial: func(context.Context) (mutate.Console, error) {
			dialed = true
			return nil, errors.New("unreachable")
		},
	}
	if _, err := e.Apply(context.Background(), resource.Desired{Kind: "program", Name: "p", State: resource.StatePresent}); !errors.Is(err, resource.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := e.Apply(context.Background(), resource.Desired{Kind: "plc", Name: "p"}); !errors.Is(err, resource.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if dialed {
		t.Fatalf("invalid records must fail before any remote call")
	}
}
