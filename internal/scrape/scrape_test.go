package scrape

import (
	"errors"
	"regexp"
	"testing"

	"github.com/danmuck/plcctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

const programsPage = `<html><body>
<table>
  <tr style="background-color: white"><th>Program Name</th><th>File</th><th>Date Uploaded</th></tr>
  <tr onclick="document.location='reload-program?table_id=7'"><td>conveyor</td><td>482.st</td><td>Oct 01, 2026</td></tr>
  <tr onclick="document.location='reload-program?table_id=9'"><td>mixer</td><td>  5120.st </td><td>Oct 02, 2026</td></tr>
  <tr><td colspan="3">List all programs</td></tr>
</table>
</body></html>`

func TestRowsKeepsIDAndCellsTogether(t *testing.T) {
	testlog.Start(t)
	rows, err := Rows(programsPage)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	want := []Row{
		{ID: "7", Cells: []string{"conveyor", "482.st", "Oct 01, 2026"}},
		{ID: "9", Cells: []string{"mixer", "5120.st", "Oct 02, 2026"}},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestScrapeIndexByColumn(t *testing.T) {
	testlog.Start(t)
	byName, err := ScrapeIndex(programsPage, 0)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if diff := cmp.Diff(Index{"conveyor": "7", "mixer": "9"}, byName); diff != "" {
		t.Fatalf("name index mismatch (-want +got):\n%s", diff)
	}

	byFile, err := ScrapeIndex(programsPage, 1)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if diff := cmp.Diff(Index{"482.st": "7", "5120.st": "9"}, byFile); diff != "" {
		t.Fatalf("file index mismatch (-want +got):\n%s", diff)
	}
}

func TestScrapeIndexBareRowFragment(t *testing.T) {
	testlog.Start(t)
	body := `<tr><th>ID</th><th>Name</th></tr>` +
		`<tr onclick="document.location='user-info?table_id='7''"><td>1</td><td>clientA</td></tr>`
	idx, err := ScrapeIndex(body, 1)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if diff := cmp.Diff(Index{"clientA": "7"}, idx); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestScrapeIndexSkipsShortRows(t *testing.T) {
	testlog.Start(t)
	idx, err := ScrapeIndex(programsPage, 5)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(idx) != 0 {
		t.Fatalf("expected empty index, got %v", idx)
	}
}

const devicePage = `<html><head></head><body>
<form action="modbus-edit-device" method="post">
  <input type='hidden' value='3' id='db_dev_id' name='db_dev_id'/>
  <input type='text' id='dev_name' name='device_name' value='press'>
  <input type='text' id='dev_ip' name='device_ip' value='10.0.0.9'>
  <input type='submit' value='Save device'>
  <select id='dev_protocol' name='device_protocol'>
    <option value='Uno'>Arduino Uno</option>
    <option selected='selected' value='TCP'>Generic TCP</option>
    <option value='RTU'>Generic RTU</option>
  </select>
  <textarea name='notes'>line one</textarea>
</form>
<script>
function setup(){;devid.value = '3';devname.value = 'old-name';distart.value = '0';coilsize.value = '8';devprotocol.value = 'ESP32';}
</script>
</body></html>`

var deviceRules = DetailRules{
	ScriptAnchor: "devid.value",
	Renames: []RenameRule{
		{Old: "dev", New: "device_"},
		{Old: "start", New: "_start"},
		{Old: "size", New: "_size"},
	},
	SelectedProperty: "device_protocol",
	AlwaysPresent:    []string{"device_pause"},
}

func TestScrapeDetailPassOrder(t *testing.T) {
	testlog.Start(t)
	rec, err := ScrapeDetail(devicePage, deviceRules)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	want := Record{
		"device_id":       "3",
		"device_name":     "press",
		"di_start":        "0",
		"coil_size":       "8",
		"device_protocol": "TCP",
		"db_dev_id":       "3",
		"device_ip":       "10.0.0.9",
		"notes":           "line one",
		"device_pause":    "",
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestScrapeDetailMissingSelectedOption(t *testing.T) {
	testlog.Start(t)
	_, err := ScrapeDetail(`<form><input name='a' value='b'></form>`, DetailRules{SelectedProperty: "hardware_layer"})
	if !errors.Is(err, ErrScrape) {
		t.Fatalf("expected ErrScrape, got %v", err)
	}
}

func TestScrapeDetailAlwaysPresentDoesNotOverwrite(t *testing.T) {
	testlog.Start(t)
	rec, err := ScrapeDetail(`<input name='user_name' value='ada'>`, DetailRules{AlwaysPresent: []string{"user_name", "file"}})
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if rec["user_name"] != "ada" || rec["file"] != "" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["file"]; !ok {
		t.Fatalf("expected seeded file property")
	}
}

func TestScrapeToken(t *testing.T) {
	testlog.Start(t)
	tok, err := ScrapeToken(`<input type='hidden' value='482.st' name='prog_file'>`, nil)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok != "482.st" {
		t.Fatalf("unexpected token %q", tok)
	}

	custom := regexp.MustCompile(`file=(\w+\.st)`)
	tok, err = ScrapeToken(`compile-program?file=abc.st`, custom)
	if err != nil || tok != "abc.st" {
		t.Fatalf("unexpected token %q err=%v", tok, err)
	}

	_, err = ScrapeToken(`<p>upload failed</p>`, nil)
	var se *ScrapeError
	if !errors.As(err, &se) || !errors.Is(err, ErrScrape) {
		t.Fatalf("expected ScrapeError, got %v", err)
	}
}

func TestContainsAny(t *testing.T) {
	m, ok := ContainsAny("Compilation finished with errors!", "successfully", "with errors")
	if !ok || m != "with errors" {
		t.Fatalf("unexpected match %q ok=%v", m, ok)
	}
	if _, ok := ContainsAny("compiling...", "", "done"); ok {
		t.Fatalf("expected no match")
	}
}
