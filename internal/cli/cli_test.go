package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"patina/internal/analysis"
	"patina/internal/image"
	"patina/internal/store"
	"patina/internal/synth"

	"gocv.io/x/gocv"
)

func writePNG(t *testing.T, dir, name string, m gocv.Mat) string {
	t.Helper()
	defer m.Close()
	data, err := image.EncodePNG(m)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), append([]string{"--log-mode", "quiet"}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func setup(t *testing.T) (origin, compared string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PATINA_STORE_PATH", filepath.Join(dir, "history.db"))

	scene := synth.Scene(240, 180, 8)
	rotated := synth.RotateScale(scene, 5, 1.0)
	return writePNG(t, dir, "origin.png", scene), writePNG(t, dir, "compared.png", rotated)
}

func TestCompareJSON(t *testing.T) {
	origin, compared := setup(t)

	out, errOut, code := run(t, "compare", origin, compared, "--json")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var rec store.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("output is not a record: %v\n%s", err, out)
	}
	if rec.State != analysis.StateCompleted || rec.Result == nil {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.OriginSource != origin || rec.ComparedSource != compared {
		t.Errorf("sources not recorded: %q %q", rec.OriginSource, rec.ComparedSource)
	}
}

func TestCompareSaveHistoryShow(t *testing.T) {
	origin, compared := setup(t)
	diag := filepath.Join(t.TempDir(), "diag")

	out, errOut, code := run(t, "compare", origin, compared, "--save", "--diagnostics-dir", diag, "--seed", "7")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "state:") || !strings.Contains(out, "completed") {
		t.Errorf("summary missing state:\n%s", out)
	}
	var id string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "id:") {
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		}
	}
	if id == "" {
		t.Fatalf("saved summary has no id:\n%s", out)
	}
	for _, name := range []string{"origin_keypoints.png", "compared_keypoints.png", "aligned_overlay.png"} {
		if _, err := os.Stat(filepath.Join(diag, name)); err != nil {
			t.Errorf("diagnostic %s: %v", name, err)
		}
	}

	out, errOut, code = run(t, "history")
	if code != 0 {
		t.Fatalf("history exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, id) {
		t.Errorf("history does not list %s:\n%s", id, out)
	}

	out, errOut, code = run(t, "show", id)
	if code != 0 {
		t.Fatalf("show exit %d: %s", code, errOut)
	}
	var rec store.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID != id || rec.Result == nil {
		t.Errorf("show returned %+v", rec)
	}
}

func TestRunValidatesArguments(t *testing.T) {
	setup(t)
	tests := [][]string{
		{"compare", "only-one"},
		{"compare", "a.png", "b.png", "--ratio", "2"},
		{"show"},
		{"show", "missing-id"},
		{"bogus"},
	}
	for _, args := range tests {
		if _, _, code := run(t, args...); code == 0 {
			t.Errorf("%v: expected a non-zero exit", args)
		}
	}
}

func TestCompareMissingFile(t *testing.T) {
	origin, _ := setup(t)
	_, errOut, code := run(t, "compare", origin, "/no/such/photo.png")
	if code == 0 {
		t.Fatal("expected failure")
	}
	if !strings.Contains(errOut, "compare") {
		t.Errorf("error should name the operation: %s", errOut)
	}
}

func TestVersion(t *testing.T) {
	out, _, code := run(t, "version")
	if code != 0 || !strings.HasPrefix(out, "patina ") {
		t.Errorf("version printed %q (exit %d)", out, code)
	}
}
