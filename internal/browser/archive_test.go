package browser

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestTarGzRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "Default", "Cache"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"Default/Cookies":     "cookie-db-bytes",
		"Default/Cache/entry": "cached",
		"Local State":         `{"profile":{}}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, filepath.FromSlash(name)), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	archive := filepath.Join(t.TempDir(), "profile.tar.gz")
	if err := createTarGz(src, archive); err != nil {
		t.Fatalf("createTarGz failed: %v", err)
	}

	dst := t.TempDir()
	if err := extractTarGz(archive, dst); err != nil {
		t.Fatalf("extractTarGz failed: %v", err)
	}

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("missing restored file %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("restored %s = %q, want %q", name, got, want)
		}
	}
}

func TestExtractTarGz_RejectsEscapingEntries(t *testing.T) {
	// An archive whose entry name climbs out of the target directory must
	// be rejected, not written.
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")

	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	content := []byte("pwned")
	if err := tw.WriteHeader(&tar.Header{
		Name:     "../escape",
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gw.Close()
	f.Close()

	dst := filepath.Join(dir, "inner")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := extractTarGz(archive, dst); err == nil {
		t.Fatal("extractTarGz accepted an escaping entry")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape")); err == nil {
		t.Fatal("escaping entry was written outside the target directory")
	}
}

func TestZipFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "trace.jsonl")
	if err := os.WriteFile(src, []byte(`{"kind":"request"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "trace.zip")
	if err := zipFile(src, dst); err != nil {
		t.Fatalf("zipFile failed: %v", err)
	}

	r, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer r.Close()

	if len(r.File) != 1 || r.File[0].Name != "trace.jsonl" {
		t.Fatalf("unexpected zip contents: %+v", r.File)
	}
}
