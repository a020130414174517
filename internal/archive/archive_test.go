package archive

import (
	"context"
	"io"
	"strings"
	"testing"
)

// runStoreConformance exercises the behavior every backend shares.
func runStoreConformance(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	body := `{"library_version":7}`
	info, err := s.Put(ctx, "audit/20260828T000000Z.json", strings.NewReader(body), PutOptions{
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "audit/20260828T000000Z.json" || info.Size != int64(len(body)) {
		t.Fatalf("unexpected put info: %+v", info)
	}

	// Exports are immutable.
	if _, err := s.Put(ctx, "audit/20260828T000000Z.json", strings.NewReader("other"), PutOptions{}); err == nil {
		t.Fatalf("duplicate put must fail")
	}

	got, rc, err := s.Get(ctx, "audit/20260828T000000Z.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(data) != body {
		t.Fatalf("get returned %q err=%v", data, err)
	}
	if got.Size != int64(len(body)) {
		t.Fatalf("get info size %d", got.Size)
	}

	head, err := s.Head(ctx, "audit/20260828T000000Z.json")
	if err != nil || head.Size != int64(len(body)) {
		t.Fatalf("head: %v %+v", err, head)
	}
	if _, err := s.Head(ctx, "audit/absent.json"); err == nil {
		t.Fatalf("head of missing key must fail")
	}

	if _, err := s.Put(ctx, "other/export.json", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	infos, err := s.List(ctx, "audit/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "audit/20260828T000000Z.json" {
		t.Fatalf("prefix list failed: %+v", infos)
	}
	all, err := s.List(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("full list failed: %v %+v", err, all)
	}

	removed, err := s.Delete(ctx, "other/export.json")
	if err != nil || !removed {
		t.Fatalf("delete: %v removed=%v", err, removed)
	}
	removed, err = s.Delete(ctx, "other/export.json")
	if err != nil || removed {
		t.Fatalf("repeat delete must report not found: %v %v", err, removed)
	}
}

func TestFilesystemStore(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s", s.Driver())
	}
	runStoreConformance(t, s)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	if s.Driver() != DriverMemory {
		t.Fatalf("driver = %s", s.Driver())
	}
	runStoreConformance(t, s)
}

func TestFilesystem_RejectsUnsafeKeys(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"", "  ", "../escape", "a/../../b", "/abs/path"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("key %q must be rejected", key)
		}
	}
}

func TestFilesystem_MetadataRoundTrip(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := s.Put(ctx, "audit/a.json", strings.NewReader("{}"), PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"library-version": "7"},
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := s.Head(ctx, "audit/a.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.ContentType != "application/json" || info.Metadata["library-version"] != "7" {
		t.Fatalf("metadata lost: %+v", info)
	}
	if info.ETag == "" {
		t.Fatalf("etag must be recorded")
	}
}

func TestOpen_SelectsDriver(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, "bogus", Options{}); err == nil {
		t.Fatalf("unknown driver must error")
	}
	s, err := Open(ctx, "", Options{Root: t.TempDir()})
	if err != nil || s.Driver() != DriverFilesystem {
		t.Fatalf("empty driver must default to fs: %v", err)
	}
	m, err := Open(ctx, DriverMemory, Options{})
	if err != nil || m.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v", err)
	}
}
