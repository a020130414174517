package archive

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestS3Store_PutGetList(t *testing.T) {
	s := NewMockS3ForTests()
	if s.Driver() != DriverS3 {
		t.Fatalf("driver = %s", s.Driver())
	}
	ctx := context.Background()

	body := `{"library_version":3}`
	info, err := s.Put(ctx, "audit/20260828T000000Z.json", strings.NewReader(body), PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(body)) || info.ContentType != "application/json" {
		t.Fatalf("unexpected put info: %+v", info)
	}

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

	removed, err := s.Delete(ctx, "other/export.json")
	if err != nil || !removed {
		t.Fatalf("delete: %v removed=%v", err, removed)
	}
	if _, err := s.Head(ctx, "other/export.json"); err == nil {
		t.Fatalf("deleted object must be gone")
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Config{Region: "us-east-1"}); err == nil {
		t.Fatalf("missing bucket must error")
	}
}
