package attachments

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/pysugar/gemini-relay/internal/proxy/mappers"
)

func TestFromBase64_DataURI(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)

	path, err := FromBase64(uri)
	if err != nil {
		t.Fatalf("FromBase64 failed: %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("temp file unreadable: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("decoded content mismatch")
	}
}

func TestFromBase64_Invalid(t *testing.T) {
	if _, err := FromBase64("data:image/png;base64,!!!not-base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote-image-bytes"))
	}))
	defer srv.Close()

	path, err := FromURL(context.Background(), srv.URL+"/cat.png")
	if err != nil {
		t.Fatalf("FromURL failed: %v", err)
	}
	defer os.Remove(path)

	data, _ := os.ReadFile(path)
	if string(data) != "remote-image-bytes" {
		t.Error("downloaded content mismatch")
	}
}

func TestFromURL_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := FromURL(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("expected error for non-200 download")
	}
}

func TestMaterialize_CleansUpOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	good := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("ok"))
	parts := []mappers.ImagePart{
		{URL: good},
		{URL: srv.URL + "/broken.png"},
	}

	paths, err := Materialize(context.Background(), parts)
	if err == nil {
		Cleanup(paths)
		t.Fatal("expected materialization failure")
	}
	if paths != nil {
		t.Errorf("paths should be nil on failure, got %v", paths)
	}
}

func TestMaterialize_SkipsUnrecognizedRefs(t *testing.T) {
	paths, err := Materialize(context.Background(), []mappers.ImagePart{{URL: "ftp://nope/img.png"}})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if len(paths) != 0 {
		Cleanup(paths)
		t.Errorf("unrecognized ref produced files: %v", paths)
	}
}

func TestCleanup_RemovesAll(t *testing.T) {
	p1, err := FromBase64(base64.StdEncoding.EncodeToString([]byte("a")))
	if err != nil {
		t.Fatalf("FromBase64 failed: %v", err)
	}
	p2, err := FromBase64(base64.StdEncoding.EncodeToString([]byte("b")))
	if err != nil {
		t.Fatalf("FromBase64 failed: %v", err)
	}

	Cleanup([]string{p1, p2})

	for _, p := range []string{p1, p2} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("temp file %s survived cleanup", p)
		}
	}
}
