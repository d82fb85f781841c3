package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func testClient(srv *httptest.Server) *Client {
	return NewClient(
		WithHTTPClient(srv.Client()),
		WithBaseDelay(time.Millisecond),
	)
}

func TestClose(t *testing.T) {
	c := NewClient()
	c.Close()
	// A second Close must not panic.
	c.Close()
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := testClient(srv)
	body, err := c.Get(context.Background(), srv.URL+"/file")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(body) != "payload" {
		t.Errorf("body = %q", body)
	}
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := testClient(srv)
	_, err := c.Get(context.Background(), srv.URL+"/absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	c := testClient(srv)
	body, err := c.Get(context.Background(), srv.URL+"/flaky")
	if err != nil {
		t.Fatalf("Get should survive transient errors: %v", err)
	}
	if string(body) != "recovered" || calls != 3 {
		t.Errorf("body = %q after %d calls", body, calls)
	}
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(srv)
	if _, err := c.Get(context.Background(), srv.URL+"/x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Errorf("404 was retried %d times", calls)
	}
}

func TestHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Length", "42")
		w.Header().Set("ETag", `"abc"`)
	}))
	defer srv.Close()

	c := testClient(srv)
	size, etag, err := c.Head(context.Background(), srv.URL+"/file")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if size != 42 || etag != `"abc"` {
		t.Errorf("size = %d, etag = %q", size, etag)
	}
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstded(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zstd: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func TestFetchIndexPrefersCompressed(t *testing.T) {
	packages := []byte("Package: hello\nVersion: 1.0\nArchitecture: amd64\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dists/stable/main/binary-amd64/Packages.gz":
			w.Write(gzipped(t, packages))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	repo := Repo{BaseURL: srv.URL, Suite: "stable"}
	c := testClient(srv)

	ix, err := FetchIndex(context.Background(), c, repo, nil, "main/binary-amd64/Packages")
	if err != nil {
		t.Fatalf("FetchIndex failed: %v", err)
	}
	if !bytes.Equal(ix.Body, packages) {
		t.Errorf("body not decompressed: %q", ix.Body)
	}
	if ix.Path != "main/binary-amd64/Packages" {
		t.Errorf("path = %q", ix.Path)
	}
}

func TestFetchIndexZstdVariant(t *testing.T) {
	packages := []byte("Package: hello\nVersion: 1.0\nArchitecture: amd64\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dists/stable/main/binary-amd64/Packages.zst":
			w.Write(zstded(t, packages))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	repo := Repo{BaseURL: srv.URL, Suite: "stable"}
	c := testClient(srv)

	ix, err := FetchIndex(context.Background(), c, repo, nil, "main/binary-amd64/Packages")
	if err != nil {
		t.Fatalf("FetchIndex failed: %v", err)
	}
	if !bytes.Equal(ix.Body, packages) {
		t.Errorf("body not decompressed: %q", ix.Body)
	}
}

func TestFetchIndexFallsBackToPlain(t *testing.T) {
	packages := []byte("Package: hello\nVersion: 1.0\nArchitecture: amd64\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dists/stable/main/binary-amd64/Packages" {
			w.Write(packages)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	repo := Repo{BaseURL: srv.URL, Suite: "stable"}
	c := testClient(srv)

	ix, err := FetchIndex(context.Background(), c, repo, nil, "main/binary-amd64/Packages")
	if err != nil {
		t.Fatalf("FetchIndex failed: %v", err)
	}
	if !bytes.Equal(ix.Body, packages) {
		t.Errorf("body = %q", ix.Body)
	}
}

func TestFetchIndexAllVariantsMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	repo := Repo{BaseURL: srv.URL, Suite: "stable"}
	c := testClient(srv)

	_, err := FetchIndex(context.Background(), c, repo, nil, "main/binary-amd64/Packages")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchIndexChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dists/stable/main/binary-amd64/Packages" {
			w.Write([]byte("tampered content"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	release, err := ParseRelease([]byte(
		"Suite: stable\nSHA256:\n 0000000000000000000000000000000000000000000000000000000000000000 16 main/binary-amd64/Packages\n"),
		"Release")
	if err != nil {
		t.Fatalf("ParseRelease failed: %v", err)
	}

	repo := Repo{BaseURL: srv.URL, Suite: "stable"}
	c := testClient(srv)

	if _, err := FetchIndex(context.Background(), c, repo, release, "main/binary-amd64/Packages"); err == nil {
		t.Error("checksum mismatch should fail the fetch")
	}
}

func TestDecompressVariants(t *testing.T) {
	plain := []byte("Package: hello\n")

	got, err := Decompress("Packages", plain)
	if err != nil || !bytes.Equal(got, plain) {
		t.Errorf("plain passthrough: %v %q", err, got)
	}

	got, err = Decompress("Packages.gz", gzipped(t, plain))
	if err != nil || !bytes.Equal(got, plain) {
		t.Errorf("gzip: %v %q", err, got)
	}

	if _, err := Decompress("Packages.gz", []byte("not gzip")); err == nil {
		t.Error("corrupt gzip should fail")
	}
}
