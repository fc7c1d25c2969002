package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"html2epub/utils"
)

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	gifBytes = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\xff\xff\xff\x00\x00\x00!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")
)

func newTestResolver(t *testing.T, timeout time.Duration) *Resolver {
	t.Helper()
	client := utils.NewRestyClient(utils.RestyOptions{Timeout: timeout})
	return New(client, zaptest.NewLogger(t))
}

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/img/pic.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	})
	mux.HandleFunc("/img/noext", func(w http.ResponseWriter, r *http.Request) {
		w.Write(gifBytes)
	})
	mux.HandleFunc("/img/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>not an image</body></html>"))
	})
	mux.HandleFunc("/img/empty.png", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/img/ua", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != utils.DefaultUserAgent {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Write(pngBytes)
	})
	mux.HandleFunc("/img/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Write(pngBytes)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_RemoteWithSuffix(t *testing.T) {
	srv := newImageServer(t)
	r := newTestResolver(t, 5*time.Second)
	dir := t.TempDir()

	res, err := r.Resolve(context.Background(), srv.URL+"/img/pic.png?size=large", dir, "cover")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Type != "png" || res.Name != "cover" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Path != filepath.Join(dir, "cover.png") {
		t.Fatalf("unexpected path %s", res.Path)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(pngBytes) {
		t.Fatal("written bytes differ from served bytes")
	}
}

func TestResolve_RemoteSniffed(t *testing.T) {
	srv := newImageServer(t)
	r := newTestResolver(t, 5*time.Second)

	res, err := r.Resolve(context.Background(), srv.URL+"/img/noext", t.TempDir(), "x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Type != "gif" {
		t.Fatalf("type = %s, want gif", res.Type)
	}
}

func TestResolve_SendsBrowserUserAgent(t *testing.T) {
	srv := newImageServer(t)
	r := newTestResolver(t, 5*time.Second)
	if _, err := r.Resolve(context.Background(), srv.URL+"/img/ua", t.TempDir(), ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestResolve_DefaultNameIsUnique(t *testing.T) {
	srv := newImageServer(t)
	r := newTestResolver(t, 5*time.Second)
	dir := t.TempDir()

	a, err := r.Resolve(context.Background(), srv.URL+"/img/pic.png", dir, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(context.Background(), srv.URL+"/img/pic.png", dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Name == "" || a.Name == b.Name {
		t.Fatalf("expected distinct generated names, got %q and %q", a.Name, b.Name)
	}
	if len(a.Name) != 36 {
		t.Errorf("expected uuid name, got %q", a.Name)
	}
}

func TestResolve_Unresolvable(t *testing.T) {
	srv := newImageServer(t)
	r := newTestResolver(t, 200*time.Millisecond)

	tests := []struct {
		name string
		ref  string
	}{
		{"not found", srv.URL + "/img/missing.png"},
		{"empty body", srv.URL + "/img/empty.png"},
		{"not an image", srv.URL + "/img/page"},
		{"timeout", srv.URL + "/img/slow.png"},
		{"unsupported scheme", "ftp://example.com/a.png"},
		{"missing local file", filepath.Join(t.TempDir(), "nope.png")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := r.Resolve(context.Background(), tt.ref, dir, "img")
			if !errors.Is(err, ErrUnresolvableImage) {
				t.Fatalf("expected ErrUnresolvableImage, got %v", err)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("expected no files written, got %d", len(entries))
			}
		})
	}
}

func TestResolve_LocalFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "local.png")
	if err := os.WriteFile(src, pngBytes, 0644); err != nil {
		t.Fatal(err)
	}
	r := newTestResolver(t, time.Second)

	for _, ref := range []string{src, "file://" + filepath.ToSlash(src)} {
		res, err := r.Resolve(context.Background(), ref, t.TempDir(), "copy")
		if err != nil {
			t.Fatalf("Resolve(%s): %v", ref, err)
		}
		if res.Type != "png" {
			t.Errorf("type = %s", res.Type)
		}
		data, err := os.ReadFile(res.Path)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != string(pngBytes) {
			t.Error("copy differs from source")
		}
	}
}

func TestResolve_LocalFileNotAURL(t *testing.T) {
	dir := t.TempDir()
	r := newTestResolver(t, time.Second)

	for _, name := range []string{"100%.png", "cover#1.png"} {
		src := filepath.Join(dir, name)
		if err := os.WriteFile(src, pngBytes, 0644); err != nil {
			t.Fatal(err)
		}
		res, err := r.Resolve(context.Background(), src, t.TempDir(), "")
		if err != nil {
			t.Fatalf("Resolve(%s): %v", src, err)
		}
		if res.Type != "png" {
			t.Errorf("type = %s", res.Type)
		}
	}
}

func TestResolve_DataURL(t *testing.T) {
	r := newTestResolver(t, time.Second)
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	res, err := r.Resolve(context.Background(), ref, t.TempDir(), "inline")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Type != "png" {
		t.Fatalf("type = %s", res.Type)
	}
}

func TestResolve_MissingDestination(t *testing.T) {
	r := newTestResolver(t, time.Second)
	_, err := r.Resolve(context.Background(), "whatever.png", filepath.Join(t.TempDir(), "images"), "")
	if !errors.Is(err, ErrNoImageDir) {
		t.Fatalf("expected ErrNoImageDir, got %v", err)
	}
}

func TestTypeFromSuffix(t *testing.T) {
	tests := map[string]string{
		"http://a/b/c.JPG":          "jpg",
		"http://a/b/c.jpeg?x=1":     "jpeg",
		"images/c.gif":              "gif",
		"c.png#frag":                "png",
		"http://a/b/c.webp":         "",
		"http://a/b/c":              "",
		"data:image/png;base64,AAA": "",
		"images/100%.png":           "png",
		`C:\book\c.gif`:             "gif",
	}
	for in, want := range tests {
		if got := TypeFromSuffix(in); got != want {
			t.Errorf("TypeFromSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}
