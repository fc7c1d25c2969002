package epub

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"html2epub/chapter"
	"html2epub/model"
	"html2epub/utils"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func newEpub(t *testing.T, title string, mutate ...func(*Config)) *Epub {
	t.Helper()
	cfg := Config{
		Metadata: model.Metadata{Title: title},
		Dir:      filepath.Join(t.TempDir(), "work"),
		Logger:   zaptest.NewLogger(t),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func newChapter(t *testing.T, title, body string) *chapter.Chapter {
	t.Helper()
	c, err := chapter.FromString("<html><head><title>"+title+"</title></head><body>"+body+"</body></html>", "", title)
	if err != nil {
		t.Fatalf("failed to create chapter: %v", err)
	}
	return c
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer r.Close()

	if len(r.File) == 0 || r.File[0].Name != utils.MimetypeName || r.File[0].Method != zip.Store {
		t.Fatalf("mimetype must be the first stored entry")
	}
	files := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		files[f.Name] = string(data)
	}
	return files
}

func TestNew(t *testing.T) {
	if _, err := New(Config{Metadata: model.Metadata{Title: "  "}}); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}

	e, err := New(Config{Metadata: model.Metadata{Title: "Temp Book"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Cleanup()

	if !regexp.MustCompile(`^[A-Z0-9]{12}$`).MatchString(e.UID()) {
		t.Errorf("unexpected uid %q", e.UID())
	}
	meta := e.Metadata()
	if meta.Creator != DefaultCreator || meta.Language != DefaultLanguage || meta.Date == "" {
		t.Errorf("defaults not applied: %+v", meta)
	}
	for _, d := range []string{MetaInfDir, OEBPSDir, filepath.Join(OEBPSDir, chapter.ImagesDir)} {
		if info, err := os.Stat(filepath.Join(e.Dir(), d)); err != nil || !info.IsDir() {
			t.Errorf("missing directory %s", d)
		}
	}

	if err := e.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(e.Dir()); !os.IsNotExist(err) {
		t.Fatalf("working directory not removed")
	}
}

func TestAddChapter_Indices(t *testing.T) {
	e := newEpub(t, "Indices")
	ctx := context.Background()

	for i, title := range []string{"A", "B"} {
		index, err := e.AddChapter(ctx, newChapter(t, title, "<p>"+title+"</p>"))
		if err != nil {
			t.Fatalf("AddChapter: %v", err)
		}
		if index != i {
			t.Fatalf("expected index %d, got %d", i, index)
		}
	}

	if _, err := e.AddChapter(ctx, nil); !errors.Is(err, ErrInvalidChapter) {
		t.Fatalf("expected ErrInvalidChapter, got %v", err)
	}

	index, err := e.AddChapter(ctx, newChapter(t, "C", "<p>C</p>"))
	if err != nil {
		t.Fatalf("AddChapter: %v", err)
	}
	if index != 2 {
		t.Fatalf("rejected chapter advanced the index: got %d", index)
	}
	if len(e.Chapters()) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(e.Chapters()))
	}
	for i := range 3 {
		if _, err := os.Stat(filepath.Join(e.Dir(), OEBPSDir, ChapterFile(i))); err != nil {
			t.Errorf("chapter file %d missing: %v", i, err)
		}
	}
}

func TestAddChapter_SkeletonMissing(t *testing.T) {
	e := newEpub(t, "Broken")
	if err := os.RemoveAll(filepath.Join(e.Dir(), OEBPSDir, chapter.ImagesDir)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddChapter(context.Background(), newChapter(t, "A", "<p>A</p>")); !errors.Is(err, ErrSkeletonMissing) {
		t.Fatalf("expected ErrSkeletonMissing, got %v", err)
	}
	if _, err := e.Finalize(context.Background(), t.TempDir(), ""); !errors.Is(err, ErrSkeletonMissing) {
		t.Fatalf("expected ErrSkeletonMissing, got %v", err)
	}
}

func TestFinalize(t *testing.T) {
	e := newEpub(t, "Three Chapters")
	ctx := context.Background()

	image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	for _, title := range []string{"A", "B", "C"} {
		body := "<p>" + title + "</p>"
		if title == "B" {
			body += `<img src="` + image + `"/>`
		}
		if _, err := e.AddChapter(ctx, newChapter(t, title, body)); err != nil {
			t.Fatalf("AddChapter: %v", err)
		}
	}

	out := t.TempDir()
	path, err := e.Finalize(ctx, out, "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if path != filepath.Join(out, "Three Chapters.epub") {
		t.Fatalf("unexpected path %q", path)
	}
	if _, err := os.Stat(filepath.Join(out, "Three Chapters.zip")); !os.IsNotExist(err) {
		t.Fatalf("intermediate zip left behind")
	}

	files := readArchive(t, path)
	if files[utils.MimetypeName] != utils.MimetypeContent {
		t.Fatalf("unexpected mimetype %q", files[utils.MimetypeName])
	}
	for _, name := range []string{
		"META-INF/container.xml",
		"OEBPS/0.xhtml", "OEBPS/1.xhtml", "OEBPS/2.xhtml",
		"OEBPS/toc.html", "OEBPS/toc.ncx", "OEBPS/content.opf",
	} {
		if _, ok := files[name]; !ok {
			t.Errorf("archive missing %s", name)
		}
	}

	toc := files["OEBPS/toc.html"]
	a := strings.Index(toc, `<a href="0.xhtml">A</a>`)
	b := strings.Index(toc, `<a href="1.xhtml">B</a>`)
	c := strings.Index(toc, `<a href="2.xhtml">C</a>`)
	if a < 0 || b < a || c < b {
		t.Fatalf("toc.html links wrong:\n%s", toc)
	}

	images := e.Chapters()[1].Images()
	if len(images) != 1 {
		t.Fatalf("expected one image in chapter B, got %d", len(images))
	}
	if _, ok := files["OEBPS/"+images[0].Link]; !ok {
		t.Errorf("image %s not archived", images[0].Link)
	}
	if !strings.Contains(files["OEBPS/content.opf"], `href="`+images[0].Link+`" media-type="image/png"`) {
		t.Errorf("image missing from content.opf:\n%s", files["OEBPS/content.opf"])
	}
	if !strings.Contains(files["OEBPS/toc.ncx"], e.UID()) {
		t.Errorf("uid missing from toc.ncx")
	}

	if _, err := e.Finalize(ctx, out, ""); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if _, err := e.AddChapter(ctx, newChapter(t, "D", "<p>D</p>")); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

func TestFinalize_Empty(t *testing.T) {
	e := newEpub(t, "Empty", func(c *Config) { c.FixZip = true })
	path, err := e.Finalize(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	files := readArchive(t, path)
	for _, name := range []string{"META-INF/container.xml", "OEBPS/toc.html", "OEBPS/toc.ncx", "OEBPS/content.opf"} {
		if _, ok := files[name]; !ok {
			t.Errorf("archive missing %s", name)
		}
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Flags&0x8 != 0 {
			t.Errorf("%s still has a data descriptor", f.Name)
		}
	}
}

func TestFinalize_OutputName(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		request  string
		translit bool
		want     string
	}{
		{"requested", "Title", "My: Book/1?", false, "My Book1"},
		{"title fallback", "Fallback Title", "", false, "Fallback Title"},
		{"trailing spaces", "Title", "Name  !!", false, "Name"},
		{"transliterate", "Crème Brûlée", "", true, "creme brulee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEpub(t, tt.title, func(c *Config) { c.Transliterate = tt.translit })
			out := t.TempDir()
			path, err := e.Finalize(context.Background(), out, tt.request)
			if err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if path != filepath.Join(out, tt.want+".epub") {
				t.Fatalf("got %q, want %q", filepath.Base(path), tt.want+".epub")
			}
		})
	}

	e := newEpub(t, "???")
	path, err := e.Finalize(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if filepath.Base(path) != e.UID()+".epub" {
		t.Fatalf("expected uid fallback, got %q", filepath.Base(path))
	}
}

func TestFinalize_OverwritesExisting(t *testing.T) {
	out := t.TempDir()
	stale := filepath.Join(out, "Book.epub")
	if err := os.WriteFile(stale, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "Book.zip"), []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	e := newEpub(t, "Book")
	path, err := e.Finalize(context.Background(), out, "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	files := readArchive(t, path)
	if files[utils.MimetypeName] != utils.MimetypeContent {
		t.Fatalf("stale file not replaced")
	}
}

func TestFinalize_OutputNotWritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	e := newEpub(t, "Book")
	_, err := e.Finalize(context.Background(), filepath.Join(blocker, "out"), "")
	if !errors.Is(err, ErrOutputNotWritable) {
		t.Fatalf("expected ErrOutputNotWritable, got %v", err)
	}

	// 失败后仍可以重新 Finalize
	if _, err := e.Finalize(context.Background(), t.TempDir(), ""); err != nil {
		t.Fatalf("Finalize after failure: %v", err)
	}
}

func TestNew_WorkDirMustBeEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, OEBPSDir), 0755); err != nil {
		t.Fatal(err)
	}
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := New(Config{Metadata: model.Metadata{Title: "Book"}, Dir: dir})
	if !errors.Is(err, ErrWorkDirNotEmpty) {
		t.Fatalf("expected ErrWorkDirNotEmpty, got %v", err)
	}
	if _, err := os.Stat(notes); err != nil {
		t.Fatalf("existing file touched: %v", err)
	}
}

func TestCleanup_KeepsCallerDir(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{Metadata: model.Metadata{Title: "Book"}, Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Finalize(context.Background(), t.TempDir(), ""); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := e.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("caller directory removed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("working files left behind: %v", entries)
	}
}

func TestFinalize_OutputInsideWorkDir(t *testing.T) {
	e := newEpub(t, "Self")
	for _, out := range []string{e.Dir(), filepath.Join(e.Dir(), "out")} {
		if _, err := e.Finalize(context.Background(), out, ""); !errors.Is(err, ErrOutputInWorkDir) {
			t.Fatalf("expected ErrOutputInWorkDir for %s, got %v", out, err)
		}
	}

	path, err := e.Finalize(context.Background(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	for name := range readArchive(t, path) {
		if strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".epub") {
			t.Fatalf("archive contains itself: %s", name)
		}
	}
}
