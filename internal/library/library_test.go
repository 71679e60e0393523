package library

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kmb3322/love-pods/internal/session"
)

const manifest = `
clock: assets/clock.mp3
tracks:
  - id: first-love
    title: First Love
    dir: assets/first-love
  - id: night-drive
    title: Night Drive
    dir: assets/night-drive
`

func TestParseCatalog(t *testing.T) {
	c, err := parseCatalog([]byte(manifest))
	if err != nil {
		t.Fatalf("parseCatalog: %v", err)
	}
	if c.Clock != "assets/clock.mp3" {
		t.Errorf("Clock = %q", c.Clock)
	}
	if len(c.Tracks) != 2 {
		t.Fatalf("len(Tracks) = %d, want 2", len(c.Tracks))
	}
	if got := c.IDs(); got[0] != "first-love" || got[1] != "night-drive" {
		t.Errorf("IDs = %v, want catalog order", got)
	}
	if _, ok := c.Entry("night-drive"); !ok {
		t.Error("Entry(night-drive) not found")
	}
	if _, ok := c.Entry("nope"); ok {
		t.Error("Entry(nope) found")
	}
}

func TestParseCatalogRejectsBadManifests(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no clock", "tracks:\n  - {id: a, dir: d}"},
		{"no tracks", "clock: c.mp3"},
		{"missing id", "clock: c.mp3\ntracks:\n  - {dir: d}"},
		{"missing dir", "clock: c.mp3\ntracks:\n  - {id: a}"},
		{"duplicate id", "clock: c.mp3\ntracks:\n  - {id: a, dir: d}\n  - {id: a, dir: e}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseCatalog([]byte(tc.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestFetchCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifest))
	}))
	defer srv.Close()

	c, err := FetchCatalog(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if len(c.Tracks) != 2 {
		t.Errorf("len(Tracks) = %d, want 2", len(c.Tracks))
	}
}

func TestFetchCatalogBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := FetchCatalog(context.Background(), srv.URL); err == nil {
		t.Error("expected error on 404")
	}
}

// testCatalog builds a catalog over a temp dir with the given stem files
// present for each track.
func testCatalog(t *testing.T, stems map[string][]string) *Catalog {
	t.Helper()
	root := t.TempDir()

	clock := filepath.Join(root, "clock.mp3")
	if err := os.WriteFile(clock, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := &Catalog{Clock: clock}
	for id, names := range stems {
		dir := filepath.Join(root, id)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, n := range names {
			if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		c.Tracks = append(c.Tracks, Entry{ID: id, Title: id, Dir: dir})
	}
	return c
}

func fakeDecode(ctx context.Context, path string) ([]int16, error) {
	return []int16{1, 2, 3, 4}, nil
}

func TestStorePriorityLoad(t *testing.T) {
	cat := testCatalog(t, map[string][]string{
		"a": {"accompaniment.mp3", "bass.mp3", "drums.mp3", "vocals.mp3"},
	})
	st := NewStore(cat, fakeDecode)

	if err := st.LoadPriority(context.Background()); !errors.Is(err, session.ErrNoSelection) {
		t.Fatalf("LoadPriority without selection = %v, want ErrNoSelection", err)
	}

	if err := st.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := st.LoadPriority(context.Background()); err != nil {
		t.Fatalf("LoadPriority: %v", err)
	}
	if st.Clock() == nil {
		t.Error("clock not buffered after priority load")
	}
	stems, ok := st.Stems("a")
	if !ok {
		t.Fatal("selected set not buffered")
	}
	if stems.Vocals == nil || stems.Bass == nil {
		t.Error("stems missing from a fully present set")
	}
}

func TestStoreSelectUnknown(t *testing.T) {
	cat := testCatalog(t, map[string][]string{"a": {"bass.mp3"}})
	st := NewStore(cat, fakeDecode)
	if err := st.Select("zzz"); !errors.Is(err, session.ErrNoSelection) {
		t.Errorf("Select(zzz) = %v, want ErrNoSelection", err)
	}
}

func TestStoreMissingStemIsSilent(t *testing.T) {
	cat := testCatalog(t, map[string][]string{
		"a": {"accompaniment.mp3", "drums.wav"},
	})
	st := NewStore(cat, fakeDecode)
	st.Select("a")
	if err := st.LoadPriority(context.Background()); err != nil {
		t.Fatalf("LoadPriority: %v", err)
	}
	stems, _ := st.Stems("a")
	if stems.Accompaniment == nil || stems.Drums == nil {
		t.Error("present stems not decoded")
	}
	if stems.Bass != nil || stems.Vocals != nil {
		t.Error("absent stems should stay nil (silent)")
	}
}

func TestStoreClockDecodeFailure(t *testing.T) {
	cat := testCatalog(t, map[string][]string{"a": {"bass.mp3"}})
	boom := func(ctx context.Context, path string) ([]int16, error) {
		return nil, errors.New("corrupt")
	}
	st := NewStore(cat, boom)
	st.Select("a")
	if err := st.LoadPriority(context.Background()); !errors.Is(err, session.ErrAssetLoad) {
		t.Errorf("LoadPriority = %v, want ErrAssetLoad", err)
	}
}

func TestStoreEmptySelectedSetFails(t *testing.T) {
	cat := testCatalog(t, map[string][]string{"a": {}})
	st := NewStore(cat, fakeDecode)
	st.Select("a")
	if err := st.LoadPriority(context.Background()); !errors.Is(err, session.ErrAssetLoad) {
		t.Errorf("LoadPriority = %v, want ErrAssetLoad for stemless set", err)
	}
}

func TestStorePrefetchRest(t *testing.T) {
	cat := testCatalog(t, map[string][]string{
		"a": {"bass.mp3"},
		"b": {"vocals.mp3"},
		"c": {"drums.flac"},
	})
	st := NewStore(cat, fakeDecode)
	st.Select("a")
	if err := st.LoadPriority(context.Background()); err != nil {
		t.Fatalf("LoadPriority: %v", err)
	}

	st.PrefetchRest(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		if !st.Loaded(id) {
			t.Errorf("track %s not buffered after prefetch", id)
		}
	}
}

func TestStoreSelectionStaysCurrentDuringLoad(t *testing.T) {
	cat := testCatalog(t, map[string][]string{
		"a": {"bass.mp3"},
		"b": {"bass.mp3"},
	})
	st := NewStore(cat, fakeDecode)
	st.Select("a")

	// A selection change made while a load is in flight must be visible to
	// whoever consults the store afterwards.
	st.Select("b")
	if got := st.Selected(); got != "b" {
		t.Errorf("Selected = %q, want b", got)
	}
}
