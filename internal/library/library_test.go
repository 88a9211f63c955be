package library

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "photos"), filepath.Join(dir, "db", "library.db"), 80)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testImage(c color.RGBA) *camera.Image {
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for x := 0; x < 6; x++ {
		for y := 0; y < 4; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return camera.NewImage(img, time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
}

func TestResolveOrCreateAlbum_CreatesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.ResolveOrCreateAlbum(ctx, "Trip")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := s.ResolveOrCreateAlbum(ctx, "  Trip ")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same name resolved to different albums: %s vs %s", first.ID, second.ID)
	}

	albums, err := s.Albums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 || albums[0].Name != "Trip" {
		t.Errorf("albums = %+v, want exactly one named Trip", albums)
	}
}

func TestResolveOrCreateAlbum_EmptyName(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"", "   "} {
		if _, err := s.ResolveOrCreateAlbum(context.Background(), name); !errors.Is(err, ErrEmptyAlbumName) {
			t.Errorf("ResolveOrCreateAlbum(%q) = %v, want ErrEmptyAlbumName", name, err)
		}
	}
}

func TestResolveOrCreateAlbum_ConcurrentSameName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.ResolveOrCreateAlbum(ctx, "Party")
			errs[i] = err
			if a != nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolve %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("resolve %d returned album %s, want %s", i, ids[i], ids[0])
		}
	}
	albums, _ := s.Albums(ctx)
	if len(albums) != 1 {
		t.Errorf("got %d albums, want 1", len(albums))
	}
	if len(s.locks) != 0 {
		t.Errorf("name locks leaked: %d", len(s.locks))
	}
}

func TestInsert_TwoAssetsSameAlbum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, c := range []color.RGBA{{255, 0, 0, 255}, {0, 0, 255, 255}} {
		album, err := s.ResolveOrCreateAlbum(ctx, "Trip")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Insert(ctx, testImage(c), album); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	albums, err := s.Albums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 {
		t.Fatalf("got %d albums, want 1", len(albums))
	}
	if albums[0].Assets != 2 {
		t.Errorf("album has %d assets, want 2", albums[0].Assets)
	}

	assets, err := s.Assets(ctx, albums[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 2 {
		t.Fatalf("got %d assets, want 2", len(assets))
	}
	for _, a := range assets {
		if a.Width != 6 || a.Height != 4 {
			t.Errorf("asset %s size = %dx%d, want 6x4", a.ID, a.Width, a.Height)
		}
		if a.Bytes <= 0 {
			t.Errorf("asset %s has no bytes", a.ID)
		}
		if !strings.HasSuffix(a.Path, ".jpg") {
			t.Errorf("asset path %q should be a .jpg", a.Path)
		}
		if _, err := os.Stat(filepath.Join(s.Root(), a.Path)); err != nil {
			t.Errorf("asset file missing: %v", err)
		}
		if !a.CapturedAt.Equal(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("captured_at = %v", a.CapturedAt)
		}
	}
	if assets[0].ID == assets[1].ID {
		t.Error("asset ids should differ")
	}
}

func TestInsert_UnknownAlbumRemovesFile(t *testing.T) {
	s := openTestStore(t)
	ghost := &Album{ID: "does-not-exist", Name: "Ghost", Dir: "ghost"}

	if _, err := s.Insert(context.Background(), testImage(color.RGBA{A: 255}), ghost); err == nil {
		t.Fatal("expected foreign key error for unknown album")
	}
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "ghost"))
	if len(entries) != 0 {
		t.Errorf("orphan files left behind: %d", len(entries))
	}
}

func TestInsert_NilImage(t *testing.T) {
	s := openTestStore(t)
	album, _ := s.ResolveOrCreateAlbum(context.Background(), "Trip")
	if _, err := s.Insert(context.Background(), nil, album); err == nil {
		t.Error("expected error for nil image")
	}
}

func TestAlbumByName_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.AlbumByName(context.Background(), "Nope"); !errors.Is(err, ErrAlbumNotFound) {
		t.Errorf("err = %v, want ErrAlbumNotFound", err)
	}
}

func TestOpen_ReopenKeepsAlbums(t *testing.T) {
	dir := t.TempDir()
	root, db := filepath.Join(dir, "photos"), filepath.Join(dir, "library.db")
	ctx := context.Background()

	s, err := Open(ctx, root, db, 90)
	if err != nil {
		t.Fatal(err)
	}
	created, err := s.ResolveOrCreateAlbum(ctx, "Trip")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(ctx, root, db, 90)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	again, err := s.ResolveOrCreateAlbum(ctx, "Trip")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != created.ID {
		t.Errorf("album recreated after reopen: %s vs %s", again.ID, created.ID)
	}
}

func TestAlbumDir(t *testing.T) {
	id := "0123456789abcdef"
	cases := []struct {
		name string
		want string
	}{
		{"Trip", "trip-01234567"},
		{"My Custom Album", "my_custom_album-01234567"},
		{"../../etc", "etc-01234567"},
		{"Été 2026", "t__2026-01234567"},
		{"***", "album-01234567"},
	}
	for _, tc := range cases {
		if got := albumDir(tc.name, id); got != tc.want {
			t.Errorf("albumDir(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
