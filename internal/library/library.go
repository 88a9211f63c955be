// Package library is the on-device photo library: named albums backed by
// folders of JPEG files, catalogued in SQLite.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

var (
	// ErrEmptyAlbumName is returned for blank album names.
	ErrEmptyAlbumName = errors.New("library: empty album name")
	// ErrAlbumNotFound is returned when an album id or name is unknown.
	ErrAlbumNotFound = errors.New("library: album not found")
)

// Album is a named collection of saved photos.
type Album struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dir       string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is one saved photo.
type Asset struct {
	ID         string    `json:"id"`
	AlbumID    string    `json:"album_id"`
	Path       string    `json:"path"` // relative to the library root
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Bytes      int64     `json:"bytes"`
	CapturedAt time.Time `json:"captured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// AlbumSummary is an album with its asset count.
type AlbumSummary struct {
	Album
	Assets int `json:"assets"`
}

// Library is the media-library capability consumed by the capture controller.
type Library interface {
	// ResolveOrCreateAlbum returns the album called name, creating it if needed.
	ResolveOrCreateAlbum(ctx context.Context, name string) (*Album, error)
	// Insert stores img as a new asset of album.
	Insert(ctx context.Context, img *camera.Image, album *Album) (*Asset, error)
}

// Catalog lists library contents for the presentation layer.
type Catalog interface {
	Albums(ctx context.Context) ([]AlbumSummary, error)
	Assets(ctx context.Context, albumID string) ([]Asset, error)
}

// Store implements Library and Catalog on SQLite plus a directory tree.
type Store struct {
	db      *sql.DB
	root    string
	quality int
	now     func() time.Time

	// album creation is serialized per name so that two saves racing on a
	// new name resolve to one album; the UNIQUE constraint backs this up
	// across processes.
	locksMu sync.Mutex
	locks   map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// Open opens (or creates) the library rooted at root with its catalogue in
// dbPath. quality is the JPEG quality (1-100) used for new assets.
func Open(ctx context.Context, root, dbPath string, quality int) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create library root: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	debug.Info("Library opened at %s (catalogue %s)", root, dbPath)
	return &Store{
		db:      db,
		root:    root,
		quality: quality,
		now:     time.Now,
		locks:   make(map[string]*nameLock),
	}, nil
}

// Close closes the catalogue.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the directory holding the album folders.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) lockName(name string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &nameLock{}
		s.locks[name] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, name)
		}
		s.locksMu.Unlock()
	}
}

func (s *Store) ResolveOrCreateAlbum(ctx context.Context, name string) (*Album, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyAlbumName
	}

	unlock := s.lockName(name)
	defer unlock()

	album, err := s.AlbumByName(ctx, name)
	if err == nil {
		debug.Verbose("Library: album %q found (%s)", name, album.ID)
		return album, nil
	}
	if !errors.Is(err, ErrAlbumNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	dir := albumDir(name, id)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO album (id, name, dir, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		id, name, dir, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create album %q: %w", name, err)
	}

	album, err = s.AlbumByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create album %q: %w", name, err)
	}
	if album.ID == id {
		debug.Info("Library: created album %q", name)
	}
	return album, nil
}

// AlbumByName looks up an album without creating it.
func (s *Store) AlbumByName(ctx context.Context, name string) (*Album, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, dir, created_at FROM album WHERE name = ?`, name)
	return scanAlbum(row)
}

func scanAlbum(row *sql.Row) (*Album, error) {
	var a Album
	var created int64
	if err := row.Scan(&a.ID, &a.Name, &a.Dir, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlbumNotFound
		}
		return nil, fmt.Errorf("scan album: %w", err)
	}
	a.CreatedAt = time.UnixMilli(created)
	return &a, nil
}

func (s *Store) Insert(ctx context.Context, img *camera.Image, album *Album) (*Asset, error) {
	if img == nil || img.Img == nil {
		return nil, fmt.Errorf("insert: no image")
	}
	if album == nil {
		return nil, fmt.Errorf("insert: %w", ErrAlbumNotFound)
	}

	id := uuid.NewString()
	rel := filepath.Join(album.Dir, id+".jpg")
	abs := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create album dir: %w", err)
	}
	if err := imaging.Save(img.Img, abs, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		os.Remove(abs)
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	w, h := img.Size()
	asset := &Asset{
		ID:         id,
		AlbumID:    album.ID,
		Path:       rel,
		Width:      w,
		Height:     h,
		Bytes:      info.Size(),
		CapturedAt: img.CapturedAt,
		CreatedAt:  s.now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO asset (id, album_id, path, width, height, bytes, captured_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.AlbumID, asset.Path, asset.Width, asset.Height, asset.Bytes,
		asset.CapturedAt.UnixMilli(), asset.CreatedAt.UnixMilli())
	if err != nil {
		os.Remove(abs)
		return nil, fmt.Errorf("insert asset into %q: %w", album.Name, err)
	}

	debug.Saved(album.Name, asset.ID, humanize.Bytes(uint64(asset.Bytes)))
	return asset, nil
}

func (s *Store) Albums(ctx context.Context) ([]AlbumSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.dir, a.created_at, COUNT(s.id)
		FROM album a LEFT JOIN asset s ON s.album_id = a.id
		GROUP BY a.id, a.name, a.dir, a.created_at
		ORDER BY a.name`)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	defer rows.Close()

	var out []AlbumSummary
	for rows.Next() {
		var sum AlbumSummary
		var created int64
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Dir, &created, &sum.Assets); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) Assets(ctx context.Context, albumID string) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, album_id, path, width, height, bytes, captured_at, created_at
		FROM asset WHERE album_id = ? ORDER BY created_at, id`, albumID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		var a Asset
		var captured, created int64
		if err := rows.Scan(&a.ID, &a.AlbumID, &a.Path, &a.Width, &a.Height, &a.Bytes, &captured, &created); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		a.CapturedAt = time.UnixMilli(captured)
		a.CreatedAt = time.UnixMilli(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// albumDir derives a filesystem-safe folder name; the id suffix keeps
// names that slug to the same text apart.
func albumDir(name, id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	slug := strings.Trim(b.String(), "_")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" {
		slug = "album"
	}
	return slug + "-" + id[:8]
}
