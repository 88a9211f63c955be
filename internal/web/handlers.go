package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/library"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Preview frames are scaled down to fit this box.
const (
	previewWidth  = 640
	previewHeight = 480
)

// Controller is the capture surface driven by the handlers.
type Controller interface {
	Snapshot() capture.Snapshot
	Subscribe() (<-chan capture.Snapshot, func())
	CapturePhoto() error
	StartTimerCapture(seconds int) error
	CancelCountdown() error
	AcceptAndSave(album string) error
	Retake() error
}

// FormConfig holds default values for the booth form (from config).
type FormConfig struct {
	DefaultAlbum   string `json:"default_album"`
	DefaultSeconds int    `json:"default_seconds"`
	MaxSeconds     int    `json:"max_seconds"`
}

// Deps are the collaborators of the handlers. Catalog and Previewer are
// optional; their routes answer 503 and 404 without them.
type Deps struct {
	Broadcaster  *StatusBroadcaster
	Controller   Controller
	Catalog      library.Catalog
	Previewer    camera.Previewer
	FormDefaults FormConfig
	JPEGQuality  int
}

// TimerRequest is the body of POST /timer. Zero seconds selects the default.
type TimerRequest struct {
	Seconds int `json:"seconds"`
}

// SaveRequest is the body of POST /save. A blank album selects the default.
type SaveRequest struct {
	Album string `json:"album"`
}

// StateView is the JSON form of a capture snapshot.
type StateView struct {
	Version     uint64                `json:"version"`
	Phase       capture.Phase         `json:"phase"`
	Remaining   int                   `json:"remaining,omitempty"`
	Session     capture.SessionStatus `json:"session"`
	Album       string                `json:"album,omitempty"`
	HasImage    bool                  `json:"has_image"`
	ImageID     string                `json:"image_id,omitempty"`
	ImageWidth  int                   `json:"image_width,omitempty"`
	ImageHeight int                   `json:"image_height,omitempty"`
	Outcome     capture.Outcome       `json:"outcome"`
}

// NewStateView converts a snapshot for the wire.
func NewStateView(s capture.Snapshot) StateView {
	v := StateView{
		Version:   s.Version,
		Phase:     s.Phase,
		Remaining: s.Remaining,
		Session:   s.Session,
		Album:     s.Album,
		Outcome:   s.Outcome,
	}
	if s.Image != nil && s.Image.Img != nil {
		v.HasImage = true
		v.ImageID = s.Image.ID
		v.ImageWidth, v.ImageHeight = s.Image.Size()
	}
	return v
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Controller   Controller
	Catalog      library.Catalog
	Previewer    camera.Previewer
	FormDefaults FormConfig
	jpegQuality  int
	staticFS     fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If deps.Controller is nil, the command routes return 503 Service Unavailable.
func NewHandlers(deps Deps, staticFS fs.FS) *Handlers {
	q := deps.JPEGQuality
	if q <= 0 || q > 100 {
		q = 90
	}
	return &Handlers{
		Broadcaster:  deps.Broadcaster,
		Controller:   deps.Controller,
		Catalog:      deps.Catalog,
		Previewer:    deps.Previewer,
		FormDefaults: deps.FormDefaults,
		jpegQuality:  q,
		staticFS:     staticFS,
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns the current snapshot.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(h.Controller.Snapshot()))
}

// HandleCapture handles POST /capture.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	h.command(w, func(c Controller) error { return c.CapturePhoto() })
}

// HandleTimer handles POST /timer. An empty body uses the default duration.
func (h *Handlers) HandleTimer(w http.ResponseWriter, r *http.Request) {
	var req TimerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	seconds := req.Seconds
	if seconds == 0 {
		seconds = h.FormDefaults.DefaultSeconds
	}
	h.command(w, func(c Controller) error { return c.StartTimerCapture(seconds) })
}

// HandleCancelTimer handles POST /timer/cancel.
func (h *Handlers) HandleCancelTimer(w http.ResponseWriter, r *http.Request) {
	h.command(w, func(c Controller) error { return c.CancelCountdown() })
}

// HandleSave handles POST /save. An empty body saves to the default album.
func (h *Handlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.command(w, func(c Controller) error { return c.AcceptAndSave(req.Album) })
}

// HandleRetake handles POST /retake.
func (h *Handlers) HandleRetake(w http.ResponseWriter, r *http.Request) {
	h.command(w, func(c Controller) error { return c.Retake() })
}

func (h *Handlers) command(w http.ResponseWriter, run func(Controller) error) {
	if h.Controller == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}
	if err := run(h.Controller); err != nil {
		debug.Verbose("Command rejected: %v", err)
		http.Error(w, err.Error(), commandStatus(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"state":  NewStateView(h.Controller.Snapshot()),
	})
}

// commandStatus maps controller errors to HTTP status codes.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, capture.ErrSessionNotRunning),
		errors.Is(err, capture.ErrStopped),
		errors.Is(err, camera.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleImage serves the still under review as JPEG.
func (h *Handlers) HandleImage(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}
	snap := h.Controller.Snapshot()
	if snap.Image == nil || snap.Image.Img == nil {
		http.Error(w, "no image under review", http.StatusNotFound)
		return
	}
	w.Header().Set("ETag", strconv.Quote(snap.Image.ID))
	h.writeJPEG(w, snap.Image.Img)
}

// HandlePreview serves the latest live frame, scaled down.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.Previewer == nil {
		http.Error(w, "preview not supported", http.StatusNotFound)
		return
	}
	img, err := h.Previewer.Preview()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	b := img.Bounds()
	if b.Dx() > previewWidth || b.Dy() > previewHeight {
		img = imaging.Fit(img, previewWidth, previewHeight, imaging.Linear)
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJPEG(w, img)
}

func (h *Handlers) writeJPEG(w http.ResponseWriter, img image.Image) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(h.jpegQuality)); err != nil {
		http.Error(w, "encode image: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// HandleAlbums lists albums with their asset counts.
func (h *Handlers) HandleAlbums(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		http.Error(w, "library not configured", http.StatusServiceUnavailable)
		return
	}
	albums, err := h.Catalog.Albums(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if albums == nil {
		albums = []library.AlbumSummary{}
	}
	writeJSON(w, http.StatusOK, albums)
}

// HandleAlbumAssets lists the assets of one album.
func (h *Handlers) HandleAlbumAssets(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		http.Error(w, "library not configured", http.StatusServiceUnavailable)
		return
	}
	assets, err := h.Catalog.Assets(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []library.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// HandleStatusStream handles GET /status/stream for SSE. The current state
// is sent first, then state changes and log lines as they happen.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	if h.Controller != nil {
		if data, err := json.Marshal(stateEvent(NewStateView(h.Controller.Snapshot()))); err == nil {
			w.Write([]byte("data: " + string(data) + "\n\n"))
		}
	}
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// ForwardState broadcasts every controller state change until ctx is done.
func (h *Handlers) ForwardState(ctx context.Context) {
	if h.Controller == nil {
		return
	}
	updates, unsub := h.Controller.Subscribe()
	defer unsub()
	<-updates // current state; clients get it on connect

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcaster.BroadcastState(NewStateView(snap))
		}
	}
}

// decodeJSON reads an optional JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooBig):
			return fmt.Errorf("request body larger than %d bytes", tooBig.Limit)
		default:
			return fmt.Errorf("invalid JSON: %v", err)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
