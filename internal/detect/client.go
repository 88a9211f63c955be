// Package detect asks a remote smile or hand-gesture detector whether the
// live frame shows a smile or a victory sign, and fires the shutter when it
// does.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/disintegration/imaging"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// maxReplyBytes bounds the detector's JSON reply.
const maxReplyBytes = 64 << 10

// Detector reports whether img shows the awaited pose.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (bool, error)
}

// Reply is the JSON answer of a detector. The smile endpoint answers
// {"smile_detected": bool}, the gesture endpoint {"v": bool}; both may
// answer {"error": "..."} when the frame cannot be decoded.
type Reply struct {
	Smile   *bool  `json:"smile_detected,omitempty"`
	Victory *bool  `json:"v,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Detected reports whether either pose was seen.
func (r Reply) Detected() (bool, error) {
	if r.Error != "" {
		return false, fmt.Errorf("detector: %s", r.Error)
	}
	if r.Smile == nil && r.Victory == nil {
		return false, errors.New("detector: reply has no verdict")
	}
	return (r.Smile != nil && *r.Smile) || (r.Victory != nil && *r.Victory), nil
}

// Client posts JPEG frames as multipart uploads to a detector endpoint.
type Client struct {
	url     string
	field   string
	quality int
	http    *http.Client
}

// NewClient returns a client for url. field is the multipart field name the
// endpoint reads the image from ("file" for smiles, "f" for gestures).
func NewClient(url, field string, timeout time.Duration) *Client {
	if field == "" {
		field = "file"
	}
	return &Client{
		url:     url,
		field:   field,
		quality: 80,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Detect(ctx context.Context, img image.Image) (bool, error) {
	body, contentType, err := c.encode(img)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return false, fmt.Errorf("detector request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("detector post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return false, fmt.Errorf("detector read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("detector: %s", resp.Status)
	}
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Trace("detector reply: %s", bytes.TrimSpace(data))
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return false, fmt.Errorf("detector decode reply: %w", err)
	}
	return reply.Detected()
}

func (c *Client) encode(img image.Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="frame.jpg"`, c.field))
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, "", fmt.Errorf("detector form: %w", err)
	}
	if err := imaging.Encode(part, img, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, "", fmt.Errorf("detector encode frame: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("detector form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
