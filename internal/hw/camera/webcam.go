package camera

import (
	"fmt"
	"image"
	"time"
)

// WebcamOptions selects the V4L2 node and the frame format to negotiate.
type WebcamOptions struct {
	Device  string        // e.g. /dev/video0
	Format  string        // "MJPG" or "YUYV"
	Width   int           // requested width; the driver may pick the closest
	Height  int           // requested height
	Buffers int           // mmap buffer count, 0 = driver default
	Timeout time.Duration // max wait for a still frame
}

// yuyvToImage converts a packed YUYV 4:2:2 frame into an image.YCbCr
// without copying through RGB.
func yuyvToImage(frame []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("yuyv: invalid frame size %dx%d", width, height)
	}
	if want := width * height * 2; len(frame) < want {
		return nil, fmt.Errorf("yuyv: short frame: %d bytes, want %d", len(frame), want)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := frame[y*width*2 : (y+1)*width*2]
		for x := 0; x < width; x += 2 {
			p := row[x*2 : x*2+4] // Y0 U Y1 V
			img.Y[y*img.YStride+x] = p[0]
			img.Y[y*img.YStride+x+1] = p[2]
			ci := y*img.CStride + x/2
			img.Cb[ci] = p[1]
			img.Cr[ci] = p[3]
		}
	}
	return img, nil
}
