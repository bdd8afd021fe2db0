// Package imagestore keeps session cover images and hands out their public URLs.
package imagestore

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

var (
	ErrNotImage = errors.New("file is not an image")
	ErrTooLarge = errors.New("file exceeds the upload size limit")
)

// Store is the object-storage surface the service depends on. The disk
// implementation below serves files from a static route; a bucket-backed
// implementation would satisfy the same interface.
type Store interface {
	Save(sessionID int64, data []byte) (string, error)
	Remove(url string) error
}

type DiskStore struct {
	dir      string
	baseURL  string
	maxBytes int64
	maxDim   int
	log      *zerolog.Logger
}

// NewDiskStore creates the storage directory if needed. baseURL is the public
// path prefix the files are served under, maxBytes the upload ceiling and
// maxDim the bound above which images are downsampled.
func NewDiskStore(dir, baseURL string, maxBytes int64, maxDim int, log *zerolog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &DiskStore{
		dir:      dir,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxBytes: maxBytes,
		maxDim:   maxDim,
		log:      log,
	}, nil
}

// Dir is the directory the public static route should serve.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Save validates the upload, downsamples it when oversized and writes it to
// disk. The MIME type is sniffed from the bytes, never trusted from the client.
func (s *DiskStore) Save(sessionID int64, data []byte) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", ErrNotImage
	}

	ext := mtype.Extension()
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", ErrNotImage
	}

	if b := img.Bounds(); b.Dx() > s.maxDim || b.Dy() > s.maxDim {
		data, err = s.downsample(img)
		if err != nil {
			return "", err
		}
		ext = ".jpg"
		s.log.Debug().
			Int("width", b.Dx()).
			Int("height", b.Dy()).
			Int("max_dim", s.maxDim).
			Msg("image downsampled before storing")
	}

	name := fmt.Sprintf("session_%d_%d%s", sessionID, time.Now().UnixNano(), ext)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	return s.baseURL + "/" + name, nil
}

func (s *DiskStore) downsample(img image.Image) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = h * s.maxDim / w
		w = s.maxDim
	} else {
		w = w * s.maxDim / h
		h = s.maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to re-encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove deletes the object behind a previously issued URL. A missing file is
// not an error: the caller treats removal as best-effort anyway.
func (s *DiskStore) Remove(url string) error {
	if !strings.HasPrefix(url, s.baseURL+"/") {
		return fmt.Errorf("url %q does not belong to this store", url)
	}
	name := path.Base(url)
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}
