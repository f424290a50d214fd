// Package media stores food card photos. Imported images are downsized,
// re-encoded as JPEG under a size cap and stored by content hash.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
)

const (
	imagesDir = "images"
	thumbsDir = "thumbs"

	// qualityStep is how much JPEG quality drops per re-encode attempt.
	qualityStep = 10
	// maxShrinks bounds the downscale retries once quality is exhausted.
	maxShrinks = 4
)

var refPattern = regexp.MustCompile(`^images/[0-9a-f]{2}/[0-9a-f]{64}\.jpg$`)

// Options controls how imported images are processed.
type Options struct {
	MaxBytes     int64
	Quality      int
	MinQuality   int
	MaxDimension int
}

// DefaultOptions returns the limits used by the mobile app: 1 MiB, quality
// 80 stepping down to 40, longest side 1600px.
func DefaultOptions() Options {
	return Options{
		MaxBytes:     1 << 20,
		Quality:      80,
		MinQuality:   40,
		MaxDimension: 1600,
	}
}

// ImageStore keeps images under a data directory.
type ImageStore struct {
	root string
	opts Options
}

// NewImageStore creates an ImageStore rooted at dataDir.
func NewImageStore(dataDir string, opts Options) (*ImageStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, imagesDir), 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to create image directory", err)
	}
	return &ImageStore{root: dataDir, opts: opts}, nil
}

// Root returns the data directory the refs are relative to.
func (s *ImageStore) Root() string {
	return s.root
}

// Import decodes an image (jpeg, png, gif or webp), fits it within
// MaxDimension, and stores it as a JPEG no larger than MaxBytes. It returns
// the ref to store on the food card. Importing the same picture twice yields
// the same ref.
func (s *ImageStore) Import(ctx context.Context, r io.Reader) (string, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrImageInvalid, "failed to decode image", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return "", apperrors.New(apperrors.ErrImageInvalid, "image has no pixels")
	}

	data, quality, err := s.compress(ctx, img)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ref := imagesDir + "/" + hash[:2] + "/" + hash + ".jpg"

	if err := s.writeAtomic(s.abs(ref), data); err != nil {
		return "", err
	}

	logging.Debug("image imported", map[string]interface{}{
		"ref":     ref,
		"bytes":   len(data),
		"quality": quality,
	})
	return ref, nil
}

// compress re-encodes img, lowering quality and then size until the JPEG
// fits MaxBytes.
func (s *ImageStore) compress(ctx context.Context, img image.Image) ([]byte, int, error) {
	if s.opts.MaxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > s.opts.MaxDimension || b.Dy() > s.opts.MaxDimension {
			img = imaging.Fit(img, s.opts.MaxDimension, s.opts.MaxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	for shrink := 0; ; shrink++ {
		for q := s.opts.Quality; q >= s.opts.MinQuality; q -= qualityStep {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
			buf.Reset()
			if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
				return nil, 0, apperrors.Wrap(apperrors.ErrImageInvalid, "failed to encode image", err)
			}
			if int64(buf.Len()) <= s.opts.MaxBytes {
				return buf.Bytes(), q, nil
			}
		}
		if shrink == maxShrinks {
			return nil, 0, apperrors.Newf(apperrors.ErrImageInvalid,
				"image does not fit in %d bytes", s.opts.MaxBytes)
		}
		b := img.Bounds()
		img = imaging.Resize(img, b.Dx()*3/4, 0, imaging.Lanczos)
	}
}

func (s *ImageStore) writeAtomic(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already stored
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to create image directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".import-*")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to write image", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to write image", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to move image into place", err)
	}
	return nil
}

// ValidRef reports whether ref names an image produced by Import.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}

func (s *ImageStore) abs(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(ref))
}

// Path returns the absolute file path of ref.
func (s *ImageStore) Path(ref string) (string, error) {
	if !ValidRef(ref) {
		return "", apperrors.Newf(apperrors.ErrInvalid, "invalid image ref %q", ref)
	}
	return s.abs(ref), nil
}

// Open opens the image file for ref. The caller closes it.
func (s *ImageStore) Open(ref string) (io.ReadCloser, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "image %s not found", ref)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to open image", err)
	}
	return f, nil
}

// Exists reports whether ref is stored.
func (s *ImageStore) Exists(ref string) bool {
	path, err := s.Path(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Put stores raw JPEG bytes under ref, as read back from an export archive.
// The content must hash to the name in ref.
func (s *ImageStore) Put(ref string, data []byte) error {
	if !ValidRef(ref) {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid image ref %q", ref)
	}
	sum := sha256.Sum256(data)
	if !strings.HasSuffix(ref, hex.EncodeToString(sum[:])+".jpg") {
		return apperrors.Newf(apperrors.ErrImageInvalid, "image %s does not match its content", ref)
	}
	return s.writeAtomic(s.abs(ref), data)
}

// Remove deletes ref and its thumbnails. A missing file is not an error.
func (s *ImageStore) Remove(ref string) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to remove image", err)
	}

	hash := strings.TrimSuffix(filepath.Base(path), ".jpg")
	thumbs, _ := filepath.Glob(filepath.Join(s.root, thumbsDir, "*", hash+".jpg"))
	for _, t := range thumbs {
		os.Remove(t)
	}
	return nil
}

// Thumbnail returns the path of a w×h thumbnail of ref, generating it on
// first use.
func (s *ImageStore) Thumbnail(ctx context.Context, ref string, w, h int) (string, error) {
	src, err := s.Path(ref)
	if err != nil {
		return "", err
	}
	if w <= 0 || h <= 0 {
		return "", apperrors.Newf(apperrors.ErrInvalid, "invalid thumbnail size %dx%d", w, h)
	}

	hash := strings.TrimSuffix(filepath.Base(src), ".jpg")
	dst := filepath.Join(s.root, thumbsDir, fmt.Sprintf("%dx%d", w, h), hash+".jpg")
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := imaging.Open(src)
	if os.IsNotExist(err) {
		return "", apperrors.Newf(apperrors.ErrNotFound, "image %s not found", ref)
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrImageInvalid, "failed to open image", err)
	}

	var buf bytes.Buffer
	thumb := imaging.Thumbnail(img, w, h, imaging.Lanczos)
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", apperrors.Wrap(apperrors.ErrImageInvalid, "failed to encode thumbnail", err)
	}
	if err := s.writeAtomic(dst, buf.Bytes()); err != nil {
		return "", err
	}
	return dst, nil
}

// List returns every stored image ref.
func (s *ImageStore) List() ([]string, error) {
	var refs []string
	base := filepath.Join(s.root, imagesDir)
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if ref := filepath.ToSlash(rel); ValidRef(ref) {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to list images", err)
	}
	return refs, nil
}

// Prune removes every stored image not in referenced and returns how many
// were removed.
func (s *ImageStore) Prune(ctx context.Context, referenced map[string]bool) (int, error) {
	refs, err := s.List()
	if err != nil {
		return 0, err
	}

	var orphans []string
	for _, ref := range refs {
		if !referenced[ref] {
			orphans = append(orphans, ref)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range orphans {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.Remove(ref)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if len(orphans) > 0 {
		logging.Info("pruned unused images", map[string]interface{}{"removed": len(orphans)})
	}
	return len(orphans), nil
}
