// Package export writes and reads portable archives of the meal log.
//
// An archive is a gzip-compressed tar holding manifest.json, data.json and,
// optionally, the image files referenced by food cards under images/.
// With a password the whole gzip stream is sealed by the crypto package.
package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kimhsiao/threemeal/backend/internal/db"
	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/export/crypto"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/media"
	"github.com/kimhsiao/threemeal/backend/internal/models"
	"github.com/kimhsiao/threemeal/backend/internal/uuid"
)

const (
	// FormatVersion is written to every manifest.
	FormatVersion = "1"

	manifestName = "manifest.json"
	dataName     = "data.json"
	imagesPrefix = "images/"

	// maxEntrySize bounds a single decompressed archive entry.
	maxEntrySize = 64 << 20
)

// Service exports and imports the food card catalog and meal log.
type Service struct {
	cards     db.FoodCardStore
	meals     db.MealRecordStore
	snapshots db.SnapshotStore
	images    *media.ImageStore
}

// NewService creates a Service. Imports are written through snapshots.
// images may be nil, in which case archives never carry image files.
func NewService(cards db.FoodCardStore, meals db.MealRecordStore, snapshots db.SnapshotStore, images *media.ImageStore) *Service {
	return &Service{cards: cards, meals: meals, snapshots: snapshots, images: images}
}

// ExportConfig holds export options.
type ExportConfig struct {
	OutputPath    string
	Password      string // empty = not encrypted
	From, To      models.Date
	IncludeImages bool
}

// ImportConfig holds import options.
type ImportConfig struct {
	ArchivePath string
	Password    string
}

// Manifest describes an archive.
type Manifest struct {
	Version         string      `json:"version"`
	ArchiveID       string      `json:"archive_id"`
	ExportedAt      time.Time   `json:"exported_at"`
	FoodCardCount   int         `json:"food_card_count"`
	MealRecordCount int         `json:"meal_record_count"`
	ImageCount      int         `json:"image_count"`
	Checksum        string      `json:"checksum"` // sha256 of data.json
	Encrypted       bool        `json:"encrypted"`
	From            models.Date `json:"from,omitempty"`
	To              models.Date `json:"to,omitempty"`
}

// Data is the content of data.json.
type Data struct {
	FoodCards   []*models.FoodCard   `json:"food_cards"`
	MealRecords []*models.MealRecord `json:"meal_records"`
}

// ExportResult reports a finished export.
type ExportResult struct {
	FilePath  string
	ArchiveID string
	SizeBytes int64
	FoodCards int
	Meals     int
	Images    int
	Checksum  string
	Encrypted bool
	Duration  time.Duration
}

// ImportResult reports a finished import.
type ImportResult struct {
	ArchiveID    string
	FoodCards    int
	Meals        int
	SkippedMeals int // slot already taken by a different record
	Images       int
	Duration     time.Duration
}

// Export writes an archive to cfg.OutputPath. When both From and To are set
// only meal records in that inclusive range are exported; food cards are
// always exported in full.
func (s *Service) Export(ctx context.Context, cfg ExportConfig) (*ExportResult, error) {
	start := time.Now()

	if cfg.OutputPath == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "export output path is required")
	}
	if cfg.Password != "" {
		if err := crypto.ValidatePassword(cfg.Password); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalidPassword, "export password rejected", err)
		}
	}

	cards, err := s.cards.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var meals []*models.MealRecord
	if cfg.From != "" && cfg.To != "" {
		meals, err = s.meals.ListByDateRange(ctx, cfg.From, cfg.To)
	} else {
		meals, err = s.meals.ListAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(Data{FoodCards: cards, MealRecords: meals})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to encode data", err)
	}
	sum := sha256.Sum256(data)

	var refs []string
	if cfg.IncludeImages && s.images != nil {
		refs = s.imageRefs(cards)
	}

	manifest := Manifest{
		Version:         FormatVersion,
		ArchiveID:       uuid.NewArchiveID(),
		ExportedAt:      start.UTC(),
		FoodCardCount:   len(cards),
		MealRecordCount: len(meals),
		ImageCount:      len(refs),
		Checksum:        hex.EncodeToString(sum[:]),
		Encrypted:       cfg.Password != "",
		From:            cfg.From,
		To:              cfg.To,
	}

	archive, err := s.buildArchive(ctx, &manifest, data, refs)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		archive, err = crypto.EncryptArchive(archive, cfg.Password)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to encrypt archive", err)
		}
	}

	if err := writeFileAtomic(cfg.OutputPath, archive); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to write archive", err)
	}

	result := &ExportResult{
		FilePath:  cfg.OutputPath,
		ArchiveID: manifest.ArchiveID,
		SizeBytes: int64(len(archive)),
		FoodCards: len(cards),
		Meals:     len(meals),
		Images:    len(refs),
		Checksum:  manifest.Checksum,
		Encrypted: manifest.Encrypted,
		Duration:  time.Since(start),
	}
	logging.Info("export completed", map[string]interface{}{
		"file":       result.FilePath,
		"archive_id": result.ArchiveID,
		"food_cards": result.FoodCards,
		"meals":      result.Meals,
		"images":     result.Images,
		"encrypted":  result.Encrypted,
	})
	return result, nil
}

// imageRefs returns the distinct stored images referenced by cards.
func (s *Service) imageRefs(cards []*models.FoodCard) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, c := range cards {
		if seen[c.ImageRef] || !media.ValidRef(c.ImageRef) || !s.images.Exists(c.ImageRef) {
			continue
		}
		seen[c.ImageRef] = true
		refs = append(refs, c.ImageRef)
	}
	return refs
}

func (s *Service) buildArchive(ctx context.Context, manifest *Manifest, data []byte, refs []string) ([]byte, error) {
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to encode manifest", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	add := func(name string, body []byte) error {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(body)),
			ModTime: manifest.ExportedAt,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(body)
		return err
	}

	if err := add(manifestName, manifestData); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to write manifest", err)
	}
	if err := add(dataName, data); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to write data", err)
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := s.readImage(ref)
		if err != nil {
			return nil, err
		}
		if err := add(ref, body); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to write image", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to finish tar", err)
	}
	if err := gw.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "failed to finish gzip", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) readImage(ref string) ([]byte, error) {
	rc, err := s.images.Open(ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Import reads an archive and merges it into the store. Cards and meals are
// upserted by ID in one transaction, so a failed import leaves the tables as
// they were; images written for it are removed again. A meal whose slot is
// held by a different local record is skipped and counted.
func (s *Service) Import(ctx context.Context, cfg ImportConfig) (*ImportResult, error) {
	start := time.Now()

	raw, err := os.ReadFile(cfg.ArchivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "archive %s not found", cfg.ArchivePath)
		}
		return nil, apperrors.Wrap(apperrors.ErrImportFailed, "failed to read archive", err)
	}

	if crypto.IsEncrypted(raw) {
		if cfg.Password == "" {
			return nil, apperrors.New(apperrors.ErrInvalidPassword, "archive is encrypted; a password is required")
		}
		raw, err = crypto.DecryptArchive(raw, cfg.Password)
		switch {
		case errors.Is(err, crypto.ErrInvalidPassword):
			return nil, apperrors.Wrap(apperrors.ErrInvalidPassword, "wrong password or damaged archive", err)
		case err != nil:
			return nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "unreadable archive header", err)
		}
	}

	entries, err := readEntries(raw)
	if err != nil {
		return nil, err
	}
	manifest, data, err := decodeEntries(entries)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{ArchiveID: manifest.ArchiveID}

	var added []string
	if s.images != nil {
		for name, body := range entries {
			if !strings.HasPrefix(name, imagesPrefix) {
				continue
			}
			if err := ctx.Err(); err != nil {
				s.removeImages(added)
				return nil, err
			}
			existed := s.images.Exists(name)
			if err := s.images.Put(name, body); err != nil {
				s.removeImages(added)
				return nil, err
			}
			if !existed {
				added = append(added, name)
			}
			result.Images++
		}
	}

	for _, c := range data.FoodCards {
		if t, err := models.ParseFoodType(string(c.Type)); err == nil {
			c.Type = t
		}
	}
	for _, m := range data.MealRecords {
		normalizeMeal(m)
	}

	restored, err := s.snapshots.Restore(ctx, data.FoodCards, data.MealRecords)
	if err != nil {
		s.removeImages(added)
		return nil, err
	}
	result.FoodCards = restored.FoodCards
	result.Meals = restored.Meals
	result.SkippedMeals = restored.SkippedMeals

	result.Duration = time.Since(start)
	logging.Info("import completed", map[string]interface{}{
		"file":          cfg.ArchivePath,
		"archive_id":    result.ArchiveID,
		"food_cards":    result.FoodCards,
		"meals":         result.Meals,
		"skipped_meals": result.SkippedMeals,
		"images":        result.Images,
	})
	return result, nil
}

// ReadManifest returns the manifest of an unencrypted archive, or of an
// encrypted one when password is given.
func ReadManifest(archivePath, password string) (*Manifest, error) {
	raw, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrImportFailed, "failed to read archive", err)
	}
	if crypto.IsEncrypted(raw) {
		if password == "" {
			return &Manifest{Encrypted: true}, nil
		}
		if raw, err = crypto.DecryptArchive(raw, password); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalidPassword, "wrong password or damaged archive", err)
		}
	}
	entries, err := readEntries(raw)
	if err != nil {
		return nil, err
	}
	manifest, _, err := decodeEntries(entries)
	return manifest, err
}

// removeImages deletes images written by an import that did not complete.
func (s *Service) removeImages(refs []string) {
	for _, ref := range refs {
		if err := s.images.Remove(ref); err != nil {
			logging.Warn("failed to remove imported image", map[string]interface{}{"ref": ref, "error": err.Error()})
		}
	}
}

func normalizeMeal(m *models.MealRecord) {
	if mt, err := models.ParseMealType(string(m.MealType)); err == nil {
		m.MealType = mt
	}
	if mood, err := models.ParseMood(string(m.Mood)); err == nil {
		m.Mood = mood
	}
	if m.FoodCardIDs == nil {
		m.FoodCardIDs = models.FoodCardIDs{}
	}
}

// readEntries unpacks a tar.gz into memory. Entry names must be relative
// and clean; anything else marks the archive as corrupted.
func readEntries(raw []byte) (map[string][]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "archive is not gzip", err)
	}
	defer gr.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "failed to read tar entry", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := hdr.Name
		if path.IsAbs(name) || path.Clean(name) != name || name == ".." || strings.HasPrefix(name, "../") {
			return nil, apperrors.Newf(apperrors.ErrCorruptedArchive, "illegal entry name %q", name)
		}
		if hdr.Size > maxEntrySize {
			return nil, apperrors.Newf(apperrors.ErrCorruptedArchive, "entry %s too large", name)
		}
		body, err := io.ReadAll(io.LimitReader(tr, maxEntrySize+1))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "failed to read "+name, err)
		}
		entries[name] = body
	}
	return entries, nil
}

func decodeEntries(entries map[string][]byte) (*Manifest, *Data, error) {
	manifestData, ok := entries[manifestName]
	if !ok {
		return nil, nil, apperrors.New(apperrors.ErrCorruptedArchive, "archive has no manifest")
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "invalid manifest", err)
	}
	if manifest.Version != FormatVersion {
		return nil, nil, apperrors.Newf(apperrors.ErrCorruptedArchive, "unsupported archive version %q", manifest.Version)
	}
	id, err := uuid.ParseArchiveID(manifest.ArchiveID)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "invalid manifest", err)
	}
	manifest.ArchiveID = id

	body, ok := entries[dataName]
	if !ok {
		return nil, nil, apperrors.New(apperrors.ErrCorruptedArchive, "archive has no data")
	}
	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != manifest.Checksum {
		return nil, nil, apperrors.New(apperrors.ErrCorruptedArchive, "data checksum mismatch")
	}
	var data Data
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrCorruptedArchive, "invalid data", err)
	}
	for i, c := range data.FoodCards {
		if c == nil {
			return nil, nil, apperrors.Newf(apperrors.ErrCorruptedArchive, "food card %d is null", i)
		}
	}
	for i, m := range data.MealRecords {
		if m == nil {
			return nil, nil, apperrors.Newf(apperrors.ErrCorruptedArchive, "meal record %d is null", i)
		}
	}
	return &manifest, &data, nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
