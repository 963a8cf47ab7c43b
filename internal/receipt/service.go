package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anford/receipt-pipeline/internal/scanning"
)

// IDGenerator generates unique ids for files and receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Validator decides whether stored bytes are an extractable receipt. It
// always produces a verdict; internal failures are reported as an invalid
// verdict, never as an error.
type Validator interface {
	Validate(data []byte) (isValid bool, reason string)
}

// defaultIDGenerator generates ids from a UnixNano timestamp, so ids sort in
// creation order
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// fileLocks hands out one mutex per file id so state transitions for a file
// are serialized while distinct files proceed in parallel.
type fileLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *fileLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Service is the pipeline orchestrator. It owns the file state machine and
// composes the blob store, validator, and extractor.
type Service struct {
	db          DB
	storage     Storage
	validator   Validator
	extractor   scanning.Extractor
	idGenerator IDGenerator
	timeSource  TimeSource
	locks       *fileLocks
}

// NewService creates a new Service with default id generator and time source
func NewService(db DB, storage Storage, validator Validator, extractor scanning.Extractor) *Service {
	return NewServiceWithDeps(db, storage, validator, extractor, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, validator Validator, extractor scanning.Extractor, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		validator:   validator,
		extractor:   extractor,
		idGenerator: idGen,
		timeSource:  timeSrc,
		locks:       newFileLocks(),
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + strings.ToLower(ext)
}

// Upload stores the bytes in the blob store and creates a registry entry for
// them. No validation happens here; the file starts unvalidated.
func (s *Service) Upload(fileName string, data []byte) (*ReceiptFile, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("file name is required: %w", ErrInvalidUpload)
	}
	if !strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return nil, fmt.Errorf("only PDF files are accepted: %w", ErrInvalidUpload)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty: %w", ErrInvalidUpload)
	}

	// Blob first, registry second: a blob without a registry row is garbage,
	// a registry row without a blob is an inconsistency Validate would trip
	// over.
	key := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(fileName))
	savedKey, err := s.storage.Save(key, data)
	if err != nil {
		return nil, fmt.Errorf("saving blob: %v: %w", err, ErrStorage)
	}

	file := &ReceiptFile{
		ID:         s.idGenerator.Generate(),
		FileName:   fileName,
		StorageKey: savedKey,
		Validity:   ValidityUnvalidated,
		CreatedAt:  s.timeSource.Now(),
	}
	if err := s.db.CreateFile(file); err != nil {
		// Clean up the saved blob since the registry row failed
		if delErr := s.storage.Delete(savedKey); delErr != nil {
			slog.Warn("Failed to clean up blob after registry failure", "key", savedKey, "error", delErr)
		}
		return nil, fmt.Errorf("creating registry entry: %v: %w", err, ErrStorage)
	}

	slog.Info("File uploaded", "id", file.ID, "file_name", fileName, "size", len(data))
	return file, nil
}

// Validate fetches the file's bytes, runs the validator, and stores the
// verdict. Safe to call repeatedly; each call re-evaluates from the stored
// bytes and overwrites the prior verdict.
func (s *Service) Validate(id string) (*ReceiptFile, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	file, err := s.db.GetFile(id)
	if err != nil {
		return nil, err
	}

	data, err := s.storage.Get(file.StorageKey)
	if err != nil {
		// A registry row whose bytes are gone is reported, not repaired.
		return nil, fmt.Errorf("fetching blob %s: %v: %w", file.StorageKey, err, ErrStorage)
	}

	isValid, reason := s.validator.Validate(data)
	validity := ValidityValid
	if !isValid {
		validity = ValidityInvalid
	}

	updated, err := s.db.SetValidity(id, validity, reason)
	if err != nil {
		return nil, err
	}

	slog.Info("File validated", "id", id, "validity", validity, "reason", reason)
	return updated, nil
}

// Process runs extraction for a valid, unprocessed file and commits the
// resulting receipt together with the processed flag. Extraction failures
// leave the file unprocessed so the call can be retried; a file that is
// already processed or not valid fails with ErrConflict.
func (s *Service) Process(ctx context.Context, id string) (*Receipt, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	file, err := s.db.GetFile(id)
	if err != nil {
		return nil, err
	}
	if file.Processed {
		return nil, fmt.Errorf("file %s already processed: %w", id, ErrConflict)
	}
	if file.Validity != ValidityValid {
		return nil, fmt.Errorf("file %s is %s, not valid: %w", id, file.Validity, ErrConflict)
	}

	data, err := s.storage.Get(file.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("fetching blob %s: %v: %w", file.StorageKey, err, ErrStorage)
	}

	fields, err := s.extractor.Extract(ctx, data)
	if err != nil {
		slog.Error("Extraction failed",
			"id", id,
			"file_name", file.FileName,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("extracting receipt: %v: %w", err, ErrExtraction)
	}

	purchasedAt, err := time.Parse("2006-01-02", fields.PurchasedAt)
	if err != nil {
		return nil, fmt.Errorf("extractor returned unusable date %q: %w", fields.PurchasedAt, ErrExtraction)
	}

	receipt := &Receipt{
		ID:           s.idGenerator.Generate(),
		FileID:       file.ID,
		MerchantName: fields.MerchantName,
		TotalAmount:  int(math.Round(fields.TotalAmount * 100)),
		PurchasedAt:  purchasedAt,
		FilePath:     file.StorageKey,
		CreatedAt:    s.timeSource.Now(),
	}

	if err := s.db.CommitReceipt(receipt); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("committing receipt: %v: %w", err, ErrStorage)
	}

	slog.Info("File processed", "id", id, "receipt_id", receipt.ID, "merchant", receipt.MerchantName)
	return receipt, nil
}

// GetReceipt retrieves a receipt by id
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	return s.db.GetReceipt(id)
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*Receipt, error) {
	return s.db.ListReceipts()
}

// ListFiles returns all registry entries
func (s *Service) ListFiles() ([]*ReceiptFile, error) {
	return s.db.ListFiles()
}
