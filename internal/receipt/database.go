package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	filesBucketName     = "receipt_files"
	receiptsBucketName  = "receipts"
	fileIndexBucketName = "receipts_by_file"
)

// DB defines the database operations for the file registry and receipt store.
type DB interface {
	// CreateFile stores a new registry entry
	CreateFile(file *ReceiptFile) error

	// GetFile retrieves a registry entry by id
	GetFile(id string) (*ReceiptFile, error)

	// SetValidity overwrites the validity verdict for a file
	SetValidity(id string, validity Validity, reason string) (*ReceiptFile, error)

	// ListFiles returns all registry entries in insertion order
	ListFiles() ([]*ReceiptFile, error)

	// CommitReceipt atomically stores a receipt and marks its file processed.
	// The receipt insert, the per-file uniqueness index, and the processed
	// flag are written in one transaction so neither side can land alone.
	CommitReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts in insertion order
	ListReceipts() ([]*Receipt, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{filesBucketName, receiptsBucketName, fileIndexBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// CreateFile stores a new registry entry
func (b *BoltDB) CreateFile(file *ReceiptFile) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(filesBucketName))
		data, err := json.Marshal(file)
		if err != nil {
			return fmt.Errorf("marshaling file: %w", err)
		}
		return bucket.Put([]byte(file.ID), data)
	})
}

// GetFile retrieves a registry entry by id
func (b *BoltDB) GetFile(id string) (*ReceiptFile, error) {
	var file *ReceiptFile
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(filesBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &file)
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// SetValidity overwrites the validity verdict for a file. Re-validating an
// already-validated file is permitted; the prior verdict is replaced. The
// reason is kept only for an invalid verdict.
func (b *BoltDB) SetValidity(id string, validity Validity, reason string) (*ReceiptFile, error) {
	var file *ReceiptFile
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(filesBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("file %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("unmarshaling file: %w", err)
		}

		file.Validity = validity
		if validity == ValidityInvalid {
			file.InvalidReason = reason
		} else {
			file.InvalidReason = ""
		}

		updated, err := json.Marshal(file)
		if err != nil {
			return fmt.Errorf("marshaling file: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ListFiles returns all registry entries. Bucket keys are ids generated from
// a monotonic clock, so key order is insertion order.
func (b *BoltDB) ListFiles() ([]*ReceiptFile, error) {
	files := make([]*ReceiptFile, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(filesBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var file ReceiptFile
			if err := json.Unmarshal(v, &file); err != nil {
				return fmt.Errorf("unmarshaling file: %w", err)
			}
			files = append(files, &file)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// CommitReceipt atomically stores a receipt and marks its file processed.
// The transaction re-checks the file's state, so it doubles as the
// compare-and-set guarding concurrent Process calls: the second caller
// observes ErrConflict no matter how the calls interleave.
func (b *BoltDB) CommitReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		files := tx.Bucket([]byte(filesBucketName))
		data := files.Get([]byte(receipt.FileID))
		if data == nil {
			return fmt.Errorf("file %s: %w", receipt.FileID, ErrNotFound)
		}

		var file ReceiptFile
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("unmarshaling file: %w", err)
		}
		if file.Processed {
			return fmt.Errorf("file %s already processed: %w", file.ID, ErrConflict)
		}
		if file.Validity != ValidityValid {
			return fmt.Errorf("file %s is %s, not valid: %w", file.ID, file.Validity, ErrConflict)
		}

		index := tx.Bucket([]byte(fileIndexBucketName))
		if index.Get([]byte(receipt.FileID)) != nil {
			return fmt.Errorf("receipt already exists for file %s: %w", receipt.FileID, ErrConflict)
		}

		receiptData, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := tx.Bucket([]byte(receiptsBucketName)).Put([]byte(receipt.ID), receiptData); err != nil {
			return err
		}
		if err := index.Put([]byte(receipt.FileID), []byte(receipt.ID)); err != nil {
			return err
		}

		file.Processed = true
		updated, err := json.Marshal(&file)
		if err != nil {
			return fmt.Errorf("marshaling file: %w", err)
		}
		return files.Put([]byte(file.ID), updated)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts in insertion order
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
