package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Source tells where a scan came from.
type Source string

const (
	// SourceLive is a barcode published from the live preview.
	SourceLive Source = "live"
	// SourcePhoto is a barcode found on a captured photo.
	SourcePhoto Source = "photo"
)

// Scan is one recorded barcode payload.
type Scan struct {
	ID        string
	Payload   string
	Source    Source
	ScannedAt time.Time
}

// ScanRepository provides access to scan history.
type ScanRepository struct {
	db *sql.DB
}

// Scans returns the scan repository for this store.
func (s *Store) Scans() *ScanRepository {
	return &ScanRepository{db: s.db}
}

// Record stores a new scan of payload and returns it.
func (r *ScanRepository) Record(payload string, source Source) (*Scan, error) {
	sc := &Scan{
		ID:        uuid.NewString(),
		Payload:   payload,
		Source:    source,
		ScannedAt: time.Now().UTC(),
	}
	if err := r.Create(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// Create inserts sc as given.
func (r *ScanRepository) Create(sc *Scan) error {
	_, err := r.db.Exec(
		`INSERT INTO scans (id, payload, source, scanned_at) VALUES (?, ?, ?, ?)`,
		sc.ID, sc.Payload, string(sc.Source), sc.ScannedAt,
	)
	return err
}

// GetByID retrieves a scan by its ID.
func (r *ScanRepository) GetByID(id string) (*Scan, error) {
	sc := &Scan{}
	var source string

	err := r.db.QueryRow(
		`SELECT id, payload, source, scanned_at FROM scans WHERE id = ?`,
		id,
	).Scan(&sc.ID, &sc.Payload, &source, &sc.ScannedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sc.Source = Source(source)
	return sc, nil
}

// List returns the most recent scans first. A non-positive limit returns
// every scan.
func (r *ScanRepository) List(limit int) ([]*Scan, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, payload, source, scanned_at
		 FROM scans ORDER BY scanned_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []*Scan
	for rows.Next() {
		sc := &Scan{}
		var source string
		if err := rows.Scan(&sc.ID, &sc.Payload, &source, &sc.ScannedAt); err != nil {
			return nil, err
		}
		sc.Source = Source(source)
		scans = append(scans, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return scans, nil
}

// Count returns the number of recorded scans.
func (r *ScanRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM scans`).Scan(&n)
	return n, err
}

// Delete removes a scan by its ID.
func (r *ScanRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM scans WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
