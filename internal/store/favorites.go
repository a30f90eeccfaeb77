package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lanbeam/lanbeam/internal/models"
)

// DBFileName is the SQLite filename under the app data dir.
const DBFileName = "lanbeam.db"

var ErrNotFound = errors.New("not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS favorites (
  fingerprint TEXT PRIMARY KEY,
  alias       TEXT NOT NULL,
  last_ip     TEXT,
  added_at    INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_favorites_alias ON favorites (alias);
`,
}

// Favorites is the persistent device registry, keyed by fingerprint
// since IPs are unstable across sessions.
type Favorites struct {
	db *sql.DB
}

// OpenFavorites opens (creating if needed) the favorites database
// under the given data directory.
func OpenFavorites(dataDir string) (*Favorites, error) {
	return OpenFavoritesPath(filepath.Join(dataDir, DBFileName))
}

func OpenFavoritesPath(dbPath string) (*Favorites, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open favorites db: %w", err)
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate favorites db: %w", err)
		}
	}

	return &Favorites{db: db}, nil
}

func (f *Favorites) Close() error {
	return f.db.Close()
}

// Add inserts a favorite. Adding an already-favorited fingerprint is a
// no-op; the stored alias and IP are not overwritten.
func (f *Favorites) Add(dev models.FavoriteDevice) error {
	if dev.Fingerprint == "" {
		return errors.New("fingerprint is required")
	}
	if dev.AddedAt.IsZero() {
		dev.AddedAt = time.Now()
	}

	_, err := f.db.Exec(
		`INSERT OR IGNORE INTO favorites (fingerprint, alias, last_ip, added_at)
		 VALUES (?, ?, ?, ?)`,
		dev.Fingerprint, dev.Alias, dev.LastIP, dev.AddedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert favorite %q: %w", dev.Fingerprint, err)
	}
	return nil
}

// Remove deletes a favorite by fingerprint. Removing an absent
// fingerprint is not an error.
func (f *Favorites) Remove(fingerprint string) error {
	_, err := f.db.Exec(`DELETE FROM favorites WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return fmt.Errorf("remove favorite %q: %w", fingerprint, err)
	}
	return nil
}

// Toggle flips membership and reports the resulting state: true when
// the device is now a favorite.
func (f *Favorites) Toggle(dev models.FavoriteDevice) (bool, error) {
	fav, err := f.IsFavorite(dev.Fingerprint)
	if err != nil {
		return false, err
	}

	if fav {
		return false, f.Remove(dev.Fingerprint)
	}
	return true, f.Add(dev)
}

func (f *Favorites) IsFavorite(fingerprint string) (bool, error) {
	var one int
	err := f.db.QueryRow(
		`SELECT 1 FROM favorites WHERE fingerprint = ?`, fingerprint,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query favorite %q: %w", fingerprint, err)
	}
	return true, nil
}

// TouchIP records the last IP a favorite was reached at.
func (f *Favorites) TouchIP(fingerprint, ip string) error {
	_, err := f.db.Exec(
		`UPDATE favorites SET last_ip = ? WHERE fingerprint = ?`, ip, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("touch favorite %q: %w", fingerprint, err)
	}
	return nil
}

// List returns all favorites sorted by alias.
func (f *Favorites) List() ([]models.FavoriteDevice, error) {
	rows, err := f.db.Query(
		`SELECT fingerprint, alias, last_ip, added_at
		 FROM favorites ORDER BY alias, fingerprint`,
	)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	favorites := make([]models.FavoriteDevice, 0)
	for rows.Next() {
		var dev models.FavoriteDevice
		var lastIP sql.NullString
		var addedAt int64

		if err := rows.Scan(&dev.Fingerprint, &dev.Alias, &lastIP, &addedAt); err != nil {
			return nil, fmt.Errorf("scan favorite row: %w", err)
		}
		dev.LastIP = lastIP.String
		dev.AddedAt = time.UnixMilli(addedAt)
		favorites = append(favorites, dev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorite rows: %w", err)
	}

	return favorites, nil
}
