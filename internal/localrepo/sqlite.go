package localrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/ruikei/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS typedefs (
	guid     TEXT PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	version  INTEGER NOT NULL,
	category TEXT NOT NULL,
	body     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS attribute_typedefs (
	guid     TEXT PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	version  INTEGER NOT NULL,
	category TEXT NOT NULL,
	body     TEXT NOT NULL
);
`

// SQLite is a local repository backed by a single SQLite file. Each
// definition is stored as JSON alongside its identity columns.
type SQLite struct {
	db   *sql.DB
	opts options
}

// OpenSQLite opens (creating if necessary) the repository at path.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("localrepo: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localrepo: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("localrepo: initialise schema: %w", err)
		}
	}
	return &SQLite{db: db, opts: buildOptions(opts)}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("localrepo: %s: %w: %w", op, ErrUnavailable, err)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTypeDef(ctx context.Context, q queryer, column, value string) (*model.TypeDef, error) {
	var body string
	err := q.QueryRowContext(ctx, "SELECT body FROM typedefs WHERE "+column+" = ?", value).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get typedef", err)
	}
	var def model.TypeDef
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return nil, fmt.Errorf("localrepo: decode typedef %s: %w", value, err)
	}
	return &def, nil
}

func getAttributeTypeDef(ctx context.Context, q queryer, column, value string) (*model.AttributeTypeDef, error) {
	var body string
	err := q.QueryRowContext(ctx, "SELECT body FROM attribute_typedefs WHERE "+column+" = ?", value).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get attribute typedef", err)
	}
	var def model.AttributeTypeDef
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return nil, fmt.Errorf("localrepo: decode attribute typedef %s: %w", value, err)
	}
	return &def, nil
}

func typeDefPair(ctx context.Context, q queryer, guid, name string) (byGUID, byName *model.TypeDef, err error) {
	if byGUID, err = getTypeDef(ctx, q, "guid", guid); err != nil {
		return nil, nil, err
	}
	if byName, err = getTypeDef(ctx, q, "name", name); err != nil {
		return nil, nil, err
	}
	return byGUID, byName, nil
}

func attributeTypeDefPair(ctx context.Context, q queryer, guid, name string) (byGUID, byName *model.AttributeTypeDef, err error) {
	if byGUID, err = getAttributeTypeDef(ctx, q, "guid", guid); err != nil {
		return nil, nil, err
	}
	if byName, err = getAttributeTypeDef(ctx, q, "name", name); err != nil {
		return nil, nil, err
	}
	return byGUID, byName, nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func insertTypeDef(ctx context.Context, tx *sql.Tx, def model.TypeDef) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("localrepo: encode typedef: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO typedefs (guid, name, version, category, body) VALUES (?, ?, ?, ?, ?)`,
		def.GUID, def.Name, def.Version, string(def.Category), string(body))
	if err != nil {
		return unavailable("insert typedef", err)
	}
	return nil
}

func insertAttributeTypeDef(ctx context.Context, tx *sql.Tx, def model.AttributeTypeDef) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("localrepo: encode attribute typedef: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attribute_typedefs (guid, name, version, category, body) VALUES (?, ?, ?, ?, ?)`,
		def.GUID, def.Name, def.Version, string(def.Category), string(body))
	if err != nil {
		return unavailable("insert attribute typedef", err)
	}
	return nil
}

// VerifyTypeDef implements reconcile.LocalRepository.
func (s *SQLite) VerifyTypeDef(ctx context.Context, def model.TypeDef) (bool, error) {
	byGUID, byName, err := typeDefPair(ctx, s.db, def.GUID, def.Name)
	if err != nil {
		return false, err
	}
	return compareTypeDef(def, byGUID, byName)
}

// AddTypeDef implements reconcile.LocalRepository.
func (s *SQLite) AddTypeDef(ctx context.Context, def model.TypeDef) error {
	if err := validTypeDef(def); err != nil {
		return err
	}
	if s.opts.unsupported[def.Category] {
		return fmt.Errorf("%w: %s", ErrNotSupported, def.Category)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		byGUID, byName, err := typeDefPair(ctx, tx, def.GUID, def.Name)
		if err != nil {
			return err
		}
		same, err := compareTypeDef(def, byGUID, byName)
		if err != nil {
			return err
		}
		if same {
			return ErrAlreadyKnown
		}
		return insertTypeDef(ctx, tx, def)
	})
}

// UpdateTypeDef implements reconcile.LocalRepository.
func (s *SQLite) UpdateTypeDef(ctx context.Context, patch model.TypeDefPatch) (model.TypeDef, error) {
	var updated model.TypeDef
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := getTypeDef(ctx, tx, "guid", patch.TypeDefGUID)
		if err != nil {
			return err
		}
		if stored == nil || stored.Name != patch.TypeDefName {
			return fmt.Errorf("%w: %s (%s)", ErrNotKnown, patch.TypeDefName, patch.TypeDefGUID)
		}
		if updated, err = applyPatch(*stored, patch); err != nil {
			return err
		}
		body, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("localrepo: encode typedef: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE typedefs SET version = ?, body = ? WHERE guid = ?`,
			updated.Version, string(body), updated.GUID); err != nil {
			return unavailable("update typedef", err)
		}
		return nil
	})
	if err != nil {
		return model.TypeDef{}, err
	}
	return updated, nil
}

// DeleteTypeDef implements reconcile.LocalRepository.
func (s *SQLite) DeleteTypeDef(ctx context.Context, guid, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM typedefs WHERE guid = ? AND name = ?`, guid, name)
	if err != nil {
		return unavailable("delete typedef", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s (%s)", ErrNotKnown, name, guid)
	}
	return nil
}

// ReidentifyTypeDef implements reconcile.LocalRepository.
func (s *SQLite) ReidentifyTypeDef(ctx context.Context, oldGUID, oldName string, def model.TypeDef) error {
	if err := validTypeDef(def); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := getTypeDef(ctx, tx, "guid", oldGUID)
		if err != nil {
			return err
		}
		if stored == nil || stored.Name != oldName {
			return fmt.Errorf("%w: %s (%s)", ErrNotKnown, oldName, oldGUID)
		}
		byGUID, byName, err := typeDefPair(ctx, tx, def.GUID, def.Name)
		if err != nil {
			return err
		}
		if err := renameCollision(oldGUID, byGUID, byName); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM typedefs WHERE guid = ?`, oldGUID); err != nil {
			return unavailable("reidentify typedef", err)
		}
		return insertTypeDef(ctx, tx, def)
	})
}

// VerifyAttributeTypeDef implements reconcile.LocalRepository.
func (s *SQLite) VerifyAttributeTypeDef(ctx context.Context, def model.AttributeTypeDef) (bool, error) {
	byGUID, byName, err := attributeTypeDefPair(ctx, s.db, def.GUID, def.Name)
	if err != nil {
		return false, err
	}
	return compareAttributeTypeDef(def, byGUID, byName)
}

// AddAttributeTypeDef implements reconcile.LocalRepository.
func (s *SQLite) AddAttributeTypeDef(ctx context.Context, def model.AttributeTypeDef) error {
	if err := validAttributeTypeDef(def); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		byGUID, byName, err := attributeTypeDefPair(ctx, tx, def.GUID, def.Name)
		if err != nil {
			return err
		}
		same, err := compareAttributeTypeDef(def, byGUID, byName)
		if err != nil {
			return err
		}
		if same {
			return ErrAlreadyKnown
		}
		return insertAttributeTypeDef(ctx, tx, def)
	})
}

// DeleteAttributeTypeDef implements reconcile.LocalRepository.
func (s *SQLite) DeleteAttributeTypeDef(ctx context.Context, guid, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attribute_typedefs WHERE guid = ? AND name = ?`, guid, name)
	if err != nil {
		return unavailable("delete attribute typedef", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s (%s)", ErrNotKnown, name, guid)
	}
	return nil
}

// ReidentifyAttributeTypeDef implements reconcile.LocalRepository.
func (s *SQLite) ReidentifyAttributeTypeDef(ctx context.Context, oldGUID, oldName string, def model.AttributeTypeDef) error {
	if err := validAttributeTypeDef(def); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := getAttributeTypeDef(ctx, tx, "guid", oldGUID)
		if err != nil {
			return err
		}
		if stored == nil || stored.Name != oldName {
			return fmt.Errorf("%w: %s (%s)", ErrNotKnown, oldName, oldGUID)
		}
		byGUID, byName, err := attributeTypeDefPair(ctx, tx, def.GUID, def.Name)
		if err != nil {
			return err
		}
		if err := renameAttributeCollision(oldGUID, byGUID, byName); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attribute_typedefs WHERE guid = ?`, oldGUID); err != nil {
			return unavailable("reidentify attribute typedef", err)
		}
		return insertAttributeTypeDef(ctx, tx, def)
	})
}

// ListTypeDefs returns every stored type definition ordered by name.
func (s *SQLite) ListTypeDefs(ctx context.Context) ([]model.TypeDef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM typedefs ORDER BY name`)
	if err != nil {
		return nil, unavailable("list typedefs", err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.TypeDef
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, unavailable("scan typedef", err)
		}
		var def model.TypeDef
		if err := json.Unmarshal([]byte(body), &def); err != nil {
			return nil, fmt.Errorf("localrepo: decode typedef: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list typedefs", err)
	}
	return out, nil
}

// ListAttributeTypeDefs returns every stored attribute type ordered by name.
func (s *SQLite) ListAttributeTypeDefs(ctx context.Context) ([]model.AttributeTypeDef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM attribute_typedefs ORDER BY name`)
	if err != nil {
		return nil, unavailable("list attribute typedefs", err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.AttributeTypeDef
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, unavailable("scan attribute typedef", err)
		}
		var def model.AttributeTypeDef
		if err := json.Unmarshal([]byte(body), &def); err != nil {
			return nil, fmt.Errorf("localrepo: decode attribute typedef: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list attribute typedefs", err)
	}
	return out, nil
}
