package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"recordsync/internal/server/repository"
	"recordsync/internal/shared/models"
)

type Repository struct {
	db *sql.DB
}

func New(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS objects (
			model TEXT NOT NULL,
			pk TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			fields BLOB NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY(model, pk),
			FOREIGN KEY(owner_id) REFERENCES users(id)
		);
		CREATE INDEX IF NOT EXISTS objects_owner_model ON objects(owner_id, model);
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

// Auth

func (r *Repository) CreateUser(ctx context.Context, email string, passwordHash []byte) (models.User, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO users(id,email,password_hash,created_at) VALUES(?,?,?,?)`, id, email, passwordHash, now)
	if err != nil {
		return models.User{}, err
	}
	return models.User{ID: id, Email: email, CreatedAt: now}, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (id string, passwordHash []byte, err error) {
	row := r.db.QueryRowContext(ctx, `SELECT id,password_hash FROM users WHERE email = ?`, email)
	if err = row.Scan(&id, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, repository.ErrNotFound
		}
		return "", nil, err
	}
	return
}

// Objects

func (r *Repository) CreateObject(ctx context.Context, obj models.Object) (models.Object, error) {
	if obj.PK == "" {
		obj.PK = uuid.NewString()
	}
	if obj.Fields == nil {
		obj.Fields = map[string]any{}
	}
	obj.Version = 1
	obj.UpdatedAt = time.Now().UTC()
	fieldsJSON, err := json.Marshal(obj.Fields)
	if err != nil {
		return models.Object{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO objects(model, pk, owner_id, fields, version, updated_at)
		VALUES(?,?,?,?,?,?)
	`, obj.Model, obj.PK, obj.OwnerID, fieldsJSON, obj.Version, obj.UpdatedAt)
	if err != nil {
		return models.Object{}, err
	}
	return obj, nil
}

// UpdateObject merges fields into the stored object. The write only lands
// if nobody bumped the version between the read and the update.
func (r *Repository) UpdateObject(ctx context.Context, ownerID, model, pk string, fields map[string]any) (models.Object, error) {
	obj, err := r.GetObject(ctx, ownerID, model, pk)
	if err != nil {
		return models.Object{}, err
	}
	for k, v := range fields {
		obj.Fields[k] = v
	}
	fieldsJSON, err := json.Marshal(obj.Fields)
	if err != nil {
		return models.Object{}, err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE objects SET fields=?, version=?, updated_at=?
		WHERE model=? AND pk=? AND owner_id=? AND version=?
	`, fieldsJSON, obj.Version+1, now, model, pk, ownerID, obj.Version)
	if err != nil {
		return models.Object{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.Object{}, repository.ErrVersionConflict
	}
	obj.Version++
	obj.UpdatedAt = now
	return obj, nil
}

func (r *Repository) ListObjects(ctx context.Context, ownerID, model string) ([]models.Object, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT model, pk, owner_id, fields, version, updated_at FROM objects WHERE owner_id = ? AND model = ? ORDER BY updated_at, pk`, ownerID, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (r *Repository) GetObject(ctx context.Context, ownerID, model, pk string) (models.Object, error) {
	row := r.db.QueryRowContext(ctx, `SELECT model, pk, owner_id, fields, version, updated_at FROM objects WHERE owner_id = ? AND model = ? AND pk = ?`, ownerID, model, pk)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Object{}, repository.ErrNotFound
	}
	return obj, err
}

func (r *Repository) DeleteObject(ctx context.Context, ownerID, model, pk string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM objects WHERE owner_id = ? AND model = ? AND pk = ?`, ownerID, model, pk)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObject(s scanner) (models.Object, error) {
	var obj models.Object
	var fieldsBytes []byte
	if err := s.Scan(&obj.Model, &obj.PK, &obj.OwnerID, &fieldsBytes, &obj.Version, &obj.UpdatedAt); err != nil {
		return models.Object{}, err
	}
	obj.Fields = map[string]any{}
	if len(fieldsBytes) > 0 {
		if err := json.Unmarshal(fieldsBytes, &obj.Fields); err != nil {
			return models.Object{}, fmt.Errorf("decode fields of %s/%s: %w", obj.Model, obj.PK, err)
		}
	}
	return obj, nil
}
