package objectstore

import (
	"database/sql"
	"encoding"
	"errors"
	"fmt"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// sqlObjectStore is a type implementing the objectstore.ObjectStore interface over a database/sql
// connection. It supports the "sqlite3" and "postgres" drivers.
type sqlObjectStore struct {
	db     *sql.DB
	driver string
}

const (
	sqliteSchema   = `CREATE TABLE IF NOT EXISTS objects (id TEXT PRIMARY KEY, value BLOB NOT NULL)`
	postgresSchema = `CREATE TABLE IF NOT EXISTS objects (id TEXT PRIMARY KEY, value BYTEA NOT NULL)`

	upsertQuery = `INSERT INTO objects (id, value) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET value = excluded.value`
	selectQuery = `SELECT value FROM objects WHERE id = $1`
	existsQuery = `SELECT COUNT(1) FROM objects WHERE id = $1`
	deleteQuery = `DELETE FROM objects WHERE id = $1`
)

// NewSQLObjectStore opens the database designated by dsn with the given driver
// and creates the object table if needed.
func NewSQLObjectStore(driver, dsn string) (*sqlObjectStore, error) {
	var schema string
	switch driver {
	case "sqlite3":
		schema = sqliteSchema
	case "postgres":
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create object table: %w", err)
	}
	return &sqlObjectStore{db: db, driver: driver}, nil
}

func (objstore *sqlObjectStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	data, err := object.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = objstore.db.Exec(upsertQuery, objectID, data)
	return err
}

func (objstore *sqlObjectStore) Load(objectID string, object encoding.BinaryUnmarshaler) error {
	var data []byte
	err := objstore.db.QueryRow(selectQuery, objectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: no value for key %s in %s ObjectStore", ErrNotFound, objectID, objstore.driver)
	}
	if err != nil {
		return err
	}
	return object.UnmarshalBinary(data)
}

func (objstore *sqlObjectStore) IsPresent(objectID string) (bool, error) {
	var n int
	if err := objstore.db.QueryRow(existsQuery, objectID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (objstore *sqlObjectStore) Delete(objectID string) error {
	_, err := objstore.db.Exec(deleteQuery, objectID)
	return err
}

// Write applies the batch in a single database transaction.
func (objstore *sqlObjectStore) Write(batch *Batch) (err error) {
	tx, err := objstore.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	for _, op := range batch.ops {
		if op.Value == nil {
			_, err = tx.Exec(deleteQuery, op.ID)
		} else {
			_, err = tx.Exec(upsertQuery, op.ID, op.Value)
		}
		if err != nil {
			return fmt.Errorf("could not write %s: %w", op.ID, err)
		}
	}
	return tx.Commit()
}

func (objstore *sqlObjectStore) Close() error {
	return objstore.db.Close()
}
