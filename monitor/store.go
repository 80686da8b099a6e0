package monitor

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/chargekeep/chargekeep/evapi"
)

const schema = `
CREATE TABLE IF NOT EXISTS socket_status (
	physical_socket_id INTEGER PRIMARY KEY,
	cupr_id INTEGER,
	cupr_name TEXT,
	cp_id INTEGER,
	socket_type TEXT,
	status TEXT,
	status_updated TEXT,
	checked_at TEXT
);`

// Store keeps the last observed status per connector in SQLite, so change
// detection survives restarts.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "[monitor.OpenStore]")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "[monitor.OpenStore] schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LastStatuses returns the previously stored status per physical socket id.
func (s *Store) LastStatuses(ctx context.Context) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT physical_socket_id, status FROM socket_status`)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.LastStatuses]")
	}
	defer rows.Close()

	statuses := make(map[int]string)
	for rows.Next() {
		var id int
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, errors.Wrap(err, "[Store.LastStatuses] scan")
		}
		statuses[id] = status
	}
	return statuses, errors.Wrap(rows.Err(), "[Store.LastStatuses]")
}

// SaveSockets upserts the observed state of every socket in one transaction.
func (s *Store) SaveSockets(ctx context.Context, sockets []evapi.Socket, checkedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "[Store.SaveSockets]")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO socket_status
		(physical_socket_id, cupr_id, cupr_name, cp_id, socket_type, status, status_updated, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "[Store.SaveSockets] prepare")
	}
	defer stmt.Close()

	for _, sock := range sockets {
		_, err := stmt.ExecContext(ctx,
			sock.PhysicalSocketID, sock.CuprID, sock.CuprName, sock.CPID,
			sock.SocketType, sock.Status, sock.StatusUpdated,
			checkedAt.Format(time.RFC3339))
		if err != nil {
			return errors.Wrapf(err, "[Store.SaveSockets] socket %d", sock.PhysicalSocketID)
		}
	}
	return errors.Wrap(tx.Commit(), "[Store.SaveSockets] commit")
}
