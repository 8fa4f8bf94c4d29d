package bus

// Durable event journal over database/sql. The journal is advisory: the bus
// serves polls from memory only, and a journal failure never fails an emit.
// Its value is offline recovery — a consumer whose cursor fell behind the
// retention window can reconstruct the gap from the journal.
//
// Two drivers are supported: sqlite3 for single-node deployments and
// postgres when the journal should outlive the host.

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/enginelink/enginelink/pkg/protocol"
)

// Journal records emitted events.
type Journal interface {
	Append(ev protocol.Event) error
	Close() error
}

// SQLJournal persists events to a relational table.
type SQLJournal struct {
	db        *sql.DB
	insertSQL string
}

// OpenSQLJournal opens (and migrates) a journal. driver is "sqlite3" or
// "postgres"; dsn is driver-specific.
func OpenSQLJournal(driver, dsn string) (*SQLJournal, error) {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("bus: unsupported journal driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("bus: open journal: %w", err)
	}
	if driver == "sqlite3" {
		// sqlite allows one writer; a single pooled conn avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	j := &SQLJournal{db: db, insertSQL: insertStatement(driver)}
	if err := j.initSchema(driver); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLJournal) initSchema(driver string) error {
	payloadType := "TEXT"
	if driver == "postgres" {
		payloadType = "JSONB"
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS engine_events (
	id          TEXT PRIMARY KEY,
	seq         BIGINT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     %s,
	recorded_at TEXT NOT NULL
)`, payloadType)
	if _, err := j.db.Exec(ddl); err != nil {
		return fmt.Errorf("bus: init journal schema: %w", err)
	}
	if _, err := j.db.Exec(`CREATE INDEX IF NOT EXISTS engine_events_seq ON engine_events (seq)`); err != nil {
		return fmt.Errorf("bus: init journal index: %w", err)
	}
	return nil
}

func insertStatement(driver string) string {
	if driver == "postgres" {
		return `INSERT INTO engine_events (id, seq, event_type, payload, recorded_at) VALUES ($1, $2, $3, $4, $5)`
	}
	return `INSERT INTO engine_events (id, seq, event_type, payload, recorded_at) VALUES (?, ?, ?, ?, ?)`
}

// Append writes one event row.
func (j *SQLJournal) Append(ev protocol.Event) error {
	_, err := j.db.Exec(j.insertSQL,
		uuid.NewString(),
		ev.Seq,
		ev.Type,
		string(ev.Payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("bus: journal append seq %d: %w", ev.Seq, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (j *SQLJournal) Close() error {
	return j.db.Close()
}
