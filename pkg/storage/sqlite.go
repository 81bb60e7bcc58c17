package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/bobbin/pkg/bytecode"
)

var log = commonlog.GetLogger("bobbin.storage")

// SQLiteStorage is a VariableStorage backed by a SQLite database. Each
// profile keys its own variable namespace, so one database file can hold
// many independent playthroughs.
type SQLiteStorage struct {
	db      *sql.DB
	profile string
	mu      sync.Mutex
}

// NewSQLiteStorage opens (or creates) a database and binds a profile.
func NewSQLiteStorage(dbPath, profile string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS variables (
		profile TEXT NOT NULL,
		name TEXT NOT NULL,
		data JSON NOT NULL,
		PRIMARY KEY (profile, name)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLiteStorage{db: db, profile: profile}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the stored value for a name.
func (s *SQLiteStorage) Get(name string) (bytecode.Value, bool) {
	var data string
	err := s.db.QueryRow(
		"SELECT data FROM variables WHERE profile = ? AND name = ?",
		s.profile, name,
	).Scan(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Errorf("reading %q: %s", name, err.Error())
		}
		return bytecode.Value{}, false
	}
	v, err := decodeValue([]byte(data))
	if err != nil {
		log.Errorf("decoding %q: %s", name, err.Error())
		return bytecode.Value{}, false
	}
	return v, true
}

// Set stores a value, replacing any previous one.
func (s *SQLiteStorage) Set(name string, value bytecode.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encodeValue(value)
	if err != nil {
		log.Errorf("encoding %q: %s", name, err.Error())
		return
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO variables (profile, name, data) VALUES (?, ?, json(?))",
		s.profile, name, string(data),
	)
	if err != nil {
		log.Errorf("writing %q: %s", name, err.Error())
	}
}

// InitializeIfAbsent stores the value only when the name is unset.
func (s *SQLiteStorage) InitializeIfAbsent(name string, value bytecode.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encodeValue(value)
	if err != nil {
		log.Errorf("encoding %q: %s", name, err.Error())
		return
	}
	_, err = s.db.Exec(
		"INSERT OR IGNORE INTO variables (profile, name, data) VALUES (?, ?, json(?))",
		s.profile, name, string(data),
	)
	if err != nil {
		log.Errorf("initializing %q: %s", name, err.Error())
	}
}

// Contains reports whether a name is set.
func (s *SQLiteStorage) Contains(name string) bool {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM variables WHERE profile = ? AND name = ?",
		s.profile, name,
	).Scan(&one)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Errorf("checking %q: %s", name, err.Error())
		}
		return false
	}
	return true
}

// Reset deletes every variable in the profile.
func (s *SQLiteStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM variables WHERE profile = ?", s.profile)
	if err != nil {
		return fmt.Errorf("resetting profile %q: %w", s.profile, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// JSON value encoding
// ---------------------------------------------------------------------------

// jsonValue is the stored shape of a Value. The explicit type tag keeps
// int and float distinct across a round trip.
type jsonValue struct {
	Type  string               `json:"type"`
	Bool  bool                 `json:"bool,omitempty"`
	Int   int64                `json:"int,omitempty"`
	Float float64              `json:"float,omitempty"`
	Str   string               `json:"str,omitempty"`
	Table map[string]jsonValue `json:"table,omitempty"`
}

func toJSONValue(v bytecode.Value) jsonValue {
	switch v.Type() {
	case bytecode.TypeBool:
		return jsonValue{Type: "bool", Bool: v.Bool()}
	case bytecode.TypeInt:
		return jsonValue{Type: "int", Int: v.Int()}
	case bytecode.TypeFloat:
		return jsonValue{Type: "float", Float: v.Float()}
	case bytecode.TypeString:
		return jsonValue{Type: "string", Str: v.Str()}
	case bytecode.TypeTable:
		t := make(map[string]jsonValue, len(v.Table()))
		for k, val := range v.Table() {
			t[k] = toJSONValue(val)
		}
		return jsonValue{Type: "table", Table: t}
	default:
		return jsonValue{Type: "string", Str: v.String()}
	}
}

func fromJSONValue(j jsonValue) (bytecode.Value, error) {
	switch j.Type {
	case "bool":
		return bytecode.BoolValue(j.Bool), nil
	case "int":
		return bytecode.IntValue(j.Int), nil
	case "float":
		return bytecode.FloatValue(j.Float), nil
	case "string":
		return bytecode.StringValue(j.Str), nil
	case "table":
		m := make(map[string]bytecode.Value, len(j.Table))
		for k, val := range j.Table {
			decoded, err := fromJSONValue(val)
			if err != nil {
				return bytecode.Value{}, err
			}
			m[k] = decoded
		}
		return bytecode.TableValue(m), nil
	default:
		return bytecode.Value{}, fmt.Errorf("unknown value type %q", j.Type)
	}
}

func encodeValue(v bytecode.Value) ([]byte, error) {
	return json.Marshal(toJSONValue(v))
}

func decodeValue(data []byte) (bytecode.Value, error) {
	var j jsonValue
	if err := json.Unmarshal(data, &j); err != nil {
		return bytecode.Value{}, err
	}
	return fromJSONValue(j)
}
