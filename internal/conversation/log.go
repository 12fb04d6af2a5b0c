// Package conversation keeps the bounded history of WhatsApp messages shown
// in the console, persisted as a single JSON document.
package conversation

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// MaxRecords is the number of records retained; older ones are evicted.
const MaxRecords = 2000

// DefaultLimit applies when a query asks for zero or a negative limit.
const DefaultLimit = 100

type Author string

const (
	AuthorUser Author = "usuario"
	AuthorBot  Author = "bot"
)

type Direction string

const (
	Received Direction = "recebida"
	Sent     Direction = "enviada"
)

// Query modes understood by Query.
const (
	ModeAll      = "todas"
	ModeReceived = "recebidas"
	ModeSent     = "enviadas"
)

// Record is one logged message. Field names follow the console's JSON.
type Record struct {
	ID             string    `json:"id"`
	Number         string    `json:"numero"`
	Text           string    `json:"mensagem"`
	Author         Author    `json:"autor"`
	Direction      Direction `json:"tipo"`
	Timestamp      time.Time `json:"dataHora"`
	TimestampLocal string    `json:"dataFormatada"`
	Origin         string    `json:"origem"`
}

// UnmarshalJSON accepts ids written as JSON numbers by older logs and keeps
// their literal text.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	aux := struct {
		ID json.RawMessage `json:"id"`
		*plain
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	raw := strings.TrimSpace(string(aux.ID))
	switch {
	case raw == "" || raw == "null":
		r.ID = ""
	case raw[0] == '"':
		return json.Unmarshal(aux.ID, &r.ID)
	default:
		var n json.Number
		if err := json.Unmarshal(aux.ID, &n); err != nil {
			return fmt.Errorf("record id: %w", err)
		}
		r.ID = n.String()
	}
	return nil
}

// QueryParams filters a Query.
type QueryParams struct {
	Limit  int
	Number string // substring match on Record.Number
	Mode   string
}

// Log is the file-backed conversation log. Every operation is a whole
// document read-modify-write under one mutex.
type Log struct {
	path    string
	max     int
	log     waLog.Logger
	mu      sync.Mutex
	entropy *rand.Rand
	now     func() time.Time
}

// Open returns a log stored at path, creating an empty document if needed.
func Open(path string, log waLog.Logger) (*Log, error) {
	if log == nil {
		log = waLog.Noop
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
	}
	return &Log{
		path:    path,
		max:     MaxRecords,
		log:     log,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}, nil
}

// Path returns the backing document.
func (l *Log) Path() string { return l.path }

// OriginScheduled labels messages delivered by the scheduler.
const OriginScheduled = "📆 Agendada"

// Record builds a record for number/text and appends it.
func (l *Log) Record(number, text string, author Author, dir Direction) (Record, error) {
	return l.RecordFrom(number, text, author, dir, originLabel(author))
}

// RecordFrom is Record with an explicit origin label.
func (l *Log) RecordFrom(number, text string, author Author, dir Direction, origin string) (Record, error) {
	l.mu.Lock()
	now := l.now()
	rec := Record{
		ID:             ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		Number:         number,
		Text:           text,
		Author:         author,
		Direction:      dir,
		Timestamp:      now.UTC(),
		TimestampLocal: now.Local().Format("02/01/2006, 15:04:05"),
		Origin:         origin,
	}
	l.mu.Unlock()

	if err := l.Append(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Append prepends rec and trims the log to its bound.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.read()
	if err != nil {
		return err
	}
	records = append([]Record{rec}, records...)
	if len(records) > l.max {
		records = records[:l.max]
	}
	if err := l.write(records); err != nil {
		return err
	}
	l.log.Debugf("Saved conversation record %s -> %s", rec.Author, rec.Number)
	return nil
}

// Query returns records newest first, filtered by number and mode, capped at
// the limit.
func (l *Log) Query(p QueryParams) ([]Record, error) {
	l.mu.Lock()
	records, err := l.read()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	filter := strings.TrimSpace(p.Number)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if filter != "" && !strings.Contains(r.Number, filter) {
			continue
		}
		if !modeMatches(p.Mode, r) {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Clear empties the log.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write([]Record{})
}

func (l *Log) read() ([]Record, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", l.path, err)
	}
	return records, nil
}

func (l *Log) write(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversations: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace %s: %w", l.path, err)
	}
	return nil
}

func modeMatches(mode string, r Record) bool {
	switch mode {
	case ModeReceived:
		return r.Direction == Received
	case ModeSent:
		return r.Direction == Sent
	default:
		return true
	}
}

func originLabel(a Author) string {
	if a == AuthorBot {
		return "🤖 Bot"
	}
	return "👤 Usuário"
}
