// Package schedule stores outbound messages scheduled from the console and
// delivers them once their trigger instant has passed.
package schedule

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
	fileExt    = ".txt"
)

var (
	ErrNotFound    = errors.New("scheduled message not found")
	ErrAlreadySent = errors.New("scheduled message already sent")
	ErrInvalid     = errors.New("invalid scheduled message")
)

// StoreError wraps a filesystem failure with the operation and record key.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("schedule %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("schedule %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Message is one scheduled outbound message. JSON names follow the console.
type Message struct {
	Key       string            `json:"arquivo"`
	ID        string            `json:"id,omitempty"`
	Recipient string            `json:"numero"`
	Date      string            `json:"data"`
	Time      string            `json:"hora"`
	Body      string            `json:"mensagem"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"criado"`
	SentAt    *time.Time        `json:"enviado_em,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Complete reports whether the record has everything needed for delivery.
func (m Message) Complete() bool {
	return m.Recipient != "" && m.Date != "" && m.Time != "" && m.Body != ""
}

// Trigger returns the instant the message becomes due, reading Date and Time
// as wall-clock values in loc.
func (m Message) Trigger(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(m.Date) + " " + strings.TrimSpace(m.Time)
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, s, loc)
	if err == nil {
		return t, nil
	}
	if t, err2 := time.ParseInLocation(dateLayout+" 15:04:05", s, loc); err2 == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: bad date/time %q: %v", ErrInvalid, s, err)
}

// Store keeps one flat key=value file per scheduled message. A single mutex
// serialises every read-modify-write against the directory.
type Store struct {
	dir     string
	loc     *time.Location
	log     waLog.Logger
	mu      sync.Mutex
	entropy *rand.Rand
	now     func() time.Time
}

// NewStore opens (creating if needed) the schedule directory. loc is the zone
// used to order records by trigger instant.
func NewStore(dir string, loc *time.Location, log waLog.Logger) (*Store, error) {
	if log == nil {
		log = waLog.Noop
	}
	if loc == nil {
		loc = time.UTC
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return &Store{
		dir:     dir,
		loc:     loc,
		log:     log,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Location() *time.Location { return s.loc }

var nonDigit = regexp.MustCompile(`[^0-9]`)

// sanitizePhone removes all non-numeric characters from a phone number.
func sanitizePhone(phone string) string {
	return nonDigit.ReplaceAllString(phone, "")
}

// Create writes a new pending record and returns its key.
func (s *Store) Create(recipient, date, clock, body string) (string, error) {
	recipient = sanitizePhone(recipient)
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if recipient == "" {
		return "", fmt.Errorf("%w: recipient is required", ErrInvalid)
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w: message body is required", ErrInvalid)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalid, date)
	}
	if _, err := time.Parse(timeLayout, clock); err != nil {
		return "", fmt.Errorf("%w: time %q must be HH:MM", ErrInvalid, clock)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := strings.ToLower(ulid.MustNew(ulid.Timestamp(now), s.entropy).String())
	key := fmt.Sprintf("%s_%s_%s_%s%s", date, strings.Replace(clock, ":", "-", 1), recipient, id, fileExt)
	msg := Message{
		Key:       key,
		ID:        id,
		Recipient: recipient,
		Date:      date,
		Time:      clock,
		Body:      body,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
	}
	if err := s.write(msg); err != nil {
		return "", &StoreError{Op: "create", Key: key, Err: err}
	}
	s.log.Infof("Scheduled message %s for %s at %s %s", key, recipient, date, clock)
	return key, nil
}

// Get reads one record.
func (s *Store) Get(key string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

// List returns every record ordered by trigger instant, earliest first.
// Records whose date or time cannot be parsed sort after all valid ones.
func (s *Store) List() ([]Message, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.mu.Unlock()
		return nil, &StoreError{Op: "list", Err: err}
	}
	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		m, err := s.get(e.Name())
		if err != nil {
			s.log.Warnf("Skipping unreadable scheduled message %s: %v", e.Name(), err)
			continue
		}
		msgs = append(msgs, m)
	}
	s.mu.Unlock()

	type keyed struct {
		msg   Message
		at    time.Time
		valid bool
	}
	ks := make([]keyed, len(msgs))
	for i, m := range msgs {
		at, err := m.Trigger(s.loc)
		ks[i] = keyed{msg: m, at: at, valid: err == nil}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if a.valid != b.valid {
			return a.valid
		}
		if a.valid && !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		return a.msg.Key < b.msg.Key
	})
	for i := range ks {
		msgs[i] = ks[i].msg
	}
	return msgs, nil
}

// MarkSent moves a pending record to sent. A record that is already sent is
// left untouched and ErrAlreadySent is returned.
func (s *Store) MarkSent(key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.get(key)
	if err != nil {
		return err
	}
	if m.Status == StatusSent {
		return ErrAlreadySent
	}
	at = at.UTC()
	m.Status = StatusSent
	m.SentAt = &at
	if err := s.write(m); err != nil {
		return &StoreError{Op: "mark-sent", Key: key, Err: err}
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.Contains(key, "..") || !strings.HasSuffix(key, fileExt) {
		return "", fmt.Errorf("%w: bad key %q", ErrInvalid, key)
	}
	return filepath.Join(s.dir, key), nil
}

func (s *Store) get(key string) (Message, error) {
	p, err := s.path(key)
	if err != nil {
		return Message{}, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Message{}, &StoreError{Op: "read", Key: key, Err: err}
	}
	defer f.Close()

	m, err := decode(bufio.NewScanner(f))
	if err != nil {
		return Message{}, &StoreError{Op: "read", Key: key, Err: err}
	}
	m.Key = key
	if m.CreatedAt.IsZero() {
		if fi, err := f.Stat(); err == nil {
			m.CreatedAt = fi.ModTime().UTC()
		}
	}
	return m, nil
}

func (s *Store) write(m Message) error {
	p, err := s.path(m.Key)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, encode(m), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}
