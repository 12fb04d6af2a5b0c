// Package credentials validates console logins against a flat
// "username|secret" file that is re-read on every attempt, so edits take
// effect without a restart.
package credentials

import (
	"bufio"
	"bytes"
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultUser     = "admin"
	DefaultPassword = "admin123"
)

// Store is a file-backed credential lookup.
type Store struct {
	path string
	log  waLog.Logger
	mu   sync.Mutex // serialises Add; Validate only reads
}

// New returns a store reading path. A nil logger is replaced with waLog.Noop.
func New(path string, log waLog.Logger) *Store {
	if log == nil {
		log = waLog.Noop
	}
	return &Store{path: path, log: log}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// EnsureDefault creates the file with the stock admin login when it does not
// exist yet.
func (s *Store) EnsureDefault() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	line := DefaultUser + "|" + DefaultPassword + "\n"
	if err := os.WriteFile(s.path, []byte(line), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.log.Infof("Created default credentials file %s", s.path)
	return nil
}

// Validate reports whether username/password is an exact pair in the file at
// call time. Read failures are logged and reported as false.
func (s *Store) Validate(username, password string) bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Errorf("Failed to read credentials: %v", err)
		return false
	}
	for _, c := range parse(data) {
		if c.username != username {
			continue
		}
		if matches(c.secret, password) {
			return true
		}
	}
	return false
}

// Add stores username with a bcrypt hash of password, replacing any existing
// line for that user.
func (s *Store) Add(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || strings.Contains(username, "|") {
		return fmt.Errorf("invalid username %q", username)
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if u, _, ok := splitLine(line); ok && u == username {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	fmt.Fprintf(&out, "%s|%s\n", username, hash)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	s.log.Infof("Stored credentials for %s", username)
	return nil
}

type credential struct {
	username string
	secret   string
}

func parse(data []byte) []credential {
	var out []credential
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if u, p, ok := splitLine(sc.Text()); ok {
			out = append(out, credential{username: u, secret: p})
		}
	}
	return out
}

func splitLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return "", "", false
	}
	u := strings.TrimSpace(parts[0])
	if u == "" {
		return "", "", false
	}
	return u, strings.TrimSpace(parts[1]), true
}

func isBcrypt(secret string) bool {
	return strings.HasPrefix(secret, "$2a$") ||
		strings.HasPrefix(secret, "$2b$") ||
		strings.HasPrefix(secret, "$2y$")
}

func matches(secret, password string) bool {
	if isBcrypt(secret) {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(password)) == 1
}
