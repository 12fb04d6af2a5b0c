// Package prompts manages the editable text files in the data directory,
// including the training prompt the bot prepends to every completion.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	TrainingFile      = "treino.txt"
	CredentialsFile   = "usuarios.txt"
	PromptLogFile     = "prompts_log.txt"
	ConversationsFile = "conversas.json"

	defaultTraining = "Você é um assistente útil chamado SalvoRadaBot.\n"
	promptLogHeader = "=== LOG DE PROMPTS ===\n"
)

// Protected files can never be deleted through the console.
var Protected = map[string]bool{
	TrainingFile:      true,
	CredentialsFile:   true,
	PromptLogFile:     true,
	ConversationsFile: true,
}

var (
	ErrProtected  = errors.New("file is protected")
	ErrExists     = errors.New("file already exists")
	ErrNotFound   = errors.New("file not found")
	ErrBadName    = errors.New("invalid file name")
	ErrEmptyInput = errors.New("prompt is empty")
)

// Files is the data-directory file manager.
type Files struct {
	dir string
	log waLog.Logger
	mu  sync.Mutex
	now func() time.Time
}

func New(dir string, log waLog.Logger) *Files {
	if log == nil {
		log = waLog.Noop
	}
	return &Files{dir: dir, log: log, now: time.Now}
}

func (f *Files) Dir() string { return f.dir }

// EnsureDefaults creates the data directory, training prompt and prompt log.
func (f *Files) EnsureDefaults() error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	defaults := map[string]string{
		TrainingFile:  defaultTraining,
		PromptLogFile: promptLogHeader,
	}
	for name, content := range defaults {
		p := filepath.Join(f.dir, name)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		f.log.Infof("Created %s", p)
	}
	return nil
}

// List returns the names of the .txt files in the data directory.
func (f *Files) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *Files) Load(name string) (string, error) {
	p, err := f.path(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

func (f *Files) Save(name, content string) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	f.log.Infof("Saved file %s", name)
	return nil
}

// Create writes a new file and fails with ErrExists if name is taken.
func (f *Files) Create(name, content string) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := fh.WriteString(content); err != nil {
		fh.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	f.log.Infof("Created file %s", name)
	return nil
}

// Delete removes name unless it is one of the protected files.
func (f *Files) Delete(name string) error {
	name = strings.TrimSpace(name)
	if Protected[filepath.Base(name)] {
		return fmt.Errorf("%w: %s", ErrProtected, name)
	}
	p, err := f.path(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	f.log.Infof("Deleted file %s", name)
	return nil
}

// AppendPrompt adds text to the training prompt and records it in the
// prompt log.
func (f *Files) AppendPrompt(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := appendFile(filepath.Join(f.dir, TrainingFile), "\n"+text+"\n"); err != nil {
		return err
	}
	entry := fmt.Sprintf("[%s] %s\n---\n", f.now().Format("02/01/2006 15:04:05"), text)
	return appendFile(filepath.Join(f.dir, PromptLogFile), entry)
}

// Training returns the current training prompt; a missing file reads as empty.
func (f *Files) Training() string {
	data, err := os.ReadFile(filepath.Join(f.dir, TrainingFile))
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Warnf("Failed to read training prompt: %v", err)
		}
		return ""
	}
	return string(data)
}

// path resolves name inside the data directory. Only plain file names are
// allowed.
func (f *Files) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." ||
		name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(f.dir, name), nil
}

func appendFile(path, s string) error {
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	if _, err := fh.WriteString(s); err != nil {
		fh.Close()
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return fh.Close()
}
