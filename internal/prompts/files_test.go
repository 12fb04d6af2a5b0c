package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestFiles(t *testing.T) *Files {
	t.Helper()
	f := New(filepath.Join(t.TempDir(), "dados"), nil)
	if err := f.EnsureDefaults(); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	return f
}

func TestEnsureDefaults(t *testing.T) {
	f := newTestFiles(t)
	if !strings.Contains(f.Training(), "SalvoRadaBot") {
		t.Errorf("unexpected default training %q", f.Training())
	}
	names, err := f.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(names, ",") != "prompts_log.txt,treino.txt" {
		t.Errorf("unexpected files %v", names)
	}

	f.Save(TrainingFile, "custom")
	f.EnsureDefaults()
	if f.Training() != "custom" {
		t.Error("EnsureDefaults overwrote an existing file")
	}
}

func TestCreateLoadSaveDelete(t *testing.T) {
	f := newTestFiles(t)

	if err := f.Create("faq.txt", "q&a"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Create("faq.txt", "again"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, err := f.Load("faq.txt")
	if err != nil || got != "q&a" {
		t.Fatalf("load: %q %v", got, err)
	}
	if err := f.Save("faq.txt", "updated"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ = f.Load("faq.txt")
	if got != "updated" {
		t.Errorf("expected updated, got %q", got)
	}
	if err := f.Delete("faq.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.Load("faq.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := f.Delete("faq.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestDeleteProtected(t *testing.T) {
	f := newTestFiles(t)
	os.WriteFile(filepath.Join(f.Dir(), CredentialsFile), []byte("admin|admin123\n"), 0o600)
	os.WriteFile(filepath.Join(f.Dir(), ConversationsFile), []byte("[]"), 0o644)

	for name := range Protected {
		if err := f.Delete(name); !errors.Is(err, ErrProtected) {
			t.Errorf("Delete(%s): expected ErrProtected, got %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(f.Dir(), name)); err != nil {
			t.Errorf("%s removed despite protection: %v", name, err)
		}
		for _, variant := range []string{" " + name, name + " ", "\t" + name + "\n", "./" + name} {
			if err := f.Delete(variant); !errors.Is(err, ErrProtected) {
				t.Errorf("Delete(%q): expected ErrProtected, got %v", variant, err)
			}
		}
		if _, err := os.Stat(filepath.Join(f.Dir(), name)); err != nil {
			t.Errorf("%s removed through a padded name: %v", name, err)
		}
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	f := newTestFiles(t)
	outside := filepath.Join(filepath.Dir(f.Dir()), "secret.txt")
	os.WriteFile(outside, []byte("top secret"), 0o644)

	for _, name := range []string{"../secret.txt", "sub/x.txt", `..\secret.txt`, "", ".."} {
		if _, err := f.Load(name); !errors.Is(err, ErrBadName) {
			t.Errorf("Load(%q): expected ErrBadName, got %v", name, err)
		}
		if err := f.Save(name, "x"); !errors.Is(err, ErrBadName) {
			t.Errorf("Save(%q): expected ErrBadName, got %v", name, err)
		}
		if err := f.Delete(name); !errors.Is(err, ErrBadName) {
			t.Errorf("Delete(%q): expected ErrBadName, got %v", name, err)
		}
	}
	if data, _ := os.ReadFile(outside); string(data) != "top secret" {
		t.Error("file outside the data dir was modified")
	}
}

func TestAppendPrompt(t *testing.T) {
	f := newTestFiles(t)
	f.now = func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local) }

	if err := f.AppendPrompt("Responda em português."); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !strings.HasSuffix(f.Training(), "\nResponda em português.\n") {
		t.Errorf("training not appended: %q", f.Training())
	}
	log, _ := f.Load(PromptLogFile)
	if !strings.Contains(log, "[03/02/2024 04:05:06] Responda em português.\n---\n") {
		t.Errorf("prompt log entry missing: %q", log)
	}
	if err := f.AppendPrompt("  "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}
