package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "dados", "conversas.json"), nil)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestOpenCreatesEmptyDocument(t *testing.T) {
	l := newTestLog(t)
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("expected empty array, got %q", data)
	}
	got, err := l.Query(QueryParams{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records, got %d", len(got))
	}
}

func TestRecordFields(t *testing.T) {
	l := newTestLog(t)
	rec, err := l.Record("5511999999999", "hello", AuthorUser, Received)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected id")
	}
	if rec.Origin != "👤 Usuário" {
		t.Errorf("unexpected origin %q", rec.Origin)
	}
	bot, _ := l.Record("5511999999999", "hi", AuthorBot, Sent)
	if bot.Origin != "🤖 Bot" {
		t.Errorf("unexpected bot origin %q", bot.Origin)
	}
	if bot.ID == rec.ID {
		t.Error("ids must be unique")
	}
}

func TestAppendIsBounded(t *testing.T) {
	l := newTestLog(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := make([]Record, 0, MaxRecords)
	for i := MaxRecords; i > 0; i-- {
		seed = append(seed, Record{
			ID:        fmt.Sprintf("seed-%d", i),
			Number:    "1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	data, _ := json.Marshal(seed)
	if err := os.WriteFile(l.Path(), data, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := l.Append(Record{ID: fmt.Sprintf("new-%d", i), Number: "1", Timestamp: base.Add(time.Hour)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	l.mu.Lock()
	all, err := l.read()
	l.mu.Unlock()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != MaxRecords {
		t.Fatalf("expected %d records, got %d", MaxRecords, len(all))
	}
	if all[0].ID != "new-2" || all[2].ID != "new-0" {
		t.Errorf("newest records should be first, got %s, %s", all[0].ID, all[2].ID)
	}
	// the three oldest seeds (seed-1..seed-3) were at the tail and are evicted
	for _, r := range all {
		if r.ID == "seed-1" || r.ID == "seed-2" || r.ID == "seed-3" {
			t.Errorf("record %s should have been evicted", r.ID)
		}
	}
	if all[len(all)-1].ID != "seed-4" {
		t.Errorf("expected seed-4 as oldest survivor, got %s", all[len(all)-1].ID)
	}
}

func TestSmallBoundEvictsOldest(t *testing.T) {
	l := newTestLog(t)
	l.max = 5
	for i := 0; i < 12; i++ {
		if _, err := l.Record("1", fmt.Sprint(i), AuthorUser, Received); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	got, _ := l.Query(QueryParams{Limit: 100})
	if len(got) != 5 {
		t.Fatalf("expected 5, got %d", len(got))
	}
	for i, r := range got {
		if want := fmt.Sprint(11 - i); r.Text != want {
			t.Errorf("position %d: expected %s, got %s", i, want, r.Text)
		}
	}
}

func TestQueryOrderLimitAndFilter(t *testing.T) {
	l := newTestLog(t)
	l.now = fixedClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	l.Record("5511911110000", "a", AuthorUser, Received)
	l.Record("5521922220000", "b", AuthorBot, Sent)
	l.Record("5511933330000", "c", AuthorUser, Received)
	l.Record("5511911110000", "d", AuthorBot, Sent)

	got, err := l.Query(QueryParams{Limit: 3})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.After(got[i].Timestamp) {
			t.Errorf("records not strictly descending at %d", i)
		}
	}
	if got[0].Text != "d" {
		t.Errorf("expected newest first, got %q", got[0].Text)
	}

	got, _ = l.Query(QueryParams{Number: " 5511 "})
	if len(got) != 3 {
		t.Errorf("expected 3 matches for 5511, got %d", len(got))
	}

	got, _ = l.Query(QueryParams{Mode: ModeSent})
	if len(got) != 2 {
		t.Errorf("expected 2 sent, got %d", len(got))
	}
	got, _ = l.Query(QueryParams{Mode: ModeReceived, Number: "1111"})
	if len(got) != 1 || got[0].Text != "a" {
		t.Errorf("expected only 'a', got %+v", got)
	}
}

func TestQueryDefaultLimit(t *testing.T) {
	l := newTestLog(t)
	l.max = 500
	recs := make([]Record, 150)
	for i := range recs {
		recs[i] = Record{ID: fmt.Sprint(i), Timestamp: time.Unix(int64(i), 0)}
	}
	data, _ := json.Marshal(recs)
	os.WriteFile(l.Path(), data, 0o644)

	got, _ := l.Query(QueryParams{Limit: 0})
	if len(got) != DefaultLimit {
		t.Errorf("expected %d, got %d", DefaultLimit, len(got))
	}
	if got[0].ID != "149" {
		t.Errorf("expected newest 149 first, got %s", got[0].ID)
	}
}

func TestClear(t *testing.T) {
	l := newTestLog(t)
	l.Record("1", "x", AuthorUser, Received)
	if err := l.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ := l.Query(QueryParams{})
	if len(got) != 0 {
		t.Errorf("expected empty log, got %d", len(got))
	}
}

func TestCorruptDocument(t *testing.T) {
	l := newTestLog(t)
	os.WriteFile(l.Path(), []byte("{not json"), 0o644)
	if _, err := l.Query(QueryParams{}); err == nil {
		t.Error("expected parse error")
	}
	if err := l.Append(Record{ID: "x"}); err == nil {
		t.Error("append must not overwrite a corrupt document")
	}
}

func TestLoadsNumericIDs(t *testing.T) {
	l := newTestLog(t)
	doc := `[
  {
    "id": 1700000000000.123,
    "numero": "5511999999999",
    "mensagem": "oi",
    "autor": "usuario",
    "tipo": "recebida",
    "dataHora": "2023-11-14T22:13:20.123Z",
    "dataFormatada": "14/11/2023, 19:13:20",
    "origem": "👤 Usuário"
  },
  {"id": 1699999999999, "numero": "5522", "mensagem": "x", "autor": "bot", "tipo": "enviada", "dataHora": "2023-11-14T22:13:19Z"}
]`
	if err := os.WriteFile(l.Path(), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := l.Query(QueryParams{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1700000000000.123" || got[1].ID != "1699999999999" {
		t.Fatalf("unexpected records %+v", got)
	}
	if got[0].Text != "oi" || got[0].Direction != Received {
		t.Errorf("fields not decoded: %+v", got[0])
	}

	if _, err := l.Record("5511999999999", "resposta", AuthorBot, Sent); err != nil {
		t.Fatalf("record after legacy load: %v", err)
	}
	got, err = l.Query(QueryParams{})
	if err != nil || len(got) != 3 {
		t.Fatalf("expected 3 records, got %d (%v)", len(got), err)
	}
	var raw []map[string]any
	data, _ := os.ReadFile(l.Path())
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("rewritten document: %v", err)
	}
}
