package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-redis/redismock/v9"

	"github.com/navid-fn/tickrelay/internal/models"
)

func sampleRules() []models.AlertRule {
	return []models.AlertRule{
		{
			ID: "r1", Label: "BTC breakout", Symbol: "BTC",
			Condition: models.PriceAbove, Threshold: 95000,
			Side: models.FilterAll, Active: true, CreatedAt: 1700000000000,
		},
		{
			ID: "r2", Label: "ETH whale", Symbol: "ETH",
			Condition: models.QuantityAbove, Threshold: 50,
			Side: models.FilterSell, Active: false, CreatedAt: 1700000000001,
		},
	}
}

func TestEnvelopeLayout(t *testing.T) {
	data, err := encodeRules(nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := `{"state":{"rules":[]},"version":0}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}

func TestRedisStoreLoadMissingKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")

	mock.ExpectGet(DefaultKey).RedisNil()

	rules, err := store.LoadRules(context.Background())
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if rules == nil || len(rules) != 0 {
		t.Errorf("Expected empty list, got %v", rules)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisStoreSaveAndLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "alerts")
	ctx := context.Background()

	data, err := encodeRules(sampleRules())
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectSet("alerts", string(data), 0).SetVal("OK")
	mock.ExpectGet("alerts").SetVal(string(data))

	if err := store.SaveRules(ctx, sampleRules()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	rules, err := store.LoadRules(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rules) != 2 || rules[1] != sampleRules()[1] {
		t.Errorf("Expected round trip, got %+v", rules)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisStoreGetError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")

	mock.ExpectGet(DefaultKey).SetErr(errors.New("connection refused"))

	if _, err := store.LoadRules(context.Background()); err == nil {
		t.Error("Expected error, got nil")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rules.json")
	store := NewFileStore(path, "")
	ctx := context.Background()

	rules, err := store.LoadRules(ctx)
	if err != nil || len(rules) != 0 {
		t.Fatalf("Expected empty list from missing file, got %v, %v", rules, err)
	}

	if err := store.SaveRules(ctx, sampleRules()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	reopened := NewFileStore(path, "")
	rules, err = reopened.LoadRules(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rules) != 2 || rules[0] != sampleRules()[0] {
		t.Errorf("Expected round trip, got %+v", rules)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("Expected no temp files, got %v", leftovers)
	}
}

func TestFileStoreKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte(`{"theme":{"state":{"dark":true},"version":0}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path, "")
	if err := store.SaveRules(context.Background(), sampleRules()[:1]); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	other := NewFileStore(path, "theme")
	entries, err := other.readAll()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := entries["theme"]; !ok {
		t.Error("Expected unrelated key to survive a save")
	}
	if _, ok := entries[DefaultKey]; !ok {
		t.Error("Expected rules key to be written")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path, "").LoadRules(context.Background()); err == nil {
		t.Error("Expected parse error, got nil")
	}
}

func TestMemoryStoreFailSave(t *testing.T) {
	store := NewMemoryStore(sampleRules()...)
	boom := errors.New("disk full")
	store.SetFailSave(boom)

	if err := store.SaveRules(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("Expected %v, got %v", boom, err)
	}
	rules, _ := store.LoadRules(context.Background())
	if len(rules) != 2 {
		t.Errorf("Expected stored rules untouched, got %d", len(rules))
	}
}
