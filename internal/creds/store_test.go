package creds

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	rec := &Record{
		JID:      "628123456789:1@s.whatsapp.net",
		Platform: "whatsmeow",
		PairedAt: time.Now().UTC().Truncate(time.Second),
	}

	if store.Exists("628123456789") {
		t.Fatal("record exists before save")
	}
	if err := store.Save("628123456789", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !store.Exists("628123456789") {
		t.Fatal("record missing after save")
	}

	got, err := store.Load("628123456789")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.JID != rec.JID || got.Platform != rec.Platform || !got.PairedAt.Equal(rec.PairedAt) {
		t.Fatalf("loaded record %+v does not match saved %+v", got, rec)
	}
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	store := NewFileStore(t.TempDir())
	rec, err := store.Load("628123456789")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestExportSeedRoundTrip(t *testing.T) {
	src := NewFileStore(t.TempDir())
	dst := NewFileStore(t.TempDir())

	rec := &Record{JID: "628123456789:1@s.whatsapp.net", Platform: "whatsmeow"}
	if err := src.Save("628123456789", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	blob, err := src.Export("628123456789")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if err := dst.Seed("628123456789", blob); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	got, err := dst.Load("628123456789")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.JID != rec.JID {
		t.Fatalf("seeded jid = %q, want %q", got.JID, rec.JID)
	}
}

func TestSeedOverwritesExistingRecord(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Save("628123456789", &Record{JID: "old"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	blob := base64.StdEncoding.EncodeToString([]byte(`{"jid":"new","platform":"whatsmeow"}`))
	if err := store.Seed("628123456789", blob); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	got, err := store.Load("628123456789")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.JID != "new" {
		t.Fatalf("jid = %q, want new", got.JID)
	}
}

func TestSeedRejectsGarbage(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Seed("628123456789", "not base64!!!"); err == nil {
		t.Fatal("expected error for non-base64 blob")
	}
	blob := base64.StdEncoding.EncodeToString([]byte("not json"))
	if err := store.Seed("628123456789", blob); err == nil {
		t.Fatal("expected error for non-json blob")
	}
	if store.Exists("628123456789") {
		t.Fatal("rejected seed left a record behind")
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Save("628123456789", &Record{JID: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete("628123456789"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists("628123456789") {
		t.Fatal("record survived delete")
	}
	if err := store.Delete("628123456789"); err != nil {
		t.Fatalf("Delete on absent record: %v", err)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root)
	if err := store.Save("628123456789", &Record{JID: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "628123456789"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != recordFile {
			t.Fatalf("unexpected file %q next to the record", e.Name())
		}
	}
}

func TestDirIsScopedPerNumber(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root)
	dir, err := store.Dir("628123456789")
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if dir != filepath.Join(root, "628123456789") {
		t.Fatalf("dir = %q", dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("dir not created: %v", err)
	}
}
