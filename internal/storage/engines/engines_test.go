package engines

import (
	"context"
	"errors"
	"testing"

	"github.com/flipkart-incubator/dkvbench/internal/storage"
	"go.uber.org/zap"
)

func TestOpenEmbeddedEngines(t *testing.T) {
	for _, engine := range []string{Badger, Pebble, "PEBBLE "} {
		stOpts := storage.DefaultOptions()
		stOpts.InMemory = true
		kvs, err := Open(engine, "", stOpts, WithLogger(zap.NewNop()))
		if err != nil {
			t.Fatalf("Unable to open engine: %s. Error: %v", engine, err)
		}
		if err = kvs.Put(context.Background(), []byte("key"), []byte("val"), storage.WriteOptions{}); err != nil {
			t.Errorf("Unable to PUT on engine: %s. Error: %v", engine, err)
		}
		if val, err := kvs.Get(context.Background(), []byte("key")); err != nil || string(val) != "val" {
			t.Errorf("GET mismatch on engine: %s. Expected: val, Actual: %s, Error: %v", engine, val, err)
		}
		if err = kvs.Close(); err != nil {
			t.Errorf("Unable to close engine: %s. Error: %v", engine, err)
		}
	}
}

func TestOpenOnDisk(t *testing.T) {
	for _, engine := range []string{Badger, Pebble} {
		kvs, err := Open(engine, t.TempDir(), storage.DefaultOptions())
		if err != nil {
			t.Fatalf("Unable to open engine: %s on disk. Error: %v", engine, err)
		}
		kvs.Close()
	}
}

func TestOpenUnknownEngine(t *testing.T) {
	if _, err := Open("leveldb", t.TempDir(), storage.DefaultOptions()); !errors.Is(err, storage.ErrOpen) {
		t.Errorf("Expected open error for unknown engine. Actual: %v", err)
	}
}

func TestOpenMissingFolder(t *testing.T) {
	if _, err := Open(Pebble, "", storage.DefaultOptions()); !errors.Is(err, storage.ErrOpen) {
		t.Errorf("Expected open error when no folder is given. Actual: %v", err)
	}
}

func TestOpenInvalidRedisLocation(t *testing.T) {
	if _, err := Open(Redis, "localhost:6379/abc", storage.DefaultOptions()); !errors.Is(err, storage.ErrOpen) {
		t.Errorf("Expected open error for invalid redis location. Actual: %v", err)
	}
}

func TestParseRedisLocation(t *testing.T) {
	testCases := []struct {
		location string
		addr     string
		db       int
		invalid  bool
	}{
		{"localhost:6379", "localhost:6379", 0, false},
		{"localhost:6379/3", "localhost:6379", 3, false},
		{"localhost:6379/", "localhost:6379", 0, false},
		{"redis://localhost:6379/2", "redis://localhost:6379/2", 0, false},
		{"localhost:6379/x", "", 0, true},
		{"localhost:6379/-1", "", 0, true},
		{" ", "", 0, true},
	}
	for _, tc := range testCases {
		addr, db, err := ParseRedisLocation(tc.location)
		if tc.invalid {
			if err == nil {
				t.Errorf("Expected error for location: %q", tc.location)
			}
			continue
		}
		if err != nil || addr != tc.addr || db != tc.db {
			t.Errorf("Location: %q. Expected: %s/%d, Actual: %s/%d, Error: %v", tc.location, tc.addr, tc.db, addr, db, err)
		}
	}
}
