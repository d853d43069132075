package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/flipkart-incubator/dkvbench/internal/storage"
)

const (
	dbAddr  = "127.0.0.1:6379"
	dbIndex = 3
)

func openRedisDB(t *testing.T) DB {
	t.Helper()
	if conn, err := net.DialTimeout("tcp", dbAddr, time.Second); err != nil {
		t.Skipf("Redis is not reachable at %s. Error: %v", dbAddr, err)
	} else {
		conn.Close()
	}
	kvs, err := OpenDB(dbAddr, dbIndex, WithPoolSize(4))
	if err != nil {
		t.Fatalf("Unable to open Redis at %s. Error: %v", dbAddr, err)
	}
	t.Cleanup(func() { kvs.Close() })
	return kvs
}

func TestPutAndGet(t *testing.T) {
	store := openRedisDB(t)
	numKeys := 10
	for i := 1; i <= numKeys; i++ {
		key, value := fmt.Sprintf("K%d", i), fmt.Sprintf("V%d", i)
		if err := store.Put(context.Background(), []byte(key), []byte(value), storage.WriteOptions{}); err != nil {
			t.Fatalf("Unable to PUT. Key: %s, Value: %s, Error: %v", key, value, err)
		}
	}

	for i := 1; i <= numKeys; i++ {
		key, expectedValue := fmt.Sprintf("K%d", i), fmt.Sprintf("V%d", i)
		if val, err := store.Get(context.Background(), []byte(key)); err != nil {
			t.Fatalf("Unable to GET. Key: %s, Error: %v", key, err)
		} else if string(val) != expectedValue {
			t.Errorf("GET mismatch. Key: %s, Expected Value: %s, Actual Value: %s", key, expectedValue, val)
		}
	}
}

func TestMissingGet(t *testing.T) {
	store := openRedisDB(t)
	key := "MissingKey"
	if val, err := store.Get(context.Background(), []byte(key)); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("Expected key not found error. Key: %s, Actual Value: %s, Error: %v", key, val, err)
	}
}

func TestOpenUnreachable(t *testing.T) {
	// port 1 is never expected to serve Redis
	if _, err := OpenDB("127.0.0.1:1", 0); !errors.Is(err, storage.ErrOpen) {
		t.Errorf("Expected open error for unreachable server. Actual: %v", err)
	}
}

func TestOpenInvalidURL(t *testing.T) {
	if _, err := OpenDB("redis://127.0.0.1:6379/not-a-db", 0); !errors.Is(err, storage.ErrOpen) {
		t.Errorf("Expected open error for invalid URL. Actual: %v", err)
	}
}
