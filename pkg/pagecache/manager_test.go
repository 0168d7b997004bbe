package pagecache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
)

// setupTestRedis creates a test Redis client for testing. Integration
// tests use testcontainers-go with a real Redis instance; these unit
// tests skip when no local Redis is reachable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testPage(n int) []record.Record {
	recs := make([]record.Record, n)
	for i := range recs {
		recs[i] = record.Record{ID: string(rune('a' + i)), Revenue: float64(i)}
	}
	return recs
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Collection: "contacts", Offset: 0, Limit: 20, UserID: "u-1"}
	entry := NewEntry(testPage(3), 50, 5*time.Minute)

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if retrieved.TotalCount != 50 {
		t.Errorf("TotalCount = %d, want 50", retrieved.TotalCount)
	}
	if len(retrieved.Records) != 3 {
		t.Errorf("Records len = %d, want 3", len(retrieved.Records))
	}
	if retrieved.Records[0].ID != entry.Records[0].ID {
		t.Errorf("First record ID = %s, want %s", retrieved.Records[0].ID, entry.Records[0].ID)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)

	key := Key{Collection: "nonexistent", Offset: 0, Limit: 20}
	_, err := manager.Get(context.Background(), key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Get_ExpiredEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Collection: "contacts", Offset: 0, Limit: 20}

	// Already expired entries are not cached
	entry := NewEntry(testPage(1), 1, -1*time.Hour)
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{Collection: "contacts", Offset: 0, Limit: 20}
	entry := NewEntry(testPage(1), 1, 5*time.Minute)

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}

	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Invalidate(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := NewEntry(testPage(1), 1, 5*time.Minute)
	keys := []Key{
		{Collection: "contacts", Offset: 0, Limit: 20},
		{Collection: "contacts", Offset: 20, Limit: 20},
		{Collection: "opportunities", Offset: 0, Limit: 20},
	}
	for _, key := range keys {
		if err := manager.Set(ctx, key, entry); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := manager.Invalidate(ctx, "contacts"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	for _, key := range keys[:2] {
		if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
			t.Errorf("Expected contacts key %s invalidated, got %v", key, err)
		}
	}

	// Other collections are untouched.
	if _, err := manager.Get(ctx, keys[2]); err != nil {
		t.Errorf("Opportunities key should survive contacts invalidation, got %v", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)

	err := manager.Set(context.Background(), Key{Collection: "contacts"}, nil)
	if err == nil {
		t.Error("Set with nil entry should return error")
	}
}
