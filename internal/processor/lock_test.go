package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mesapay/chatpay/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

type mockRedisAdapter struct {
	data map[string][]byte
	ttls map[string]time.Time
}

func newMockRedisAdapter() *mockRedisAdapter {
	return &mockRedisAdapter{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Time),
	}
}

func (m *mockRedisAdapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (m *mockRedisAdapter) Set(key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *mockRedisAdapter) Get(key string) ([]byte, error) {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return nil, redis.NilError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, redis.NilError
}

func (m *mockRedisAdapter) Del(key string) error {
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *mockRedisAdapter) Exist(key string) (int64, error) {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return 0, nil
	}
	if _, ok := m.data[key]; ok {
		return 1, nil
	}
	return 0, nil
}

func (m *mockRedisAdapter) TxPipelined(fn func(goredis.Pipeliner) error) ([]goredis.Cmder, error) {
	return nil, nil
}
func (m *mockRedisAdapter) Client() goredis.UniversalClient { return nil }
func (m *mockRedisAdapter) XAdd(key string, values map[string]interface{}) (string, error) {
	return "", nil
}
func (m *mockRedisAdapter) XAddWithID(key string, id string, values map[string]interface{}) (string, error) {
	return "", nil
}
func (m *mockRedisAdapter) XReadGroup(group, consumer, key, id string, count int64) ([]redis.StreamMessage, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XAck(key, group string, ids ...string) error         { return nil }
func (m *mockRedisAdapter) XGroupCreate(key, group, start string) error         { return nil }
func (m *mockRedisAdapter) XGroupCreateMkStream(key, group, start string) error { return nil }
func (m *mockRedisAdapter) XLen(key string) (int64, error)                      { return 0, nil }
func (m *mockRedisAdapter) XDel(key string, ids ...string) error                { return nil }
func (m *mockRedisAdapter) XTrimApprox(key string, maxLen int64) error          { return nil }
func (m *mockRedisAdapter) XPending(key, group string) (*goredis.XPending, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XPendingExt(key, group string, start, end string, count int64) ([]goredis.XPendingExt, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.StreamMessage, error) {
	return nil, nil
}

func TestEventSerializer_AcquireFirstDelivery(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	serializer := NewEventSerializer(mockRedis, DefaultSerializerConfig())

	ctx := context.Background()

	claim, err := serializer.Acquire(ctx, "evt-1", "+5511999990001")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if claim == nil {
		t.Fatal("expected claim, got nil")
	}
	if claim.EventID != "evt-1" {
		t.Errorf("expected event id evt-1, got %s", claim.EventID)
	}
	if claim.Attempt != 0 {
		t.Errorf("expected attempt 0, got %d", claim.Attempt)
	}
}

func TestEventSerializer_PayerSerialized(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	serializer := NewEventSerializer(mockRedis, DefaultSerializerConfig())

	ctx := context.Background()
	payer := "+5511999990002"

	claim1, err := serializer.Acquire(ctx, "evt-a", payer)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// A different event for the same payer must wait.
	if _, err := serializer.Acquire(ctx, "evt-b", payer); !errors.Is(err, ErrPayerBusy) {
		t.Errorf("expected ErrPayerBusy, got: %v", err)
	}

	// Another payer is unaffected.
	claim2, err := serializer.Acquire(ctx, "evt-c", "+5511999990003")
	if err != nil {
		t.Fatalf("other payer acquire failed: %v", err)
	}

	if err := serializer.Done(ctx, claim1); err != nil {
		t.Fatalf("done failed: %v", err)
	}
	if err := serializer.Release(ctx, claim2); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	// Payer freed, the deferred event goes through now.
	if _, err := serializer.Acquire(ctx, "evt-b", payer); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestEventSerializer_DoneIsIdempotent(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	serializer := NewEventSerializer(mockRedis, DefaultSerializerConfig())

	ctx := context.Background()
	payer := "+5511999990004"

	claim, err := serializer.Acquire(ctx, "evt-dup", payer)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := serializer.Done(ctx, claim); err != nil {
		t.Fatalf("done failed: %v", err)
	}

	processed, err := serializer.IsProcessed(ctx, "evt-dup")
	if err != nil {
		t.Fatalf("IsProcessed failed: %v", err)
	}
	if !processed {
		t.Error("event should be marked processed")
	}

	// The redelivery of the same event is rejected.
	if _, err := serializer.Acquire(ctx, "evt-dup", payer); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got: %v", err)
	}
}

func TestEventSerializer_RetryFreesPayerAndCounts(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	config := DefaultSerializerConfig()
	config.MaxAttempts = 2
	serializer := NewEventSerializer(mockRedis, config)

	ctx := context.Background()
	payer := "+5511999990005"

	for i := 0; i < config.MaxAttempts; i++ {
		claim, err := serializer.Acquire(ctx, "evt-flaky", payer)
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		if claim.Attempt != i {
			t.Errorf("expected attempt %d, got %d", i, claim.Attempt)
		}
		if err := serializer.Retry(ctx, claim, errors.New("downstream down")); err != nil {
			t.Fatalf("retry %d failed: %v", i, err)
		}
	}

	// Budget spent, the event is dropped.
	if _, err := serializer.Acquire(ctx, "evt-flaky", payer); !errors.Is(err, ErrTooManyAttempts) {
		t.Errorf("expected ErrTooManyAttempts, got: %v", err)
	}

	// The payer itself is not poisoned.
	if _, err := serializer.Acquire(ctx, "evt-fresh", payer); err != nil {
		t.Fatalf("fresh event for same payer failed: %v", err)
	}
}

func TestEventSerializer_ReleaseWithoutOutcome(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	serializer := NewEventSerializer(mockRedis, DefaultSerializerConfig())

	ctx := context.Background()
	payer := "+5511999990006"

	claim, err := serializer.Acquire(ctx, "evt-bail", payer)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := serializer.Release(ctx, claim); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	// No done marker, no attempt burned.
	claim2, err := serializer.Acquire(ctx, "evt-bail", payer)
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	if claim2.Attempt != 0 {
		t.Errorf("expected attempt 0 after plain release, got %d", claim2.Attempt)
	}
}
