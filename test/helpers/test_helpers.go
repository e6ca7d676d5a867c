package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mesapay/chatpay/internal/model"
	"github.com/mesapay/chatpay/internal/repository"
	"github.com/mesapay/chatpay/pkg/pg"
	"github.com/mesapay/chatpay/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.ConversationEntity{},
		&repository.TransactionEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestConversation(t *testing.T, db *pg.DB, payerID string, step model.Step, orderID *int64) *repository.ConversationEntity {
	ctx := context.Background()
	now := time.Now()
	conv := &repository.ConversationEntity{
		PayerID:       payerID,
		OrderID:       orderID,
		CurrentStep:   string(step),
		LastMessageAt: now,
		Context: model.Context{
			CurrentStep:   step,
			LastMessageAt: now,
		},
	}
	err := db.Write(ctx).Create(conv).Error
	require.NoError(t, err)
	return conv
}

func CreateTestTransaction(t *testing.T, db *pg.DB, conversationID, orderID int64, payerID string, amount float64, status model.TransactionStatus) *repository.TransactionEntity {
	ctx := context.Background()
	txn := &repository.TransactionEntity{
		OrderID:        orderID,
		ConversationID: conversationID,
		PayerID:        payerID,
		ExpectedAmount: amount,
		Status:         string(status),
		Method:         string(model.MethodPix),
		InitiatedAt:    time.Now(),
	}
	err := db.Write(ctx).Create(txn).Error
	require.NoError(t, err)
	return txn
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
