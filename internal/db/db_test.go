package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"jobmate/recommender-service/internal/db"
)

func TestNewPostgresPool_BadURL(t *testing.T) {
	_, err := db.NewPostgresPool(context.Background(), "postgres://%zz", 4)
	assert.ErrorContains(t, err, "pgxpool.ParseConfig")
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := db.NewRedisClient(context.Background(), "http://localhost:6379")
	assert.ErrorContains(t, err, "redis.ParseURL")
}
