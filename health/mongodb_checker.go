package health

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoChecker 返回复用已有客户端的 MongoDB 健康检查函数。
func MongoChecker(client *mongo.Client) Checker {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("mongodb client is nil")
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("mongodb ping failed: %w", err)
		}
		return nil
	}
}
