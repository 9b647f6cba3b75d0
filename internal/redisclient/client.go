package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"savannah-commerce/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetProduct returns a cached product snapshot, or nil on miss.
func (c *Client) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	key := fmt.Sprintf("product:%d", productID)

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var product models.Product
	if err := json.Unmarshal(data, &product); err != nil {
		// Stale or corrupt entry; treat as a miss.
		return nil, nil
	}
	return &product, nil
}

// SetProduct caches a product snapshot with a TTL.
func (c *Client) SetProduct(ctx context.Context, product *models.Product, ttl time.Duration) error {
	data, err := json.Marshal(product)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("product:%d", product.ID)
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// InvalidateProduct drops a cached product after a catalog mutation.
func (c *Client) InvalidateProduct(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("product:%d", productID)).Err()
}

// GetAveragePrice returns a cached subtree average, or found=false on miss.
// A cached empty string marks a subtree with no priced products.
func (c *Client) GetAveragePrice(ctx context.Context, categoryID int64, includeDescendants bool) (avg decimal.Decimal, empty, found bool, err error) {
	key := avgPriceKey(categoryID, includeDescendants)

	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return decimal.Zero, false, false, nil
	}
	if err != nil {
		return decimal.Zero, false, false, err
	}
	if val == "" {
		return decimal.Zero, true, true, nil
	}

	avg, err = decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, false, nil
	}
	return avg, false, true, nil
}

// SetAveragePrice caches a subtree average with a short TTL; averages may
// lag concurrent catalog writes.
func (c *Client) SetAveragePrice(ctx context.Context, categoryID int64, includeDescendants bool, avg decimal.Decimal, empty bool, ttl time.Duration) error {
	key := avgPriceKey(categoryID, includeDescendants)
	val := ""
	if !empty {
		val = avg.String()
	}
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func avgPriceKey(categoryID int64, includeDescendants bool) string {
	if includeDescendants {
		return fmt.Sprintf("avgprice:subtree:%d", categoryID)
	}
	return fmt.Sprintf("avgprice:%d", categoryID)
}
