package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gousddbridge/config"
	"gousddbridge/types"

	"github.com/gomodule/redigo/redis"
)

var pool *redis.Pool

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func Init() {
	redisAddr := fmt.Sprintf("%s:%d", config.Config.Server.RedisHost, config.Config.Server.RedisPort)
	pool = &redis.Pool{
		MaxIdle: 5,
		Dial:    func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, timeoutDialOptions()...) },
	}
}

// Cache holds derived state only: the fee summary, the backing pause
// flag and operator rescan requests. The Postgres store stays the sole
// source of truth; everything here can be rebuilt.
type Cache struct{}

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) SetFeeSummary(sum *types.FeeSummary) error {
	conn := pool.Get()
	defer conn.Close()

	if sum == nil {
		return errors.New("null fee summary to store")
	}

	sumJSON, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("cannot marshal fee summary to JSON: %s", err.Error())
	}

	_, err = conn.Do("SET", "feeSummary", sumJSON)
	if err != nil {
		log.Printf("error Redis SET: %s", err.Error())
		return err
	}

	return nil
}

func (c *Cache) GetFeeSummary() (*types.FeeSummary, error) {
	conn := pool.Get()
	defer conn.Close()

	raw, err := redis.Bytes(conn.Do("GET", "feeSummary"))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		log.Printf("error Redis get: %s", err.Error())
		return nil, err
	}

	var sum types.FeeSummary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (c *Cache) SetBackingPaused(paused bool) error {
	conn := pool.Get()
	defer conn.Close()

	val := 0
	if paused {
		val = 1
	}
	_, err := conn.Do("SET", "backingPaused", val)
	if err != nil {
		log.Printf("error Redis set: %s", err.Error())
		return err
	}
	return nil
}

func (c *Cache) GetBackingPaused() (bool, error) {
	conn := pool.Get()
	defer conn.Close()

	val, err := redis.Int(conn.Do("GET", "backingPaused"))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		log.Printf("error Redis get: %s", err.Error())
		return false, err
	}
	return val == 1, nil
}

// RequestRescan marks a chain for one extra detection pass beyond the
// committed waterline.
func (c *Cache) RequestRescan(chain types.ChainKey) error {
	conn := pool.Get()
	defer conn.Close()

	_, err := conn.Do("SET", fmt.Sprintf("rescanRequested:%s", chain), 1)
	if err != nil {
		log.Printf("error Redis set: %s", err.Error())
		return err
	}
	return nil
}

// ConsumeRescan reads and clears the rescan flag.
func (c *Cache) ConsumeRescan(chain types.ChainKey) (bool, error) {
	conn := pool.Get()
	defer conn.Close()

	key := fmt.Sprintf("rescanRequested:%s", chain)
	val, err := redis.Int(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		log.Printf("error Redis get: %s", err.Error())
		return false, err
	}
	if _, err := conn.Do("DEL", key); err != nil {
		log.Printf("error Redis DEL: %s", err.Error())
	}
	return val == 1, nil
}
