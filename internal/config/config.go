package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）与订单事件 Topic
	KafkaBrokers []string
	KafkaTopic   string

	// 订单 Stream 消费者组（API 原子入流，后台消费者异步落库）
	OrderStreamGroup    string
	OrderStreamConsumer string

	// 购买接口限流
	BuyRateLimit  int
	BuyRateWindow time.Duration

	// 缓存策略：正缓存 TTL、空值缓存 TTL、重建锁 TTL
	CacheTTL     time.Duration
	CacheNullTTL time.Duration
	LockTTL      time.Duration

	// 登录态滑动过期时间
	LoginTTL time.Duration

	// 预热接口的简单管理员令牌（demo 级别保护）
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DBPath:              getEnv("DB_PATH", "seckill.db"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             0,
		KafkaBrokers:        splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "seckill-orders"),
		OrderStreamGroup:    getEnv("ORDER_STREAM_GROUP", "g1"),
		OrderStreamConsumer: getEnv("ORDER_STREAM_CONSUMER", "c1"),
		BuyRateLimit:        1000,
		BuyRateWindow:       time.Second,
		CacheTTL:            30 * time.Minute,
		CacheNullTTL:        2 * time.Minute,
		LockTTL:             10 * time.Second,
		LoginTTL:            30 * time.Minute,
		AdminToken:          getEnv("ADMIN_TOKEN", "dev-admin-token"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("BUY_RATE_LIMIT", cfg.BuyRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	cfg.BuyRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("BUY_RATE_WINDOW_SEC", int(cfg.BuyRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_WINDOW_SEC must be > 0")
	}
	cfg.BuyRateWindow = time.Duration(rateWindowSec) * time.Second

	cacheTTLMin, err := getEnvInt("CACHE_TTL_MIN", int(cfg.CacheTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_TTL_MIN: %w", err)
	}
	if cacheTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_TTL_MIN must be > 0")
	}
	cfg.CacheTTL = time.Duration(cacheTTLMin) * time.Minute

	nullTTLSec, err := getEnvInt("CACHE_NULL_TTL_SEC", int(cfg.CacheNullTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_NULL_TTL_SEC: %w", err)
	}
	if nullTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_NULL_TTL_SEC must be > 0")
	}
	cfg.CacheNullTTL = time.Duration(nullTTLSec) * time.Second

	lockTTLSec, err := getEnvInt("LOCK_TTL_SEC", int(cfg.LockTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOCK_TTL_SEC: %w", err)
	}
	if lockTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("LOCK_TTL_SEC must be > 0")
	}
	cfg.LockTTL = time.Duration(lockTTLSec) * time.Second

	loginTTLMin, err := getEnvInt("LOGIN_TTL_MIN", int(cfg.LoginTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOGIN_TTL_MIN: %w", err)
	}
	if loginTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("LOGIN_TTL_MIN must be > 0")
	}
	cfg.LoginTTL = time.Duration(loginTTLMin) * time.Minute

	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.OrderStreamGroup == "" {
		return AppConfig{}, fmt.Errorf("ORDER_STREAM_GROUP must not be empty")
	}
	if cfg.OrderStreamConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_STREAM_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
