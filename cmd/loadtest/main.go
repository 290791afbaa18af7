package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	redisAddr := flag.String("redis", "localhost:6379", "redis addr (seed sessions directly)")
	redisDB := flag.Int("redis-db", 0, "redis db")
	voucherID := flag.Int("voucher", 1, "voucher id")
	preload := flag.Bool("preload", true, "call preload before test")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for preload endpoint")
	stockCheck := flag.Bool("stock", true, "check redis stock after test")

	// 超卖测试参数：200 个用户并发抢
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	// 压测工具直连 Redis 播种会话，跳过验证码登录流程
	rdb := rd.NewClient(&rd.Options{Addr: *redisAddr, DB: *redisDB})
	defer rdb.Close()
	tokens, err := seedSessions(rdb, *nUsers)
	if err != nil {
		panic(fmt.Sprintf("seed sessions failed: %v", err))
	}
	fmt.Printf("seeded %d sessions\n", len(tokens))

	if *preload {
		// 先预热 Redis 库存，避免库存 key 缺失导致测试偏差
		err := doPOST(client, fmt.Sprintf("%s/api/seckill/preload/%d", *baseURL, *voucherID), map[string]string{
			"X-Admin-Token": *adminToken,
		})
		if err != nil {
			panic(fmt.Sprintf("preload failed: %v", err))
		}
		fmt.Println("preload ok")
	}

	// 1) 不超卖测试：不同用户并发抢购
	fmt.Printf("start oversell test: voucher=%d users=%d concurrency=%d\n", *voucherID, *nUsers, *concurrency)
	results := runBuy(client, *baseURL, *voucherID, tokens, *concurrency)
	printSummary("oversell", results)

	if *stockCheck {
		stock, err := getStock(client, *baseURL, *voucherID)
		if err != nil {
			fmt.Println("stock check err:", err)
		} else {
			fmt.Println("final redis stock:", stock)
		}
	}

	// 2) 一人一单测试：同一个用户重复抢
	fmt.Println("\nstart one-per-user test: same user, 50 requests, concurrency 50")
	sameUser := make([]string, 50)
	for i := range sameUser {
		sameUser[i] = tokens[0]
	}
	results2 := runBuy(client, *baseURL, *voucherID, sameUser, 50)
	printSummary("one_per_user", results2)
}

// seedSessions 为压测用户直接写登录会话，返回 token 列表。
func seedSessions(rdb *rd.Client, n int) ([]string, error) {
	ctx := context.Background()
	tokens := make([]string, n)
	pipe := rdb.Pipeline()
	for i := 0; i < n; i++ {
		token := fmt.Sprintf("loadtest-token-%d", i+1)
		key := "login:token:" + token
		pipe.HSet(ctx, key, "id", fmt.Sprint(100000+i), "nick_name", fmt.Sprintf("lt_%d", i))
		pipe.Expire(ctx, key, time.Hour)
		tokens[i] = token
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return tokens, nil
}

func runBuy(client *http.Client, baseURL string, voucherID int, tokens []string, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, len(tokens))

	for i := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = buyOnce(client, baseURL, voucherID, tokens[idx])
		}(i)
	}

	wg.Wait()
	return results
}

func buyOnce(client *http.Client, baseURL string, voucherID int, token string) Result {
	url := fmt.Sprintf("%s/api/seckill/voucher/%d", baseURL, voucherID)
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 401, 404, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func doPOST(client *http.Client, url string, headers map[string]string) error {
	req, _ := http.NewRequest(http.MethodPost, url, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// getStock 查询 Redis 中当前库存，用于压测后校验是否出现超卖。
func getStock(client *http.Client, baseURL string, voucherID int) (int64, error) {
	url := fmt.Sprintf("%s/api/seckill/stock/%d", baseURL, voucherID)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Stock int64 `json:"stock"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.Stock, nil
}
