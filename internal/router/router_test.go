package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"seckill/internal/config"
	"seckill/internal/model"
	"seckill/internal/queue"
	rediskey "seckill/pkg/redis"
)

const testAdminToken = "test-admin-token"

func testConfig() config.AppConfig {
	return config.AppConfig{
		BuyRateLimit:        10000,
		BuyRateWindow:       time.Second,
		CacheTTL:            time.Minute,
		CacheNullTTL:        10 * time.Second,
		LockTTL:             5 * time.Second,
		LoginTTL:            time.Minute,
		AdminToken:          testAdminToken,
		OrderStreamGroup:    "router-test-g",
		OrderStreamConsumer: "router-test-c",
	}
}

// newTestServer 起一套完整服务：sqlite + redis(DB 14) + 全部路由。
func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB, *rd.Client, config.AppConfig) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := rd.NewClient(&rd.Options{Addr: addr, DB: 14})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "router_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Shop{}, &model.Voucher{}, &model.Order{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := testConfig()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Setup(r, db, rdb, cfg)
	return r, db, rdb, cfg
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp.Data
}

// seedSession 直接写会话，跳过验证码流程。
func seedSession(t *testing.T, rdb *rd.Client, userID int64) string {
	t.Helper()
	token := fmt.Sprintf("test-token-%d", userID)
	key := rediskey.LoginTokenKey(token)
	ctx := context.Background()
	if err := rdb.HSet(ctx, key, "id", fmt.Sprint(userID), "nick_name", "tester").Err(); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	rdb.Expire(ctx, key, time.Minute)
	return token
}

func createVoucherForTest(t *testing.T, r *gin.Engine, stock int64) uint {
	t.Helper()
	begin := time.Now().Add(-time.Hour).Format(time.RFC3339)
	end := time.Now().Add(time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"title":"50元代金券","stock":%d,"sale_price":4000,"begin_time":%q,"end_time":%q}`,
		stock, begin, end)
	w := doJSON(t, r, http.MethodPost, "/api/voucher", body,
		map[string]string{"X-Admin-Token": testAdminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("create voucher: status %d, body %s", w.Code, w.Body.String())
	}
	data := decodeData(t, w)
	id := uint(data["id"].(float64))

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/seckill/preload/%d", id), "",
		map[string]string{"X-Admin-Token": testAdminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("preload voucher: status %d, body %s", w.Code, w.Body.String())
	}
	return id
}

func startConsumer(t *testing.T, rdb *rd.Client, db *gorm.DB, cfg config.AppConfig) {
	t.Helper()
	c := queue.NewConsumer(rdb, db, nil, cfg.OrderStreamGroup, cfg.OrderStreamConsumer, cfg.LockTTL)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("consumer did not stop after cancel")
		}
	})
}

func waitOrderCount(t *testing.T, db *gorm.DB, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var count int64
		if err := db.Model(&model.Order{}).Count(&count).Error; err != nil {
			t.Fatalf("count orders: %v", err)
		}
		if count >= want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("orders did not reach %d in time", want)
}

func TestLoginFlow(t *testing.T) {
	r, _, rdb, _ := newTestServer(t)
	const phone = "13812345678"

	w := doJSON(t, r, http.MethodPost, "/api/user/code", fmt.Sprintf(`{"phone":%q}`, phone), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send code: status %d, body %s", w.Code, w.Body.String())
	}
	code, err := rdb.Get(context.Background(), rediskey.LoginCodeKey(phone)).Result()
	if err != nil {
		t.Fatalf("read code: %v", err)
	}

	w = doJSON(t, r, http.MethodPost, "/api/user/login",
		fmt.Sprintf(`{"phone":%q,"code":%q}`, phone, code), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", w.Code, w.Body.String())
	}
	token, _ := decodeData(t, w)["token"].(string)
	if token == "" {
		t.Fatal("login returned empty token")
	}

	w = doJSON(t, r, http.MethodGet, "/api/user/me", "", map[string]string{"Authorization": token})
	if w.Code != http.StatusOK {
		t.Fatalf("me: status %d, body %s", w.Code, w.Body.String())
	}

	// 错误验证码必须被拒绝
	w = doJSON(t, r, http.MethodPost, "/api/user/login",
		fmt.Sprintf(`{"phone":%q,"code":"000000"}`, phone), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("wrong code: status %d, want 400", w.Code)
	}
}

func TestSeckillEndToEnd(t *testing.T) {
	r, db, rdb, cfg := newTestServer(t)
	voucherID := createVoucherForTest(t, r, 1)
	startConsumer(t, rdb, db, cfg)

	tokenA := seedSession(t, rdb, 101)
	tokenB := seedSession(t, rdb, 102)
	path := fmt.Sprintf("/api/seckill/voucher/%d", voucherID)

	wa := doJSON(t, r, http.MethodPost, path, "", map[string]string{"Authorization": tokenA})
	wb := doJSON(t, r, http.MethodPost, path, "", map[string]string{"Authorization": tokenB})

	okCount := 0
	var winner *httptest.ResponseRecorder
	var winnerToken string
	for i, w := range []*httptest.ResponseRecorder{wa, wb} {
		if w.Code == http.StatusOK {
			okCount++
			winner = w
			winnerToken = []string{tokenA, tokenB}[i]
		} else if w.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status %d, body %s", w.Code, w.Body.String())
		}
	}
	if okCount != 1 {
		t.Fatalf("ok responses = %d, want exactly 1 (stock=1)", okCount)
	}

	waitOrderCount(t, db, 1)
	var count int64
	db.Model(&model.Order{}).Count(&count)
	if count != 1 {
		t.Fatalf("orders count = %d, want 1", count)
	}
	var v model.Voucher
	db.First(&v, voucherID)
	if v.Stock != 0 {
		t.Fatalf("db stock = %d, want 0", v.Stock)
	}

	orderID, _ := decodeData(t, winner)["order_id"].(string)
	w := doJSON(t, r, http.MethodGet, "/api/seckill/result/"+orderID, "",
		map[string]string{"Authorization": winnerToken})
	if w.Code != http.StatusOK {
		t.Fatalf("result: status %d, body %s", w.Code, w.Body.String())
	}
	if status, _ := decodeData(t, w)["status"].(string); status != "created" {
		t.Fatalf("result status = %q, want created", status)
	}
}

func TestSeckillSameUserOnlyOnce(t *testing.T) {
	r, db, rdb, cfg := newTestServer(t)
	voucherID := createVoucherForTest(t, r, 10)
	startConsumer(t, rdb, db, cfg)

	token := seedSession(t, rdb, 201)
	path := fmt.Sprintf("/api/seckill/voucher/%d", voucherID)

	w1 := doJSON(t, r, http.MethodPost, path, "", map[string]string{"Authorization": token})
	if w1.Code != http.StatusOK {
		t.Fatalf("first buy: status %d, body %s", w1.Code, w1.Body.String())
	}
	w2 := doJSON(t, r, http.MethodPost, path, "", map[string]string{"Authorization": token})
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("second buy: status %d, want 400, body %s", w2.Code, w2.Body.String())
	}
	if !strings.Contains(w2.Body.String(), "不可重复下单") {
		t.Fatalf("second buy body = %s, want duplicate rejection", w2.Body.String())
	}

	waitOrderCount(t, db, 1)
	var count int64
	db.Model(&model.Order{}).Count(&count)
	if count != 1 {
		t.Fatalf("orders count = %d, want 1", count)
	}
}

func TestSeckillRequiresLogin(t *testing.T) {
	r, _, _, _ := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/api/seckill/voucher/1", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestShopCacheReadAndUpdate(t *testing.T) {
	r, _, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/shop",
		`{"name":"海底捞","address":"人民路1号","avg_cost":12000,"score":47}`,
		map[string]string{"X-Admin-Token": testAdminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("create shop: status %d, body %s", w.Code, w.Body.String())
	}
	id := uint(decodeData(t, w)["id"].(float64))
	path := fmt.Sprintf("/api/shop/%d", id)

	// 第一次回源，第二次命中缓存，结果一致
	for i := 0; i < 2; i++ {
		w = doJSON(t, r, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get shop (round %d): status %d", i, w.Code)
		}
		if name, _ := decodeData(t, w)["name"].(string); name != "海底捞" {
			t.Fatalf("shop name = %q", name)
		}
	}

	// 更新后缓存被删，读到新值
	w = doJSON(t, r, http.MethodPut, path, `{"name":"海底捞旗舰店"}`,
		map[string]string{"X-Admin-Token": testAdminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("update shop: status %d, body %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodGet, path, "", nil)
	if name, _ := decodeData(t, w)["name"].(string); name != "海底捞旗舰店" {
		t.Fatalf("shop name after update = %q, want 海底捞旗舰店", name)
	}

	// 不存在的店铺：404 且空值缓存兜底
	w = doJSON(t, r, http.MethodGet, "/api/shop/99999", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing shop: status %d, want 404", w.Code)
	}
}

func TestHotShopLogicalExpire(t *testing.T) {
	r, _, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/shop",
		`{"name":"热门店铺","avg_cost":5000,"score":49}`,
		map[string]string{"X-Admin-Token": testAdminToken})
	id := uint(decodeData(t, w)["id"].(float64))

	// 未预热：逻辑过期路径不回源
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/shop/hot/%d", id), "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unwarmed hot shop: status %d, want 404", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/shop/warmup/%d", id), "",
		map[string]string{"X-Admin-Token": testAdminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("warmup: status %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/shop/hot/%d", id), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("hot shop after warmup: status %d", w.Code)
	}
	if name, _ := decodeData(t, w)["name"].(string); name != "热门店铺" {
		t.Fatalf("hot shop name = %q", name)
	}
}
