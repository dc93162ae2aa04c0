package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"goldledger/internal/fallback"
	"goldledger/internal/infrastructure/database"
	"goldledger/internal/infrastructure/lock"
	"goldledger/internal/metrics"
	"goldledger/internal/model"
	"goldledger/internal/repository"
	"goldledger/internal/service"
	"goldledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openDB(t *testing.T, migrate func(*gorm.DB) error) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func setupRouter(t *testing.T) *gin.Engine {
	r, _ := setupRouterWithCache(t)
	return r
}

func setupRouterWithCache(t *testing.T) (*gin.Engine, *fallback.Cache) {
	t.Helper()

	primary := openDB(t, database.MigratePrimary)
	cache := fallback.NewCache(openDB(t, database.MigrateFallback))
	store := repository.NewLedgerStore(primary, "gold_ledger_events", 2*time.Second)
	profiles := repository.NewProfileRepository(primary)
	m := metrics.New("test")
	rates := service.NewStaticRateProvider(decimal.RequireFromString("7250.45"), decimal.RequireFromString("7010.20"))

	engine := service.NewEngine(store, cache, rates, profiles, lock.NewLocalLocker(), m, service.EngineOptions{
		FeeRate:    decimal.RequireFromString("0.03"),
		MaxRateAge: time.Minute,
	})

	h := NewHandler(Deps{
		Engine:         engine,
		AccountService: service.NewAccountService(store, cache),
		SipScheduler:   service.NewSipScheduler(repository.NewSipPlanRepository(primary), engine, m, decimal.NewFromInt(100), "strict"),
		ProfileService: service.NewProfileService(profiles),
		KycService:     service.NewKycService(nil, profiles),
		Rates:          rates,
		Health:         store,
	})
	r := SetupRouter(h, m)
	gin.SetMode(gin.TestMode)
	return r, cache
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Code != http.StatusNotFound && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestHandler_BuyThenBalance(t *testing.T) {
	r := setupRouter(t)

	code, env := do(t, r, http.MethodPost, "/api/v1/trade/execute", gin.H{
		"user_ref": "u1",
		"kind":     "BUY",
		"mode":     "CURRENCY",
		"value":    "5000",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	var result struct {
		Transaction struct {
			TransactionNo string `json:"transaction_no"`
			Weight        string `json:"weight"`
			Status        string `json:"status"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "0.6896", result.Transaction.Weight)
	assert.Equal(t, "SUCCESS", result.Transaction.Status)

	_, env = do(t, r, http.MethodGet, "/api/v1/account/balance?user_ref=u1", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var view struct {
		Grams       string `json:"grams"`
		Provisional bool   `json:"provisional"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "0.6896", view.Grams)
	assert.False(t, view.Provisional)

	_, env = do(t, r, http.MethodGet, "/api/v1/account/transaction?transaction_no="+result.Transaction.TransactionNo, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = do(t, r, http.MethodGet, "/api/v1/account/transactions?user_ref=u1", nil)
	require.Equal(t, response.CodeSuccess, env.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.EqualValues(t, 1, page.Total)
}

func TestHandler_ErrorCodes(t *testing.T) {
	r := setupRouter(t)

	_, env := do(t, r, http.MethodPost, "/api/v1/trade/execute", gin.H{
		"user_ref": "u1", "kind": "SELL", "mode": "WEIGHT", "value": "1",
	})
	assert.Equal(t, response.CodeInsufficientBalance, env.Code)

	_, env = do(t, r, http.MethodPost, "/api/v1/trade/execute", gin.H{
		"user_ref": "u1", "kind": "BUY", "value": "-1",
	})
	assert.Equal(t, response.CodeInvalidInput, env.Code)

	_, env = do(t, r, http.MethodPost, "/api/v1/trade/execute", gin.H{"kind": "BUY"})
	assert.Equal(t, response.CodeParamError, env.Code)

	_, env = do(t, r, http.MethodGet, "/api/v1/account/transaction?transaction_no=none", nil)
	assert.Equal(t, response.CodeTransactionNotFound, env.Code)

	_, env = do(t, r, http.MethodGet, "/api/v1/sip/detail?plan_no=none", nil)
	assert.Equal(t, response.CodePlanNotFound, env.Code)

	_, env = do(t, r, http.MethodGet, "/api/v1/profile?phone=none", nil)
	assert.Equal(t, response.CodeProfileNotFound, env.Code)
}

func TestHandler_QuoteAndRate(t *testing.T) {
	r := setupRouter(t)

	_, env := do(t, r, http.MethodPost, "/api/v1/quote", gin.H{
		"user_ref": "u1", "kind": "SELL", "mode": "WEIGHT", "value": "0.7143", "rate": "6900",
	})
	require.Equal(t, response.CodeSuccess, env.Code)
	var q struct {
		CurrencyAmount string `json:"currency_amount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, "4928.67", q.CurrencyAmount)

	_, env = do(t, r, http.MethodGet, "/api/v1/rate", nil)
	assert.Equal(t, response.CodeSuccess, env.Code)
}

func TestHandler_SipAndProfile(t *testing.T) {
	r := setupRouter(t)

	_, env := do(t, r, http.MethodPost, "/api/v1/profile/register", gin.H{
		"phone": "9000000001", "first_name": "Asha",
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = do(t, r, http.MethodPost, "/api/v1/profile/register", gin.H{
		"phone": "9000000001", "first_name": "Asha",
	})
	assert.Equal(t, response.CodeDuplicateRequest, env.Code)

	_, env = do(t, r, http.MethodPost, "/api/v1/sip/create", gin.H{
		"user_ref": "9000000001", "plan_amount": "1000", "cadence": "MONTHLY", "total_cycles": 6,
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var created struct {
		Plan struct {
			PlanNo          string `json:"plan_no"`
			CyclesCompleted int    `json:"cycles_completed"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, 1, created.Plan.CyclesCompleted)

	_, env = do(t, r, http.MethodPost, "/api/v1/sip/pay", gin.H{"plan_no": created.Plan.PlanNo})
	assert.Equal(t, response.CodePlanNotDue, env.Code)

	_, env = do(t, r, http.MethodPost, "/api/v1/sip/cancel", gin.H{"plan_no": created.Plan.PlanNo})
	require.Equal(t, response.CodeSuccess, env.Code)

	_, env = do(t, r, http.MethodPost, "/api/v1/sip/pay", gin.H{"plan_no": created.Plan.PlanNo})
	assert.Equal(t, response.CodePlanTerminal, env.Code)

	_, env = do(t, r, http.MethodPost, "/api/v1/sip/create", gin.H{
		"user_ref": "9000000001", "plan_amount": "10", "cadence": "MONTHLY", "total_cycles": 6,
	})
	assert.Equal(t, response.CodeInvalidInput, env.Code)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	r := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ledger":"ok"`)

	_, env := do(t, r, http.MethodPost, "/api/v1/reconcile", nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHandler_ReconcileConflictReturnsReport(t *testing.T) {
	r, cache := setupRouterWithCache(t)

	// 降级期间记下的卖出，主库里该用户没有余额
	_, err := cache.Enqueue(context.Background(), &model.Transaction{
		TransactionNo:  "T-offline-1",
		UserRef:        "u9",
		Kind:           model.KindSell,
		CurrencyAmount: decimal.RequireFromString("3500.00"),
		GoldValue:      decimal.RequireFromString("3500.00"),
		Weight:         decimal.RequireFromString("0.5000"),
		RatePerGram:    decimal.RequireFromString("7000"),
		Status:         model.TxnStatusPending,
		CreatedAt:      time.Now(),
	}, decimal.RequireFromString("-0.5"))
	require.NoError(t, err)

	code, env := do(t, r, http.MethodPost, "/api/v1/reconcile", gin.H{"user_ref": "u9"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, response.CodeReconcileConflict, env.Code)

	var report service.ReconcileReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "u9", report.UserRef)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "T-offline-1", report.Failed[0].TransactionNo)
	assert.Zero(t, report.Remaining)
}

func TestHandler_ReconcileAllConflictReturnsReports(t *testing.T) {
	r, cache := setupRouterWithCache(t)

	_, err := cache.Enqueue(context.Background(), &model.Transaction{
		TransactionNo:  "T-offline-2",
		UserRef:        "u8",
		Kind:           model.KindSell,
		CurrencyAmount: decimal.RequireFromString("700.00"),
		GoldValue:      decimal.RequireFromString("700.00"),
		Weight:         decimal.RequireFromString("0.1000"),
		RatePerGram:    decimal.RequireFromString("7000"),
		Status:         model.TxnStatusPending,
		CreatedAt:      time.Now(),
	}, decimal.RequireFromString("-0.1"))
	require.NoError(t, err)

	_, env := do(t, r, http.MethodPost, "/api/v1/reconcile", nil)
	assert.Equal(t, response.CodeReconcileConflict, env.Code)

	var body struct {
		Reports []service.ReconcileReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Reports, 1)
	assert.Equal(t, "u8", body.Reports[0].UserRef)
	assert.Len(t, body.Reports[0].Failed, 1)
}
