package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	"github.com/smallbiznis/repairpay/internal/adjustment"
	"github.com/smallbiznis/repairpay/internal/audit"
	"github.com/smallbiznis/repairpay/internal/authorization"
	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/config"
	"github.com/smallbiznis/repairpay/internal/events"
	"github.com/smallbiznis/repairpay/internal/lock"
	"github.com/smallbiznis/repairpay/internal/migration"
	"github.com/smallbiznis/repairpay/internal/observability"
	"github.com/smallbiznis/repairpay/internal/order"
	"github.com/smallbiznis/repairpay/internal/providers/pdf"
	"github.com/smallbiznis/repairpay/internal/ratelimit"
	"github.com/smallbiznis/repairpay/internal/report"
	"github.com/smallbiznis/repairpay/internal/returns"
	"github.com/smallbiznis/repairpay/internal/server"
	"github.com/smallbiznis/repairpay/internal/settlement"
	"github.com/smallbiznis/repairpay/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app     *fx.App
	server  *server.Server
	db      *gorm.DB
	baseURL string
	httpSrv *httptest.Server
	dataDir string
}

var env *testEnv

const technicianID = "1001"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	dataDir, err := os.MkdirTemp("", "repairpay-e2e-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create data dir:", err)
		os.Exit(1)
	}
	setDefaultEnv(filepath.Join(dataDir, "repairpay.db"))

	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		_ = os.RemoveAll(dataDir)
		os.Exit(1)
	}
	env.dataDir = dataDir

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_RejectsAnonymousRequests(t *testing.T) {
	resp, body := doJSON(t, http.MethodGet, "/api/technicians/"+technicianID+"/orders", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_WeeklySettlementFlow(t *testing.T) {
	resetDatabase(t, env.db)

	orderReq := map[string]any{
		"technician_id":    technicianID,
		"payment_method":   "CASH",
		"replacement_cost": 20_000,
		"total_price":      119_000,
		"customer_name":    "E2E Customer",
		"device":           "Phone",
		"has_receipt":      true,
	}
	resp, body := doJSON(t, http.MethodPost, "/api/orders", orderReq, adminHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order failed: %d: %s", resp.StatusCode, string(body))
	}
	var created struct {
		Data struct {
			ID               string `json:"id"`
			Status           string `json:"status"`
			CommissionAmount int64  `json:"commission_amount"`
		} `json:"data"`
	}
	decode(t, body, &created)
	if created.Data.CommissionAmount <= 0 {
		t.Fatalf("expected positive commission, got %d", created.Data.CommissionAmount)
	}

	summary := getSummary(t, technicianHeaders(technicianID))
	if summary.GrossEarned != created.Data.CommissionAmount {
		t.Fatalf("expected gross %d, got %d", created.Data.CommissionAmount, summary.GrossEarned)
	}
	if summary.SettleLimit != summary.GrossEarned {
		t.Fatalf("expected settle limit %d, got %d", summary.GrossEarned, summary.SettleLimit)
	}

	settlePath := "/api/technicians/" + technicianID + "/settlements"
	resp, body = doJSON(t, http.MethodPost, settlePath, map[string]any{"amount": 1, "payment_method": "cash"}, technicianHeaders(technicianID))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected technician settle to be forbidden, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodPost, settlePath, map[string]any{
		"amount":         summary.SettleLimit,
		"payment_method": "cash",
		"note":           "weekly payout",
	}, adminHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("settle failed: %d: %s", resp.StatusCode, string(body))
	}
	var settled struct {
		Data struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
		} `json:"data"`
	}
	decode(t, body, &settled)
	if settled.Data.Amount != summary.SettleLimit {
		t.Fatalf("expected settled amount %d, got %d", summary.SettleLimit, settled.Data.Amount)
	}
	if countRows(t, env.db, "salary_settlements", "technician_id = ?", mustParseID(t, technicianID)) != 1 {
		t.Fatalf("expected one settlement row")
	}

	after := getSummary(t, adminHeaders())
	if after.AlreadySettled != summary.SettleLimit || after.SettleLimit != 0 {
		t.Fatalf("unexpected summary after settle: settled=%d limit=%d", after.AlreadySettled, after.SettleLimit)
	}

	resp, body = doJSON(t, http.MethodPost, settlePath, map[string]any{"amount": 1, "payment_method": "cash"}, adminHeaders())
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected over-settle to be rejected, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, "/api/settlements/"+settled.Data.ID+"/payslip", nil, technicianHeaders(technicianID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("payslip failed: %d: %s", resp.StatusCode, string(body))
	}
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		t.Fatalf("expected pdf document")
	}

	resp, body = doJSON(t, http.MethodGet, "/api/settlements/"+settled.Data.ID+"/payslip", nil, technicianHeaders("2002"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected payslip hidden from other technician, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, "/admin/reports/weekly", nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("weekly board failed: %d: %s", resp.StatusCode, string(body))
	}
	var board struct {
		Data struct {
			Totals struct {
				GrossEarned int64 `json:"gross_earned"`
				Settled     int64 `json:"settled"`
				Outstanding int64 `json:"outstanding"`
			} `json:"totals"`
		} `json:"data"`
	}
	decode(t, body, &board)
	if board.Data.Totals.GrossEarned != summary.GrossEarned || board.Data.Totals.Settled != summary.SettleLimit || board.Data.Totals.Outstanding != 0 {
		t.Fatalf("unexpected board totals: %+v", board.Data.Totals)
	}

	resp, body = doJSON(t, http.MethodGet, "/admin/audit-logs?page_size=10", nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit logs failed: %d: %s", resp.StatusCode, string(body))
	}
	if countRows(t, env.db, "audit_logs", "1 = 1") == 0 {
		t.Fatalf("expected audit entries for the settlement flow")
	}
}

func TestE2E_ReturnReducesNextSummary(t *testing.T) {
	resetDatabase(t, env.db)

	resp, body := doJSON(t, http.MethodPost, "/api/orders", map[string]any{
		"technician_id":    technicianID,
		"payment_method":   "CARD",
		"replacement_cost": 10_000,
		"total_price":      59_500,
		"has_receipt":      true,
	}, adminHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order failed: %d: %s", resp.StatusCode, string(body))
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	decode(t, body, &created)

	before := getSummary(t, adminHeaders())

	resp, body = doJSON(t, http.MethodPost, "/api/orders/"+created.Data.ID+"/return", nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark returned failed: %d: %s", resp.StatusCode, string(body))
	}

	after := getSummary(t, adminHeaders())
	if after.ReturnsTotal == 0 {
		t.Fatalf("expected the return to count against the week")
	}
	if after.SettleLimit >= before.SettleLimit {
		t.Fatalf("expected settle limit to drop after return: before=%d after=%d", before.SettleLimit, after.SettleLimit)
	}
}

type summaryPayload struct {
	GrossEarned    int64 `json:"gross_earned"`
	ReturnsTotal   int64 `json:"returns_total"`
	AlreadySettled int64 `json:"already_settled"`
	SettleLimit    int64 `json:"settle_limit"`
}

func getSummary(t *testing.T, headers map[string]string) summaryPayload {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, "/api/technicians/"+technicianID+"/settlements/summary", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary failed: %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Data summaryPayload `json:"data"`
	}
	decode(t, body, &payload)
	return payload.Data
}

func startEnv() (*testEnv, error) {
	var (
		srv    *server.Server
		dbConn *gorm.DB
		cfg    config.Config
	)

	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		clock.Module,
		events.Module,
		lock.Module,
		ratelimit.Module,
		audit.Module,
		authorization.Module,
		order.Module,
		adjustment.Module,
		returns.Module,
		pdf.Module,
		settlement.Module,
		report.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Populate(&srv, &dbConn, &cfg),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if strings.ToLower(strings.TrimSpace(cfg.DBType)) != "sqlite" {
		_ = app.Stop(context.Background())
		return nil, fmt.Errorf("expected sqlite db, got %s", cfg.DBType)
	}

	httpSrv := httptest.NewServer(srv.Engine())
	return &testEnv{
		app:     app,
		server:  srv,
		db:      dbConn,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if e.dataDir != "" {
		_ = os.RemoveAll(e.dataDir)
	}
}

func setDefaultEnv(dbPath string) {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("DATABASE_NAME", dbPath)
	setEnvIfEmpty("MIGRATE_ON_START", "true")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
	setEnvIfEmpty("OTEL_ENABLED", "false")
	setEnvIfEmpty("LOG_LEVEL", "error")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	for _, model := range migration.Models() {
		if err := dbConn.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			t.Fatalf("reset tables: %v", err)
		}
	}
}

func adminHeaders() map[string]string {
	return map[string]string{
		server.HeaderActorRole: string(actorcontext.RoleAdmin),
		server.HeaderActorID:   "admin-e2e",
	}
}

func technicianHeaders(id string) map[string]string {
	return map[string]string{
		server.HeaderActorRole: string(actorcontext.RoleTechnician),
		server.HeaderActorID:   id,
	}
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func mustParseID(t *testing.T, value string) snowflake.ID {
	t.Helper()
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		t.Fatalf("invalid snowflake id: %s", value)
	}
	return parsed
}

func decode(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode response: %v: %s", err, string(body))
	}
}

func doJSON(t *testing.T, method, path string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}
