package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"orphi/config"
	"orphi/core"
	"orphi/ledger"
	"orphi/storage"
)

func newTestServer(t *testing.T) (*Server, *core.Node) {
	t.Helper()
	cfg := config.Default()
	led := ledger.NewLedger(storage.NewMemDB())
	authorize := func(actor string) bool { return true }
	node, err := core.NewNode(led, cfg.Engine, nil, nil, authorize, clockwork.NewFakeClock(), nil)
	require.NoError(t, err)
	_, err = node.Bootstrap("root", 4)
	require.NoError(t, err)
	return NewServer(node, nil, *cfg, nil), node
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func TestRegisterAndGetMember(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
		Member:  "alice",
		Sponsor: "root",
		Tier:    1,
		Amount:  "3000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created registerResponse
	decode(t, rec, &created)
	require.Equal(t, "root", created.Parent)
	require.Equal(t, "left", created.Leg)
	require.Equal(t, "150", created.Receipt.AdminFee)

	rec = doJSON(t, router, http.MethodGet, "/v1/members/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var member memberResponse
	decode(t, rec, &member)
	require.Equal(t, "alice", member.Address)
	require.Equal(t, "root", member.Sponsor)
	require.Equal(t, "3000", member.TotalInvested)
	require.Equal(t, "12000", member.Cap)
}

func TestRegisterWithUnitConversion(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
		Member:       "alice",
		Sponsor:      "root",
		Tier:         1,
		Units:        "2",
		PricePerUnit: "1500",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created registerResponse
	decode(t, rec, &created)
	require.Equal(t, "3000", created.Receipt.Gross)
}

func TestRegisterValidation(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{Member: "alice"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
		Member: "alice", Sponsor: "root", Tier: 1, Amount: "-5",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
		Member: "alice", Sponsor: "ghost", Tier: 1, Amount: "3000",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Duplicate registration conflicts.
	rec = doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
		Member: "alice", Sponsor: "root", Tier: 1, Amount: "3000",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
		Member: "alice", Sponsor: "root", Tier: 1, Amount: "3000",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetUnknownMemberIs404(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Router(), http.MethodGet, "/v1/members/nobody", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpgradeEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
		Member: "alice", Sponsor: "root", Tier: 1, Amount: "3000",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/members/alice/upgrade", upgradeRequest{
		Tier: 3, Amount: "10000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt receiptResponse
	decode(t, rec, &receipt)
	require.Equal(t, uint8(3), receipt.Tier)

	// Downgrades conflict.
	rec = doJSON(t, router, http.MethodPost, "/v1/members/alice/upgrade", upgradeRequest{
		Tier: 1, Amount: "3000",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestWithdrawEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
		Member: "alice", Sponsor: "root", Tier: 3, Amount: "10000",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// root earned direct + level-1 from alice's contribution.
	rec = doJSON(t, router, http.MethodPost, "/v1/members/root/withdraw", withdrawRequest{Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt withdrawResponse
	decode(t, rec, &receipt)
	require.Equal(t, "1000", receipt.Requested)
	require.Equal(t, uint32(7000), receipt.PayableBps)

	rec = doJSON(t, router, http.MethodPost, "/v1/members/root/withdraw", withdrawRequest{Amount: "999999999"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPoolEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodGet, "/v1/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pools struct {
		Pools map[string]string `json:"pools"`
	}
	decode(t, rec, &pools)
	require.Contains(t, pools.Pools, "leader")
	require.Contains(t, pools.Pools, "help")
	require.Contains(t, pools.Pools, "club")

	rec = doJSON(t, router, http.MethodGet, "/v1/pools/help/readiness", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/pools/missing/readiness", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/pools/help/accrue", accrueRequest{Amount: "5000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Root's bootstrap contribution accrued 30% of 19000 = 5700, plus the
	// manual 5000 accrual above.
	rec = doJSON(t, router, http.MethodPost, "/v1/pools/help/distribute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report distributionResponse
	decode(t, rec, &report)
	require.Equal(t, "help", report.Pool)
	require.Equal(t, 1, report.Eligible)
	require.Equal(t, "10700", report.TotalPaid)
}

func TestMatrixAndRankEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	for _, id := range []string{"a", "b", "c"} {
		rec := doJSON(t, router, http.MethodPost, "/v1/members", registerRequest{
			Member: id, Sponsor: "root", Tier: 1, Amount: "3000",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/members/root/children", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var children map[string]string
	decode(t, rec, &children)
	require.Equal(t, "a", children["left"])
	require.Equal(t, "b", children["right"])

	rec = doJSON(t, router, http.MethodGet, "/v1/members/c/upline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var upline struct {
		Upline []string `json:"upline"`
	}
	decode(t, rec, &upline)
	require.Equal(t, []string{"root"}, upline.Upline)

	rec = doJSON(t, router, http.MethodGet, "/v1/members/root/rank", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rank map[string]string
	decode(t, rec, &rank)
	require.Equal(t, "none", rank["rank"])
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Router(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
