package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/merigil/mythoria-sub000/internal/auth"
	"github.com/merigil/mythoria-sub000/internal/leaderboard"
	"github.com/merigil/mythoria-sub000/internal/ledger"
	"github.com/merigil/mythoria-sub000/internal/players"
	"github.com/merigil/mythoria-sub000/internal/reconcile"
	"github.com/merigil/mythoria-sub000/internal/signature"
	"github.com/merigil/mythoria-sub000/internal/submissions"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	testTimestamp     = "1760428800000"
	testAdminSecret   = "admin-secret"
	testAdminIssuer   = "cacamites-admin"
	targetLatitude    = 41.9317
	targetLongitude   = 2.2518
	targetRadiusMeter = 20.0
)

var testSigningSecret = []byte("submission-secret")

type testServer struct {
	handler     http.Handler
	db          *gorm.DB
	ledger      *ledger.Store
	leaderboard *leaderboard.Store
	realtime    *RealtimeDispatcher
	issuer      *auth.TokenIssuer
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&ledger.Target{}, &ledger.Entry{}, &players.Player{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ledgerStore, err := ledger.NewStore(ledger.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if err := ledgerStore.UpsertTargets(context.Background(), []ledger.Target{
		{TargetID: "T1", Title: "Catedral", Latitude: targetLatitude, Longitude: targetLongitude, ActivationRadiusMeters: targetRadiusMeter, Metadata: datatypes.JSON(`{"hint":"nave"}`)},
		{TargetID: "T2", Title: "Pont", Latitude: targetLatitude + 0.004, Longitude: targetLongitude, ActivationRadiusMeters: 30},
		{TargetID: "T3", Title: "Montseny", Latitude: 41.77, Longitude: 2.43, ActivationRadiusMeters: 50},
	}); err != nil {
		t.Fatalf("seed targets: %v", err)
	}

	playerService, err := players.NewService(players.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("players: %v", err)
	}
	if err := playerService.Upsert(context.Background(), []players.Player{{PlayerID: "p-ana", DisplayName: "Ana"}}); err != nil {
		t.Fatalf("seed players: %v", err)
	}

	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	board, err := leaderboard.NewStore(leaderboard.StoreConfig{Client: client, KeyPrefix: "server-test"})
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}

	dispatcher := NewRealtimeDispatcher(16)
	t.Cleanup(dispatcher.Close)

	service, err := submissions.NewService(submissions.ServiceConfig{
		Ledger:       ledgerStore,
		Leaderboard:  board,
		Verifier:     signature.NewVerifier(testSigningSecret),
		Notifier:     dispatcher,
		DisplayNames: playerService,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("submissions: %v", err)
	}

	reconciler, err := reconcile.New(reconcile.Config{Ledger: ledgerStore, Leaderboard: board})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	validator, err := auth.NewAdminValidator(auth.AdminValidatorConfig{SigningSecret: []byte(testAdminSecret), Issuer: testAdminIssuer})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testAdminSecret), Issuer: testAdminIssuer, TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Targets:        ledgerStore,
		Submissions:    service,
		Leaderboard:    board,
		Players:        playerService,
		Realtime:       dispatcher,
		AdminValidator: validator,
		Reconciler:     reconciler,
		AllowedOrigins: []string{"https://app.cacamites.cat"},
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testServer{
		handler:     handler,
		db:          db,
		ledger:      ledgerStore,
		leaderboard: board,
		realtime:    dispatcher,
		issuer:      issuer,
	}
}

func (s testServer) do(t *testing.T, method, target string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func submissionBody(playerID, targetID string, score int64, latitude, longitude float64) map[string]interface{} {
	return map[string]interface{}{
		"playerId":        playerID,
		"targetId":        targetID,
		"score":           score,
		"timestampMillis": testTimestamp,
		"claimedLocation": map[string]float64{"lat": latitude, "lon": longitude},
	}
}

func signedHeaders(score int64) map[string]string {
	return map[string]string{signatureHeader: signature.Sign(score, testTimestamp, testSigningSecret)}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func countEntries(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&ledger.Entry{}).Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return count
}

type stubSubmissions struct{}

func (stubSubmissions) Submit(context.Context, submissions.Claim) (submissions.Result, error) {
	return submissions.Result{}, nil
}
