package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tessera-sec/gatewise/internal/contextstore"
	"github.com/tessera-sec/gatewise/internal/engine"
	"github.com/tessera-sec/gatewise/internal/policy"
	"github.com/tessera-sec/gatewise/internal/scorer"
	"github.com/tessera-sec/gatewise/internal/server/handler"
)

// fixedScorer always predicts the same confidence.
type fixedScorer struct {
	confidence float64
}

func (s fixedScorer) Train(ctx context.Context, features []scorer.Features, labels []int) bool {
	return true
}

func (s fixedScorer) Predict(ctx context.Context, features scorer.Features) float64 {
	return s.confidence
}

func setupAccessRouter(t *testing.T, confidence float64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	contexts := contextstore.New(contextstore.DefaultRiskWeights(), zap.NewNop())
	contexts.SetClock(func() time.Time {
		return time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	})
	eng := engine.New(policy.NewMemoryStore(), contexts, fixedScorer{confidence}, nil, zap.NewNop())

	r := gin.New()
	h := handler.NewAccessHandler(eng, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r
}

func checkBody(t *testing.T, subject string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"subject_id": subject,
		"data_type":  "medical",
		"action":     "read",
		"context":    map[string]any{"location": "office", "device": "laptop-1"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestAccessCheck_200_allowed(t *testing.T) {
	router := setupAccessRouter(t, 0.95)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/access/check", checkBody(t, "alice"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["allowed"] != true {
		t.Errorf("expected allowed=true, got %v", resp["allowed"])
	}
	if resp["confidence"].(float64) != 0.95 {
		t.Errorf("expected confidence 0.95, got %v", resp["confidence"])
	}
}

func TestAccessCheck_200_deniedBelowThreshold(t *testing.T) {
	router := setupAccessRouter(t, 0.4)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/access/check", checkBody(t, "alice"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["allowed"] != false {
		t.Errorf("expected allowed=false, got %v", resp["allowed"])
	}
}

func TestAccessCheck_200_deniedWithoutContext(t *testing.T) {
	router := setupAccessRouter(t, 0.95)

	body, _ := json.Marshal(map[string]any{
		"subject_id": "ghost",
		"data_type":  "medical",
		"action":     "read",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/access/check", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["allowed"] != false {
		t.Errorf("expected allowed=false, got %v", resp["allowed"])
	}
	if resp["risk_score"].(float64) != 1.0 {
		t.Errorf("expected risk_score 1.0, got %v", resp["risk_score"])
	}
	if resp["reason"] != "no context available" {
		t.Errorf("expected reason 'no context available', got %v", resp["reason"])
	}
}

func TestAccessCheck_400_missingFields(t *testing.T) {
	router := setupAccessRouter(t, 0.95)

	body := bytes.NewBufferString(`{"subject_id": "alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/access/check", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAccessCheck_400_malformedJSON(t *testing.T) {
	router := setupAccessRouter(t, 0.95)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/access/check", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
