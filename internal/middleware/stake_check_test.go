package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

func stakeRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body))
	user := &models.User{ID: uuid.New()}
	return req.WithContext(WithUser(req.Context(), user))
}

func TestStakeCheckPassesValidBet(t *testing.T) {
	var gotBody string
	var gotStake decimal.Decimal
	h := StakeCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotStake = StakeFromCtx(r.Context())
	}))

	body := `{"title":"run","bet_amount":"250","category":"运动"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, stakeRequest(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200, body %s", rec.Code, rec.Body)
	}
	// The body must be replayable for the handler after the peek.
	if gotBody != body {
		t.Errorf("handler body: got %q, want %q", gotBody, body)
	}
	if !gotStake.Equal(decimal.NewFromInt(250)) {
		t.Errorf("stake from ctx: got %s, want 250", gotStake)
	}
}

func TestStakeCheckRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"zero bet", `{"bet_amount":"0"}`, http.StatusBadRequest},
		{"negative bet", `{"bet_amount":"-5"}`, http.StatusBadRequest},
		{"over maximum", `{"bet_amount":"10001"}`, http.StatusBadRequest},
		{"unknown category", `{"bet_amount":"10","category":"gaming"}`, http.StatusBadRequest},
		{"invalid json", `{`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			h := StakeCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, stakeRequest(tc.body))

			if rec.Code != tc.code {
				t.Errorf("status: got %d, want %d", rec.Code, tc.code)
			}
			if called {
				t.Error("handler must not run for rejected stakes")
			}
			requireJSONError(t, rec)
		})
	}
}

func TestStakeCheckBoundaries(t *testing.T) {
	for _, amount := range []string{"1", "10000"} {
		t.Run(amount, func(t *testing.T) {
			called := false
			h := StakeCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, stakeRequest(`{"bet_amount":"`+amount+`"}`))
			if !called || rec.Code != http.StatusOK {
				t.Errorf("bet of %s should pass, status %d", amount, rec.Code)
			}
		})
	}
}

func TestStakeCheckRequiresUser(t *testing.T) {
	h := StakeCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a user")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"bet_amount":"10"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
}
