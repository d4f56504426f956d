package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/taskstake/backend/internal/models"
)

const ctxStakeKey contextKey = "parsed_stake"

// parsedStake is stored in context so the handler can read the validated
// bet without re-parsing the body.
type parsedStake struct {
	BetAmount decimal.Decimal `json:"bet_amount"`
	Category  string          `json:"category"`
}

// StakeFromCtx returns the bet amount parsed by StakeCheck, or zero.
func StakeFromCtx(ctx context.Context) decimal.Decimal {
	if s, ok := ctx.Value(ctxStakeKey).(*parsedStake); ok {
		return s.BetAmount
	}
	return decimal.Zero
}

// StakeCheck validates the bet amount and category of a task creation
// request before the handler runs. It reads the body to peek at the fields,
// then replaces r.Body so the handler can decode it again.
func StakeCheck() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserFromCtx(r.Context()) == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek parsedStake
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			if peek.BetAmount.LessThan(models.MinBetAmount) || peek.BetAmount.GreaterThan(models.MaxBetAmount) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("bet_amount must be between %s and %s",
					models.MinBetAmount, models.MaxBetAmount))
				return
			}
			if peek.Category != "" && !models.TaskCategories[peek.Category] {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("category %q is not allowed", peek.Category))
				return
			}

			ctx := context.WithValue(r.Context(), ctxStakeKey, &peek)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
