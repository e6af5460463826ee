package billinghttp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorshop/billing/pkg/billing"
	"github.com/creatorshop/billing/svc/billinghttp"
)

var testPages = billinghttp.GuardPages{
	SignIn:       "/signin",
	Feed:         "/feed",
	Onboarding:   "/creator/onboarding",
	Reactivation: "/creator/reactivate",
}

func guardedHandler(t *testing.T, f *fixture) http.Handler {
	t.Helper()

	guard := billinghttp.RequireCreatorAccess(f.verifier, f.profiles, f.svc, testPages)
	return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := billinghttp.UserIDFromContext(r.Context())
		require.True(t, ok, "guard must put the user ID on the context")
		w.Header().Set("X-User-ID", userID.String())
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequireCreatorAccess(t *testing.T) {
	t.Parallel()

	t.Run("anonymous redirects to sign-in", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		req := httptest.NewRequest(http.MethodGet, "/creator/dashboard", nil)
		rec := httptest.NewRecorder()

		guardedHandler(t, f).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, testPages.SignIn, rec.Header().Get("Location"))
	})

	t.Run("follower redirects to the feed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		req := httptest.NewRequest(http.MethodGet, "/creator/dashboard", nil)
		req.Header.Set("Authorization", bearerToken(t, userID))
		rec := httptest.NewRecorder()

		guardedHandler(t, f).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, testPages.Feed, rec.Header().Get("Location"))
	})

	t.Run("suspended creator redirects to reactivation", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		require.NoError(t, f.profiles.SetRole(context.Background(), userID, billing.RoleCreator))
		require.NoError(t, f.subs.Upsert(context.Background(), &billing.Subscription{
			UserID:        userID,
			Status:        billing.StatusPastDue,
			ProviderSubID: "sub_1",
		}))

		req := httptest.NewRequest(http.MethodGet, "/creator/dashboard", nil)
		req.Header.Set("Authorization", bearerToken(t, userID))
		rec := httptest.NewRecorder()

		guardedHandler(t, f).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, testPages.Reactivation, rec.Header().Get("Location"))
	})

	t.Run("creator without a subscription redirects to onboarding", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		require.NoError(t, f.profiles.SetRole(context.Background(), userID, billing.RoleCreator))

		req := httptest.NewRequest(http.MethodGet, "/creator/dashboard", nil)
		req.Header.Set("Authorization", bearerToken(t, userID))
		rec := httptest.NewRecorder()

		guardedHandler(t, f).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, testPages.Onboarding, rec.Header().Get("Location"))
	})

	t.Run("trialing creator is allowed through", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		require.NoError(t, f.profiles.SetRole(context.Background(), userID, billing.RoleCreator))
		require.NoError(t, f.subs.Upsert(context.Background(), &billing.Subscription{
			UserID:        userID,
			Status:        billing.StatusTrialing,
			Plan:          billing.PlanMonthly,
			ProviderSubID: "sub_1",
		}))

		req := httptest.NewRequest(http.MethodGet, "/creator/dashboard", nil)
		req.Header.Set("Authorization", bearerToken(t, userID))
		rec := httptest.NewRecorder()

		guardedHandler(t, f).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userID.String(), rec.Header().Get("X-User-ID"))
	})

	t.Run("canceled creator redirects to reactivation not onboarding", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		require.NoError(t, f.profiles.SetRole(context.Background(), userID, billing.RoleCreator))
		require.NoError(t, f.subs.Upsert(context.Background(), &billing.Subscription{
			UserID:        userID,
			Status:        billing.StatusCanceled,
			ProviderSubID: "sub_1",
		}))

		req := httptest.NewRequest(http.MethodGet, "/creator/dashboard", nil)
		req.Header.Set("Authorization", bearerToken(t, userID))
		rec := httptest.NewRecorder()

		guardedHandler(t, f).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, testPages.Reactivation, rec.Header().Get("Location"))
	})
}
