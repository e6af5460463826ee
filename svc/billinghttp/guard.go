package billinghttp

import (
	"net/http"

	"github.com/creatorshop/billing/pkg/billing"
)

// GuardPages names the destinations a rejected request is redirected to.
type GuardPages struct {
	SignIn       string
	Feed         string
	Onboarding   string
	Reactivation string
}

// RequireCreatorAccess guards creator-only routes. Evaluation order matters:
// the role check precedes the subscription checks, since subscription state
// is only meaningful for creator accounts.
//
//	no user              -> sign-in
//	role != creator      -> generic feed
//	suspended            -> reactivation
//	not active           -> onboarding (never subscribed or incomplete)
//	otherwise            -> allow, with the user ID on the request context
func RequireCreatorAccess(verifier *TokenVerifier, profiles billing.ProfileStore, svc *billing.Service, pages GuardPages) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := verifier.UserID(r)
			if err != nil {
				http.Redirect(w, r, pages.SignIn, http.StatusSeeOther)
				return
			}

			role, err := profiles.Role(r.Context(), userID)
			if err != nil || role != billing.RoleCreator {
				http.Redirect(w, r, pages.Feed, http.StatusSeeOther)
				return
			}

			summary, err := svc.Summary(r.Context(), userID)
			if err != nil {
				http.Error(w, "failed to load subscription status", http.StatusInternalServerError)
				return
			}

			switch {
			case summary.Suspended:
				http.Redirect(w, r, pages.Reactivation, http.StatusSeeOther)
			case !summary.Active:
				http.Redirect(w, r, pages.Onboarding, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
			}
		})
	}
}
