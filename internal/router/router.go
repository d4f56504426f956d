package router

import (
	"net/http"

	"github.com/taskstake/backend/internal/auth"
	"github.com/taskstake/backend/internal/friends"
	"github.com/taskstake/backend/internal/handlers"
	"github.com/taskstake/backend/internal/middleware"
)

// Deps carries everything the route table needs.
type Deps struct {
	Auth        *auth.Handler
	AuthSvc     middleware.TokenValidator
	Users       middleware.UserLookup
	Tasks       *handlers.TaskHandler
	Evidence    *handlers.EvidenceHandler
	Judgement   *handlers.JudgementHandler
	Wallet      *handlers.WalletHandler
	Maintenance *handlers.MaintenanceHandler
	Friends     *friends.Handler
}

// New returns the API handler. Everything under /api/v1 except the auth
// endpoints requires a valid bearer token.
func New(d Deps) http.Handler {
	authed := middleware.JWTAuth(d.AuthSvc, d.Users)
	stakeChecked := middleware.StakeCheck()

	mux := http.NewServeMux()
	const base = "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", d.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", d.Auth.Login)

	protected := http.NewServeMux()
	protected.Handle("POST "+base+"/tasks", stakeChecked(http.HandlerFunc(d.Tasks.CreateTask)))
	protected.HandleFunc("GET "+base+"/tasks", d.Tasks.ListTasks)
	protected.HandleFunc("GET "+base+"/tasks/stats", d.Tasks.Stats)
	protected.HandleFunc("GET "+base+"/tasks/{id}", d.Tasks.GetTask)
	protected.HandleFunc("DELETE "+base+"/tasks/{id}", d.Tasks.CancelTask)
	protected.HandleFunc("POST "+base+"/tasks/{id}/archive", d.Tasks.Archive(true))
	protected.HandleFunc("POST "+base+"/tasks/{id}/unarchive", d.Tasks.Archive(false))
	protected.HandleFunc("POST "+base+"/tasks/{id}/evidence", d.Evidence.Submit)
	protected.HandleFunc("GET "+base+"/tasks/{id}/evidence", d.Evidence.Get)
	protected.HandleFunc("POST "+base+"/tasks/{id}/judge", d.Judgement.Rule)
	protected.HandleFunc("GET "+base+"/judgements/pending", d.Judgement.Pending)

	protected.HandleFunc("GET "+base+"/templates", d.Tasks.ListTemplates)
	protected.HandleFunc("DELETE "+base+"/templates/{id}", d.Tasks.DeleteTemplate)

	protected.HandleFunc("GET "+base+"/wallet", d.Wallet.Get)
	protected.HandleFunc("POST "+base+"/wallet/deposit", d.Wallet.Deposit)
	protected.HandleFunc("GET "+base+"/wallet/transactions", d.Wallet.Transactions)
	protected.HandleFunc("POST "+base+"/wallet/reconcile", d.Wallet.Reconcile)

	protected.HandleFunc("GET "+base+"/friends", d.Friends.ListFriends)
	protected.HandleFunc("GET "+base+"/friends/invitations", d.Friends.ListInvitations)
	protected.HandleFunc("POST "+base+"/friends/invitations", d.Friends.Invite)
	protected.HandleFunc("POST "+base+"/friends/invitations/{id}/respond", d.Friends.Respond)

	protected.HandleFunc("POST "+base+"/maintenance/clean-past-tasks", d.Maintenance.CleanPastTasks)

	mux.Handle(base+"/", authed(protected))

	return mux
}
