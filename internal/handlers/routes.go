package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Register mounts the API under the given router. Everything except the
// model catalogue requires a bearer token.
func Register(r chi.Router, auth func(http.Handler) http.Handler, jobs *JobHandler, wallets *WalletHandler) {
	r.Get("/models", jobs.Models)

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Post("/predict", jobs.Predict)
		r.Get("/jobs/{jobId}", jobs.GetJob)
		r.Get("/history", jobs.History)
		r.Get("/documents", jobs.Documents)
		r.Get("/documents/{documentId}", jobs.GetDocument)

		r.Get("/balance", wallets.Balance)
		r.Get("/wallet", wallets.Wallet)
		r.Post("/topup", wallets.TopUp)
		r.Get("/transactions", wallets.Transactions)
	})
}
