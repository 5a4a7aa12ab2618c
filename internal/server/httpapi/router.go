package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/httpx"
	"github.com/dmitrijs2005/studyrent/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Services bundles what the handlers call into.
type Services struct {
	Users      *services.UserService
	KYC        *services.KYCService
	Properties *services.PropertyService
	Contracts  *services.ContractService
	Payments   *services.PaymentService
}

type API struct {
	svc      Services
	webhooks http.Handler
	logger   logging.Logger
}

// NewRouter wires every route. webhooks serves POST /webhooks/stripe.
func NewRouter(svc Services, webhooks http.Handler, logger logging.Logger) http.Handler {
	a := &API{svc: svc, webhooks: webhooks, logger: logger.With("module", "http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodPost, "/webhooks/stripe", webhooks)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", a.register)
		r.Post("/auth/login", a.login)
		r.Post("/auth/refresh", a.refresh)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Get("/me", a.me)
			r.Post("/kyc/document-url", a.kycDocumentURL)
			r.Post("/kyc/submit", a.kycSubmit)

			r.Route("/admin/users/{userID}", func(r chi.Router) {
				r.Post("/kyc", a.kycReview)
				r.Get("/kyc/document", a.kycDocument)
				r.Post("/moderation", a.moderate)
			})

			r.Post("/properties", a.createProperty)
			r.Get("/properties/{id}", a.getProperty)

			r.Post("/payments/onboarding", a.startOnboarding)

			r.Route("/contracts", func(r chi.Router) {
				r.Post("/", a.createContract)
				r.Get("/", a.listContracts)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", a.getContract)
					r.Patch("/terms", a.updateTerms)
					r.Post("/editable", a.setEditable)
					r.Post("/sign", a.sign)
					r.Get("/signatures/{role}", a.signatureURL)
					r.Post("/cancel", a.cancel)
					r.Post("/complete", a.complete)
					r.Get("/payments", a.paymentSummary)
					r.Post("/subscription", a.attachSubscription)
					r.Post("/deposit", a.recordDeposit)
				})
			})
		})
	})
	return r
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
