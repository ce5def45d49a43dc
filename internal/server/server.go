package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/verification"
)

// Storage is what the transport needs beyond the core verification store:
// order creation and point reads for the admin endpoints.
type Storage interface {
	CreateOrder(ctx context.Context, order verification.Order) error
	OrderByID(ctx context.Context, orderID string) (*verification.Order, error)
	OrdersOwnedBy(ctx context.Context, userID string) ([]verification.Order, error)
}

type Verifier interface {
	Verify(ctx context.Context, scan verification.ScanEvent) (*verification.VerificationResult, error)
}

type Issuer interface {
	Issue(ctx context.Context, userID, orderID string) (*verification.IssuedCredential, error)
}

type UserRepo interface {
	ValidateUser(ctx context.Context, username, password string) (bool, error)
}

type Server struct {
	storage      Storage
	verifier     Verifier
	issuer       Issuer
	userRepo     UserRepo
	logger       *zap.Logger
	server       *http.Server
	AuditManager *AuditManager
}

func New(storage Storage, verifier Verifier, issuer Issuer, userRepo UserRepo, auditManager *AuditManager, logger *zap.Logger) *Server {
	return &Server{
		storage:      storage,
		verifier:     verifier,
		issuer:       issuer,
		userRepo:     userRepo,
		logger:       logger,
		AuditManager: auditManager,
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.AuditManager.Start(ctx)

	s.logger.Info("server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("http server shutdown completed")

	s.AuditManager.Shutdown(ctx)
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(s.auditLogMiddleware, s.basicAuthMiddleware)

	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/guest-code", s.handleIssueGuestCode).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/orders", s.handleListOrders).Methods(http.MethodGet)

	return router
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		valid, err := s.userRepo.ValidateUser(r.Context(), username, password)
		if err != nil || !valid {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var scanRequest struct {
		UserID    string `json:"user_id"`
		Timestamp string `json:"timestamp"`
		StoreID   string `json:"store_id"`
		GuestCode string `json:"guest_code"`
	}

	if err := json.NewDecoder(r.Body).Decode(&scanRequest); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if scanRequest.StoreID == "" {
		respondError(w, http.StatusBadRequest, "Missing store_id")
		return
	}

	scan := verification.ScanEvent{
		UserID:    scanRequest.UserID,
		StoreID:   scanRequest.StoreID,
		GuestCode: scanRequest.GuestCode,
	}
	if scanRequest.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, scanRequest.Timestamp)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid timestamp format. Use RFC3339")
			return
		}
		scan.Timestamp = ts.UTC()
	}

	result, err := s.verifier.Verify(r.Context(), scan)
	if err != nil {
		s.logger.Error("scan verification failed", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues("scan").Inc()
		respondError(w, http.StatusInternalServerError, "Error: failed to process scan")
		return
	}

	if !result.Success {
		metrics.ScansTotal.WithLabelValues(string(result.AuthMethod), "rejected").Inc()
		respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	metrics.ScansTotal.WithLabelValues(string(result.AuthMethod), "accepted").Inc()
	switch result.TransactionType {
	case verification.TransactionPickup:
		metrics.PickupsTotal.Inc()
	case verification.TransactionReturn:
		metrics.ReturnsTotal.Inc()
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleIssueGuestCode(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var issueRequest struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&issueRequest); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if issueRequest.UserID == "" {
		respondError(w, http.StatusBadRequest, "Missing user_id")
		return
	}

	// Eligibility is checked here, not in the issuer: the order must belong
	// to the requester and be picked up (a return code makes no sense for
	// anything else).
	order, err := s.storage.OrderByID(r.Context(), orderID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("issue_guest_code").Inc()
		respondError(w, http.StatusNotFound, "Error: order not found")
		return
	}
	if order.UserID != issueRequest.UserID {
		respondError(w, http.StatusNotFound, "Error: order not found")
		return
	}
	if order.Status != verification.StatusPickedUp {
		respondError(w, http.StatusBadRequest, "Error: order is not eligible for a guest code")
		return
	}

	issued, err := s.issuer.Issue(r.Context(), issueRequest.UserID, orderID)
	if err != nil {
		s.logger.Error("guest code issuance failed", zap.String("order_id", orderID), zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues("issue_guest_code").Inc()
		respondError(w, http.StatusInternalServerError, "Error: failed to issue guest code")
		return
	}

	metrics.GuestCodesIssuedTotal.Inc()
	respondJSON(w, http.StatusCreated, issued)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var orderRequest struct {
		ID      string `json:"id"`
		UserID  string `json:"user_id"`
		StoreID string `json:"store_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&orderRequest); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if orderRequest.ID == "" || orderRequest.UserID == "" || orderRequest.StoreID == "" {
		respondError(w, http.StatusBadRequest, "Missing id, user_id or store_id")
		return
	}

	now := time.Now().UTC()
	order := verification.Order{
		ID:        orderRequest.ID,
		UserID:    orderRequest.UserID,
		StoreID:   orderRequest.StoreID,
		Status:    verification.StatusReadyForPickup,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.storage.CreateOrder(r.Context(), order); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("create_order").Inc()
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"message": "Order registered for pickup",
		"id":      order.ID,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := s.storage.OrderByID(r.Context(), orderID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Error: order not found")
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	orders, err := s.storage.OrdersOwnedBy(r.Context(), userID)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("list_orders").Inc()
		respondError(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, orders)
}
