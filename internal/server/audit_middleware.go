package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func (s *Server) auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := AuditLogEntry{
			ID:        uuid.New(),
			Timestamp: time.Now().UTC(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Handler:   handlerName(r),
		}

		if username, _, ok := r.BasicAuth(); ok {
			entry.UserID = username
		}
		if vars := mux.Vars(r); vars != nil {
			entry.OrderID = vars["id"]
		}

		if r.Body != nil {
			requestBody, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			entry.Request = string(requestBody)
		}

		rec := newResponseRecorder(w)
		next.ServeHTTP(rec, r)

		entry.StatusCode = rec.Status()
		entry.Response = string(rec.Body())

		s.AuditManager.LogEntry(r.Context(), entry)
	})
}

func handlerName(r *http.Request) string {
	path, method := r.URL.Path, r.Method

	switch {
	case path == "/scan":
		return "handleScan"
	case strings.HasSuffix(path, "/guest-code"):
		return "handleIssueGuestCode"
	case path == "/orders" && method == http.MethodPost:
		return "handleCreateOrder"
	case strings.HasPrefix(path, "/orders/") && method == http.MethodGet:
		return "handleGetOrder"
	case strings.HasPrefix(path, "/users/") && strings.HasSuffix(path, "/orders"):
		return "handleListOrders"
	}
	return "unknown"
}
