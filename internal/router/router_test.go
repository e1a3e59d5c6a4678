package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"sudooom.hrchat/internal/config"
	"sudooom.hrchat/internal/handler"
	"sudooom.hrchat/internal/identity"
	"sudooom.hrchat/internal/service"
	"sudooom.hrchat/internal/store/memory"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.App.Mode = "test"
	cfg.CORS.AllowedOrigins = []string{"https://hr.example.com"}
	return cfg
}

func TestSetupRouter_RoutesAndCORS(t *testing.T) {
	s := memory.New(nil)
	resolver := identity.NewResolver("", "")
	convs := service.NewConversationService(s)
	h := handler.NewConversationHandler(convs, service.NewMessageService(convs, s, s, resolver), resolver)

	pushCalled := false
	push := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushCalled = true
		w.WriteHeader(http.StatusTeapot)
	})

	r := SetupRouter(newTestConfig(t), h, push)

	tests := []struct {
		name       string
		method     string
		path       string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"list conversations", http.MethodGet, "/api/v1/conversations", "https://hr.example.com", http.StatusOK, "https://hr.example.com"},
		{"unknown origin gets no allow header", http.MethodGet, "/api/v1/conversations", "https://evil.example.com", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "/api/v1/messages", "https://hr.example.com", http.StatusNoContent, "https://hr.example.com"},
		{"unknown route", http.MethodGet, "/api/v2/conversations", "", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?client_id=c1", nil))
	assert.True(t, pushCalled)
	assert.Equal(t, http.StatusTeapot, w.Code)
}
