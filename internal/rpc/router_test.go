package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/auth"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/controller"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/event"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/group"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/metrics"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/node"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/screen"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/user"
)

// newTestRouter wires a full Service/Router stack the same way
// cmd/controller/main.go does, minus plugins/TOML loading, for HTTP-level
// tests of the auth interceptor and permission gates.
func newTestRouter(t *testing.T) (*gin.Engine, *auth.Registry) {
	t.Helper()
	log := zerolog.Nop()

	reg := auth.NewRegistry()
	nodes := node.NewManager(log)
	bus := event.NewBus(log)
	screens := screen.NewManager(log, 0)
	srv := server.NewManager(log, server.Deps{
		Nodes: nodes, Tokens: reg, Screens: screens,
		Events: bus, RestartTimeout: time.Second,
	})
	groups := group.NewManager(log, srv, time.Minute)
	users := user.NewManager(log, srv, groups, bus, time.Second)
	srv.SetUserPurger(users)

	queue := controller.NewQueue(8)
	svc := NewService(log, queue, reg, nodes, groups, srv, users, screens, bus)

	ctx, shutdown := context.WithCancel(context.Background())
	router := NewRouter(svc, log, shutdown)

	host := plugin.NewHost(log)
	m := metrics.New(prometheus.NewRegistry())
	ctrl := controller.New(log, queue, controller.Components{
		Plugins: host, Nodes: nodes, Groups: groups, Servers: srv, Users: users,
		Screens: screens, Events: bus,
	}, m, controller.Config{TickRate: time.Millisecond})
	go ctrl.Run(ctx)
	t.Cleanup(shutdown)

	return router.Build(), reg
}

// TestTransferUsersDeniedWithoutPermission grounds scenario 5: a User
// principal lacking transfer-user calling transfer_users gets 403.
func TestTransferUsersDeniedWithoutPermission(t *testing.T) {
	engine, reg := newTestRouter(t)
	reg.AddUser("viewer", "actl_viewer", auth.PermGetGroup|auth.PermGetServer)

	body, _ := json.Marshal(TransferUsersRequest{TargetKind: "fallback"})
	req := httptest.NewRequest(http.MethodPost, "/api/manage/transfer", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer actl_viewer")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestTransferUsersAllowedWithPermission is the positive counterpart: the
// same request with transfer-user granted clears the auth gate and reaches
// the handler -- it gets a 400 because the body carries no user_ids, which
// the request binding requires, but that's a validation response, not a
// permission denial.
func TestTransferUsersAllowedWithPermission(t *testing.T) {
	engine, reg := newTestRouter(t)
	reg.AddUser("operator", "actl_operator", auth.PermTransferUser)

	body, _ := json.Marshal(TransferUsersRequest{TargetKind: "fallback"})
	req := httptest.NewRequest(http.MethodPost, "/api/manage/transfer", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer actl_operator")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	if rec.Code == http.StatusForbidden || rec.Code == http.StatusUnauthorized {
		t.Fatalf("expected the auth gate to pass, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestMissingBearerTokenIsUnauthorized checks the 401 vs 403 split: a
// missing token is a 401, distinct from a resolved-but-underpermissioned
// principal's 403 above.
func TestMissingBearerTokenIsUnauthorized(t *testing.T) {
	engine, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/manage/groups", nil)
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// TestClientBoundaryRejectsUserPrincipal grounds the requireServerPrincipal
// gate: an operator (User) token can't call the Client RPC surface.
func TestClientBoundaryRejectsUserPrincipal(t *testing.T) {
	engine, reg := newTestRouter(t)
	reg.AddUser("operator", "actl_operator", auth.PermAll)

	req := httptest.NewRequest(http.MethodPost, "/api/client/heartbeat", nil)
	req.Header.Set("Authorization", "Bearer actl_operator")
	rec := httptest.NewRecorder()

	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
