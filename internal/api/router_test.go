package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/portainer"
	"github.com/blockgate/hosting/internal/ports"
	"github.com/blockgate/hosting/internal/service"
	"github.com/blockgate/hosting/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memUserStore struct {
	mu     sync.Mutex
	nextID int
	rows   map[string]*models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{rows: map[string]*models.User{}}
}

func (s *memUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.NormalizeEmail(user.Email)
	if _, ok := s.rows[key]; ok {
		return models.ErrEmailAlreadyExists
	}
	if user.ID == "" {
		s.nextID++
		user.ID = fmt.Sprintf("u-%d", s.nextID)
	}
	clone := *user
	s.rows[key] = &clone
	return nil
}

func (s *memUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.rows[models.NormalizeEmail(email)]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *memUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.rows {
		if user.ID == id {
			clone := *user
			return &clone, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (s *memUserStore) UpdateReservations(ctx context.Context, userID string, reserved []int, ranges []models.PortRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.rows {
		if user.ID == userID {
			user.ReservedPorts = reserved
			user.ReservedPortRanges = ranges
			return nil
		}
	}
	return models.ErrUserNotFound
}

type memServerStore struct {
	mu   sync.Mutex
	rows map[string]*models.Server
}

func newMemServerStore() *memServerStore {
	return &memServerStore{rows: map[string]*models.Server{}}
}

func (s *memServerStore) Create(ctx context.Context, server *models.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *server
	s.rows[server.UniqueID] = &clone
	return nil
}

func (s *memServerStore) FindByUniqueID(ctx context.Context, uniqueID string) (*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	server, ok := s.rows[uniqueID]
	if !ok {
		return nil, models.ErrServerNotFound
	}
	clone := *server
	return &clone, nil
}

func (s *memServerStore) FindBySubdomain(ctx context.Context, subdomain string) (*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, server := range s.rows {
		if server.SubdomainName == subdomain {
			clone := *server
			return &clone, nil
		}
	}
	return nil, models.ErrServerNotFound
}

func (s *memServerStore) FindByEmail(ctx context.Context, email string) ([]models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Server
	for _, server := range s.rows {
		if server.Email == email {
			out = append(out, *server)
		}
	}
	return out, nil
}

func (s *memServerStore) CountByEmail(ctx context.Context, email string) (int, error) {
	servers, _ := s.FindByEmail(ctx, email)
	return len(servers), nil
}

func (s *memServerStore) ListAll(ctx context.Context) ([]models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Server
	for _, server := range s.rows {
		out = append(out, *server)
	}
	return out, nil
}

func (s *memServerStore) ListTransient(ctx context.Context) ([]models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Server
	for _, server := range s.rows {
		if server.Status.Transient() {
			out = append(out, *server)
		}
	}
	return out, nil
}

func (s *memServerStore) Update(ctx context.Context, server *models.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[server.UniqueID]; !ok {
		return models.ErrServerNotFound
	}
	clone := *server
	s.rows[server.UniqueID] = &clone
	return nil
}

func (s *memServerStore) UpdateStatus(ctx context.Context, uniqueID string, status models.ServerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	server, ok := s.rows[uniqueID]
	if !ok {
		return models.ErrServerNotFound
	}
	server.Status = status
	return nil
}

func (s *memServerStore) Delete(ctx context.Context, uniqueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, uniqueID)
	return nil
}

type stubProber struct {
	alloc *ports.Allocation
}

func (p *stubProber) CheckAvailability(ctx context.Context, userEmail string, needsRcon bool, environmentID int) (*ports.Allocation, error) {
	return p.alloc, nil
}

func (p *stubProber) AuthorizeReservation(ctx context.Context, user *models.User, start, end int) error {
	return nil
}

type stubRunner struct {
	execs  [][]string
	result *portainer.ExecResult
}

func (r *stubRunner) GetContainer(ctx context.Context, identifier string, environmentID int) (*portainer.Container, error) {
	return &portainer.Container{ID: "c-" + identifier, Names: []string{"/" + identifier}, State: "running"}, nil
}

func (r *stubRunner) Exec(ctx context.Context, containerID string, cmd []string, environmentID int) (*portainer.ExecResult, error) {
	r.execs = append(r.execs, cmd)
	return r.result, nil
}

type fakeFleetReconciler struct {
	reconciles int
	err        error
	health     []models.ProxyHealth
}

func (f *fakeFleetReconciler) Reconcile(ctx context.Context) error {
	f.reconciles++
	return f.err
}

func (f *fakeFleetReconciler) Health() []models.ProxyHealth {
	return f.health
}

type testAPI struct {
	router     *gin.Engine
	auth       *service.AuthService
	users      *memUserStore
	servers    *memServerStore
	runner     *stubRunner
	reconciler *fakeFleetReconciler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{
		Debug:          true,
		JWTSecret:      "api-test-signing-key",
		PortainerEnvID: 1,
		RootDomain:     "blockgate.dev",
	}
	users := newMemUserStore()
	servers := newMemServerStore()
	runner := &stubRunner{result: &portainer.ExecResult{ExitCode: 0, Stdout: "ok\n"}}
	reconciler := &fakeFleetReconciler{health: []models.ProxyHealth{{
		ID:          "velocity-1",
		Name:        "velocity-1",
		Type:        models.ProxyTypeVelocity,
		Status:      "running",
		LastChecked: time.Now(),
	}}}

	authSvc := service.NewAuthService(users, cfg)
	serverSvc := service.NewServerService(servers, users, nil, nil, nil, nil, cfg)
	portSvc := service.NewPortService(&stubProber{alloc: &ports.Allocation{Port: 25566, RconPort: 35566}}, users, cfg)
	consoleSvc := service.NewConsoleService(servers, users, runner, nil, cfg)

	router := SetupRouter(
		NewAuthHandler(authSvc),
		NewServerHandler(serverSvc),
		NewPortHandler(portSvc),
		NewConsoleHandler(consoleSvc),
		NewAdminHandler(reconciler),
		NewHealthHandler(),
		authSvc,
		cfg,
	)

	return &testAPI{
		router:     router,
		auth:       authSvc,
		users:      users,
		servers:    servers,
		runner:     runner,
		reconciler: reconciler,
	}
}

func (a *testAPI) seedUser(t *testing.T, email string, admin bool) (*models.User, string) {
	t.Helper()
	user := &models.User{
		Email:      models.NormalizeEmail(email),
		IsAdmin:    admin,
		MaxServers: models.DefaultMaxServers,
	}
	require.NoError(t, user.SetPassword("correct-horse-battery"))
	require.NoError(t, a.users.Create(context.Background(), user))

	token, err := a.auth.GenerateToken(user)
	require.NoError(t, err)
	return user, token
}

func (a *testAPI) seedServer(t *testing.T, uniqueID, name, subdomain, email string, status models.ServerStatus) *models.Server {
	t.Helper()
	server := &models.Server{
		UniqueID:      uniqueID,
		Email:         email,
		ServerName:    name,
		SubdomainName: subdomain,
		Status:        status,
		IsOnline:      status == models.StatusOnline,
		ServerConfig: models.ServerConfig{
			ServerType: "PAPER",
			Version:    "1.21.4",
			Port:       25600,
			RconPort:   35600,
			MemoryMB:   2048,
		},
	}
	require.NoError(t, a.servers.Create(context.Background(), server))
	return server
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch v := body.(type) {
		case string:
			reader = strings.NewReader(v)
		default:
			buf, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(buf)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), "body: %s", w.Body.String())
}

func TestRegisterThenLogin(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// The same address cannot be claimed twice.
	w = a.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	var conflict struct {
		Code string `json:"code"`
	}
	decode(t, w, &conflict)
	assert.Equal(t, "EMAIL_TAKEN", conflict.Code)

	w = a.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token string `json:"token"`
	}
	decode(t, w, &login)
	assert.NotEmpty(t, login.Token)

	w = a.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidatesPayload(t *testing.T) {
	a := newTestAPI(t)

	for name, body := range map[string]gin.H{
		"missing email":  {"password": "hunter2hunter2"},
		"bad email":      {"email": "not-an-email", "password": "hunter2hunter2"},
		"short password": {"email": "alice@example.com", "password": "short"},
	} {
		w := a.do(t, http.MethodPost, "/auth/register", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestRoutesRequireAuthentication(t *testing.T) {
	a := newTestAPI(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/server/list"},
		{http.MethodGet, "/server/check-availability"},
		{http.MethodPost, "/server/create"},
		{http.MethodPost, "/server/abcd1234/start"},
		{http.MethodPost, "/admin/reconcile"},
	} {
		w := a.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}
}

func TestAdminRoutesRequireAdminClaim(t *testing.T) {
	a := newTestAPI(t)
	_, userToken := a.seedUser(t, "alice@example.com", false)
	_, adminToken := a.seedUser(t, "root@blockgate.dev", true)

	w := a.do(t, http.MethodPost, "/admin/reconcile", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, a.reconciler.reconciles)

	w = a.do(t, http.MethodPost, "/admin/reconcile", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, a.reconciler.reconciles)
}

func TestProxyHealthEndpoint(t *testing.T) {
	a := newTestAPI(t)
	_, adminToken := a.seedUser(t, "root@blockgate.dev", true)

	w := a.do(t, http.MethodGet, "/admin/proxies/health", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Proxies []models.ProxyHealth `json:"proxies"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Proxies, 1)
	assert.Equal(t, "velocity-1", resp.Proxies[0].Name)
	assert.Equal(t, models.ProxyTypeVelocity, resp.Proxies[0].Type)
}

func TestCreateAndDeleteRejectMalformedPayloads(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.seedUser(t, "alice@example.com", false)

	w := a.do(t, http.MethodPost, "/server/create", token, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// unique-id is required.
	w = a.do(t, http.MethodPost, "/server/delete", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetServerMapsDomainErrors(t *testing.T) {
	a := newTestAPI(t)
	_, aliceToken := a.seedUser(t, "alice@example.com", false)
	_, bobToken := a.seedUser(t, "bob@example.com", false)
	a.seedServer(t, "aaaa1111", "survival", "survival", "alice@example.com", models.StatusReady)

	w := a.do(t, http.MethodGet, "/server/zzzz9999", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp struct {
		Code string `json:"code"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "NOT_FOUND", resp.Code)

	// Another user's server reads as forbidden, not missing.
	w = a.do(t, http.MethodGet, "/server/aaaa1111", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/server/aaaa1111", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var server models.Server
	decode(t, w, &server)
	assert.Equal(t, "survival", server.ServerName)
}

func TestListServersReturnsEmptyArrayNotNull(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.seedUser(t, "alice@example.com", false)

	w := a.do(t, http.MethodGet, "/server/list", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"servers":[]`)

	a.seedServer(t, "aaaa1111", "survival", "survival", "alice@example.com", models.StatusReady)
	a.seedServer(t, "bbbb2222", "creative", "creative", "alice@example.com", models.StatusOnline)
	a.seedServer(t, "cccc3333", "other", "other", "bob@example.com", models.StatusReady)

	w = a.do(t, http.MethodGet, "/server/list", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Servers []models.Server `json:"servers"`
	}
	decode(t, w, &resp)
	assert.Len(t, resp.Servers, 2)
}

func TestStartServerConflictIsMapped(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.seedUser(t, "alice@example.com", false)
	a.seedServer(t, "aaaa1111", "survival", "survival", "alice@example.com", models.StatusOnline)

	w := a.do(t, http.MethodPost, "/server/aaaa1111/start", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var resp struct {
		Code string `json:"code"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "CONFLICT", resp.Code)
}

func TestCheckAvailability(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.seedUser(t, "alice@example.com", false)

	w := a.do(t, http.MethodGet, "/server/check-availability?rcon=true", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Available     bool  `json:"available"`
		Port          int   `json:"port"`
		RconPort      int   `json:"rcon-port"`
		ReservedPorts []int `json:"reserved-ports"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Available)
	assert.Equal(t, 25566, resp.Port)
	assert.Equal(t, 35566, resp.RconPort)
	assert.NotNil(t, resp.ReservedPorts)
}

func TestCheckSubdomain(t *testing.T) {
	a := newTestAPI(t)
	_, token := a.seedUser(t, "alice@example.com", false)

	w := a.do(t, http.MethodPost, "/server/check-subdomain", token, gin.H{"subdomain": "Not_Valid!"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		IsValid bool `json:"is-valid"`
		CanUse  bool `json:"can-use"`
	}
	decode(t, w, &resp)
	assert.False(t, resp.IsValid)
	assert.False(t, resp.CanUse)

	w = a.do(t, http.MethodPost, "/server/check-subdomain", token, gin.H{"subdomain": "survival"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.True(t, resp.IsValid)
	assert.True(t, resp.CanUse)

	w = a.do(t, http.MethodPost, "/server/check-subdomain", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsoleCommandRoundTrip(t *testing.T) {
	a := newTestAPI(t)
	_, aliceToken := a.seedUser(t, "alice@example.com", false)
	_, bobToken := a.seedUser(t, "bob@example.com", false)
	a.seedServer(t, "aaaa1111", "survival", "survival", "alice@example.com", models.StatusOnline)

	w := a.do(t, http.MethodPost, "/server/aaaa1111/command", aliceToken, gin.H{"command": "list"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Response string `json:"response"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "ok", resp.Response)
	require.Len(t, a.runner.execs, 1)
	assert.Equal(t, []string{"rcon-cli", "list"}, a.runner.execs[0])

	w = a.do(t, http.MethodPost, "/server/aaaa1111/command", bobToken, gin.H{"command": "op bob"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, a.runner.execs, 1)
}

func TestReservePorts(t *testing.T) {
	a := newTestAPI(t)
	_, userToken := a.seedUser(t, "alice@example.com", false)
	_, adminToken := a.seedUser(t, "root@blockgate.dev", true)

	w := a.do(t, http.MethodPost, "/admin/ports/reserve", userToken, gin.H{"start": 30000, "end": 30010})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/admin/ports/reserve", adminToken, gin.H{
		"email": "alice@example.com",
		"start": 30000,
		"end":   30010,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Email  string             `json:"email"`
		Ranges []models.PortRange `json:"reserved-port-ranges"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "alice@example.com", resp.Email)
	require.Len(t, resp.Ranges, 1)
	assert.Equal(t, 30000, resp.Ranges[0].Start)
	assert.Equal(t, 30010, resp.Ranges[0].End)
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = a.do(t, http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessReportsFailingProbe(t *testing.T) {
	healthy := NewHealthHandler(
		Probe{Name: "mongodb", Check: func(ctx context.Context) error { return nil }},
		Probe{Name: "portainer", Check: func(ctx context.Context) error { return nil }},
	)
	broken := NewHealthHandler(
		Probe{Name: "mongodb", Check: func(ctx context.Context) error { return nil }},
		Probe{Name: "portainer", Check: func(ctx context.Context) error { return fmt.Errorf("connection refused") }},
	)

	router := gin.New()
	router.GET("/ready", healthy.ReadinessCheck)
	router.GET("/ready-broken", broken.ReadinessCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready-broken", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "portainer_unavailable")
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodOptions, "/server/list", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsExposed(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}
