package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nexloop/wabridge/bridge"
	"github.com/nexloop/wabridge/bridge/domain"
	domainInstance "github.com/nexloop/wabridge/domains/instance"
	domainMessage "github.com/nexloop/wabridge/domains/message"
	"github.com/nexloop/wabridge/integrations/ghl"
	pkgError "github.com/nexloop/wabridge/pkg/error"
	"github.com/nexloop/wabridge/repository"
)

// scriptedAdapter is a minimal in-memory stand-in for the WhatsApp client.
type scriptedAdapter struct {
	mu     sync.Mutex
	events chan domain.ClientEvent
	sent   []string
	phone  string
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{events: make(chan domain.ClientEvent, 16), phone: "5511999990000"}
}

func (a *scriptedAdapter) Connect(ctx context.Context) error { return nil }
func (a *scriptedAdapter) Disconnect()                       {}
func (a *scriptedAdapter) Logout(ctx context.Context) error {
	a.events <- domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusLoggedOut}
	return nil
}
func (a *scriptedAdapter) SendText(ctx context.Context, to, body string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, to+"|"+body)
	return "REF1", nil
}
func (a *scriptedAdapter) Events() <-chan domain.ClientEvent { return a.events }
func (a *scriptedAdapter) IsLoggedIn() bool                  { return false }
func (a *scriptedAdapter) PhoneNumber() string               { return a.phone }

type testEnv struct {
	repo     *repository.InstanceGormRepository
	registry *bridge.Registry
	relay    *bridge.Relay
	ghl      *ghl.Client
	adapter  *scriptedAdapter
	service  domainInstance.IInstanceUsecase
	storage  string
}

func newTestEnv(t *testing.T, apiBase string) *testEnv {
	t.Helper()
	storage := t.TempDir()

	db, err := gorm.Open(
		sqlite.Open("file:"+filepath.Join(storage, "instances.db")+"?_foreign_keys=on"),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)
	repo := repository.NewInstanceGormRepository(db)
	require.NoError(t, repo.InitSchema(context.Background()))

	adapter := newScriptedAdapter()
	hub := bridge.NewHub()
	registry := bridge.NewRegistry(hub, repo, func(instanceID string) (domain.ClientAdapter, error) {
		return adapter, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	registry.Run(ctx)
	t.Cleanup(registry.StopAll)

	ghlClient := ghl.NewClient(ghl.Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "https://bridge.test/oauth/callback",
		APIBase:      apiBase,
	})
	relay := bridge.NewRelay(registry, ghl.NewForwarder(ghlClient, repo))

	return &testEnv{
		repo:     repo,
		registry: registry,
		relay:    relay,
		ghl:      ghlClient,
		adapter:  adapter,
		service:  NewInstanceService(repo, registry, ghlClient, storage),
		storage:  storage,
	}
}

func authenticate(t *testing.T, env *testEnv, instanceID string) {
	t.Helper()
	session, err := env.registry.Get(instanceID)
	require.NoError(t, err)
	env.adapter.events <- domain.ClientEvent{Type: domain.EventStatus, Status: domain.ClientStatusConnected}
	require.Eventually(t, func() bool { return session.State() == domain.StateAuthenticated },
		2*time.Second, 5*time.Millisecond)
}

func TestProvisionReturnsAuthURL(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := env.service.Provision(context.Background(), domainInstance.CreateInstanceRequest{Name: "Sales Desk"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Instance.ID)
	assert.Contains(t, resp.AuthURL, "state="+resp.Instance.ID)
	assert.Contains(t, resp.AuthURL, "client_id=client-1")

	_, err = env.service.Provision(context.Background(), domainInstance.CreateInstanceRequest{})
	assert.ErrorAs(t, err, new(pkgError.ValidationError))
}

func TestCompleteOAuthPersistsInstallAndStartsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "at-1",
				"refresh_token": "rt-1",
				"locationId":    "loc-1",
			})
		case "/conversations/providers":
			assert.Equal(t, "loc-1", r.URL.Query().Get("locationId"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"conversationProviders": []map[string]string{{"_id": "prov-1"}},
			})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL)
		}
	}))
	t.Cleanup(server.Close)
	env := newTestEnv(t, server.URL)

	resp, err := env.service.Provision(context.Background(), domainInstance.CreateInstanceRequest{Name: "desk"})
	require.NoError(t, err)

	inst, err := env.service.CompleteOAuth(context.Background(), resp.Instance.ID, "auth-code", "")
	require.NoError(t, err)
	assert.True(t, inst.Installed())
	assert.Equal(t, "loc-1", inst.LocationID)
	assert.Equal(t, "prov-1", inst.ConversationProviderID)

	_, err = env.registry.Get(inst.ID)
	assert.NoError(t, err, "session must start after install")

	byLoc, err := env.service.ResolveByLocation(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, byLoc.ID)
}

func TestCompleteOAuthUnknownInstance(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.service.CompleteOAuth(context.Background(), "ghost", "code", "")
	assert.ErrorAs(t, err, new(pkgError.NotFoundError))
}

func TestDetailHidesStaleQR(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	resp, err := env.service.Provision(ctx, domainInstance.CreateInstanceRequest{Name: "qr"})
	require.NoError(t, err)
	id := resp.Instance.ID

	require.NoError(t, env.repo.SaveQR(ctx, id, "fresh-qr", time.Now()))
	detail, err := env.service.Detail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fresh-qr", detail.QRCode)

	require.NoError(t, env.repo.SaveQR(ctx, id, "stale-qr", time.Now().Add(-10*time.Minute)))
	detail, err = env.service.Detail(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, detail.QRCode)
	assert.Nil(t, detail.QRCodeUpdatedAt)
}

func TestConnectDisconnectLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	resp, err := env.service.Provision(ctx, domainInstance.CreateInstanceRequest{Name: "life"})
	require.NoError(t, err)
	id := resp.Instance.ID

	require.NoError(t, env.service.Connect(ctx, id))
	err = env.service.Connect(ctx, id)
	assert.ErrorAs(t, err, new(pkgError.AlreadyRunningError))

	detail, err := env.service.Detail(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, detail.Session)

	require.NoError(t, env.service.Disconnect(ctx, id))
	err = env.service.Disconnect(ctx, id)
	assert.ErrorAs(t, err, new(pkgError.NotFoundError))
}

func TestDeleteStopsSessionAndRemovesRecord(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	resp, err := env.service.Provision(ctx, domainInstance.CreateInstanceRequest{Name: "gone"})
	require.NoError(t, err)
	id := resp.Instance.ID
	require.NoError(t, env.service.Connect(ctx, id))

	require.NoError(t, env.service.Delete(ctx, id))

	_, err = env.service.Detail(ctx, id)
	assert.ErrorAs(t, err, new(pkgError.NotFoundError))
	_, err = env.registry.Get(id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartInstalledResumesPairedInstances(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	paired, err := env.service.Provision(ctx, domainInstance.CreateInstanceRequest{Name: "paired"})
	require.NoError(t, err)
	require.NoError(t, env.repo.SaveInstall(ctx, paired.Instance.ID, "at-1", "rt-1", "loc-1", "", ""))
	require.NoError(t, env.repo.SetPhoneNumber(ctx, paired.Instance.ID, "5511999990000"))

	unpaired, err := env.service.Provision(ctx, domainInstance.CreateInstanceRequest{Name: "unpaired"})
	require.NoError(t, err)

	require.NoError(t, env.service.StartInstalled(ctx))

	_, err = env.registry.Get(paired.Instance.ID)
	assert.NoError(t, err, "paired instance must resume")
	_, err = env.registry.Get(unpaired.Instance.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "unpaired instance must stay stopped")
}

func TestSendFromCRM(t *testing.T) {
	var statusUpdates []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			statusUpdates = append(statusUpdates, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	t.Cleanup(server.Close)
	env := newTestEnv(t, server.URL)
	ctx := context.Background()

	resp, err := env.service.Provision(ctx, domainInstance.CreateInstanceRequest{Name: "crm"})
	require.NoError(t, err)
	id := resp.Instance.ID
	require.NoError(t, env.repo.SaveInstall(ctx, id, "at-1", "rt-1", "loc-1", "", ""))
	require.NoError(t, env.service.Connect(ctx, id))
	authenticate(t, env, id)

	messages := NewMessageService(env.repo, env.relay, env.ghl)
	out, err := messages.SendFromCRM(ctx, domainMessageRequest("loc-1", "+5511888887777", "hello", "ghl-msg-1"))
	require.NoError(t, err)
	assert.Equal(t, "REF1", out.MessageRef)
	assert.Equal(t, "delivered", out.Status)
	assert.Equal(t, []string{"/conversations/messages/ghl-msg-1/status"}, statusUpdates)

	env.adapter.mu.Lock()
	assert.Equal(t, []string{"5511888887777@s.whatsapp.net|hello"}, env.adapter.sent)
	env.adapter.mu.Unlock()
}

func domainMessageRequest(locationID, phone, message, messageID string) domainMessage.OutboundRequest {
	return domainMessage.OutboundRequest{
		LocationID: locationID,
		Phone:      phone,
		Message:    message,
		MessageID:  messageID,
	}
}

func TestSendFromCRMUnknownLocation(t *testing.T) {
	env := newTestEnv(t, "")
	messages := NewMessageService(env.repo, env.relay, env.ghl)

	_, err := messages.SendFromCRM(context.Background(), domainMessageRequest("loc-missing", "+5511888887777", "hi", ""))
	assert.ErrorAs(t, err, new(pkgError.NotFoundError))
}
