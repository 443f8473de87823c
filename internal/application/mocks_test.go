package application_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/canvasflow/authvault/internal/domain/model"
)

// --- Mock implementations shared by the application service tests ---

type mockCatalog struct {
	services map[string]*model.ServiceDescriptor
}

func newMockCatalog(descs ...*model.ServiceDescriptor) *mockCatalog {
	m := &mockCatalog{services: make(map[string]*model.ServiceDescriptor)}
	for _, d := range descs {
		m.services[d.Name] = d
	}
	return m
}

func (m *mockCatalog) Get(name string) (*model.ServiceDescriptor, error) {
	desc, ok := m.services[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownService, name)
	}
	return desc, nil
}

func (m *mockCatalog) List() []model.ServiceDescriptor {
	out := make([]model.ServiceDescriptor, 0, len(m.services))
	for _, d := range m.services {
		out = append(out, *d)
	}
	return out
}

type mockExchanger struct {
	mu            sync.Mutex
	exchangeFn    func(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, code string) (*model.OAuthTokenSet, error)
	refreshFn     func(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, refreshToken string) (*model.OAuthTokenSet, error)
	exchangeCalls int
	refreshCalls  []string
}

func (m *mockExchanger) ExchangeCode(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, code string) (*model.OAuthTokenSet, error) {
	m.mu.Lock()
	m.exchangeCalls++
	m.mu.Unlock()

	if m.exchangeFn == nil {
		return &model.OAuthTokenSet{AccessToken: "default-token"}, nil
	}
	return m.exchangeFn(ctx, desc, creds, code)
}

func (m *mockExchanger) RefreshToken(ctx context.Context, desc *model.ServiceDescriptor, creds model.OAuthClientCreds, refreshToken string) (*model.OAuthTokenSet, error) {
	m.mu.Lock()
	m.refreshCalls = append(m.refreshCalls, refreshToken)
	m.mu.Unlock()

	if m.refreshFn == nil {
		return &model.OAuthTokenSet{AccessToken: "refreshed-token"}, nil
	}
	return m.refreshFn(ctx, desc, creds, refreshToken)
}

func (m *mockExchanger) refreshed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshCalls...)
}

type checkCall struct {
	service string
	payload map[string]any
}

type mockChecker struct {
	mu     sync.Mutex
	result model.ValidationResult
	calls  []checkCall
}

func (m *mockChecker) Check(_ context.Context, desc *model.ServiceDescriptor, payload map[string]any) model.ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, checkCall{service: desc.Name, payload: payload})
	return m.result
}

type engineCreateCall struct {
	name       string
	engineType string
	data       map[string]any
}

type mockEngineClient struct {
	mu        sync.Mutex
	nextID    int
	created   []engineCreateCall
	deleted   []string
	createErr error
	deleteErr error
}

func (m *mockEngineClient) CreateCredential(_ context.Context, name, engineType string, data map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return "", m.createErr
	}

	m.nextID++
	m.created = append(m.created, engineCreateCall{name: name, engineType: engineType, data: data})
	return fmt.Sprintf("engine-%d", m.nextID), nil
}

func (m *mockEngineClient) DeleteCredential(_ context.Context, engineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.deleted = append(m.deleted, engineID)
	return nil
}

// mockCredentialStore is a stateful in-memory stand-in for the sqlite
// repository. It records mutations so tests can assert on them.
type mockCredentialStore struct {
	mu           sync.Mutex
	order        []string
	creds        map[string]*model.Credential
	payloads     map[string]map[string]any
	decryptErr   map[string]error
	updates      map[string]map[string]any
	validMarks   []string
	invalidMarks map[string]string
	deleted      []string
	nextID       int
	listErr      error
	listCalls    int
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{
		creds:        make(map[string]*model.Credential),
		payloads:     make(map[string]map[string]any),
		decryptErr:   make(map[string]error),
		updates:      make(map[string]map[string]any),
		invalidMarks: make(map[string]string),
	}
}

// add seeds a credential directly, bypassing Create.
func (m *mockCredentialStore) add(cred model.Credential, payload map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := cred
	m.creds[c.ID] = &c
	m.payloads[c.ID] = payload
	m.order = append(m.order, c.ID)
}

func (m *mockCredentialStore) Create(_ context.Context, ownerID, service string, kind model.AuthKind, name string, payload map[string]any) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now()
	cred := &model.Credential{
		ID:        fmt.Sprintf("cred-%d", m.nextID),
		OwnerID:   ownerID,
		Service:   service,
		Type:      kind,
		Name:      name,
		Valid:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.creds[cred.ID] = cred
	m.payloads[cred.ID] = payload
	m.order = append(m.order, cred.ID)

	out := *cred
	return &out, nil
}

func (m *mockCredentialStore) Get(_ context.Context, id string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *cred
	return &out, nil
}

func (m *mockCredentialStore) GetDecrypted(_ context.Context, id string) (*model.DecryptedCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.decryptErr[id]; ok {
		return nil, err
	}

	cred, ok := m.creds[id]
	if !ok {
		return nil, model.ErrNotFound
	}

	return &model.DecryptedCredential{Credential: *cred, Payload: m.payloads[id]}, nil
}

func (m *mockCredentialStore) ListByOwner(_ context.Context, ownerID string, validOnly bool) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Credential
	for i := len(m.order) - 1; i >= 0; i-- {
		cred := m.creds[m.order[i]]
		if cred == nil || cred.OwnerID != ownerID {
			continue
		}
		if validOnly && !cred.Valid {
			continue
		}
		out = append(out, *cred)
	}
	return out, nil
}

func (m *mockCredentialStore) ListByKind(_ context.Context, kind model.AuthKind) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []model.Credential
	for i := len(m.order) - 1; i >= 0; i-- {
		cred := m.creds[m.order[i]]
		if cred == nil || cred.Type != kind {
			continue
		}
		out = append(out, *cred)
	}
	return out, nil
}

func (m *mockCredentialStore) FindByOwnerAndService(_ context.Context, ownerID, service string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		cred := m.creds[m.order[i]]
		if cred != nil && cred.OwnerID == ownerID && cred.Service == service {
			out := *cred
			return &out, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *mockCredentialStore) FindByOwnerServiceAndType(_ context.Context, ownerID, service string, kind model.AuthKind) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		cred := m.creds[m.order[i]]
		if cred != nil && cred.OwnerID == ownerID && cred.Service == service && cred.Type == kind {
			out := *cred
			return &out, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *mockCredentialStore) UpdatePayload(_ context.Context, id string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[id]
	if !ok {
		return model.ErrNotFound
	}
	cred.UpdatedAt = time.Now()
	m.payloads[id] = payload
	m.updates[id] = payload
	return nil
}

func (m *mockCredentialStore) MarkValid(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[id]
	if !ok {
		return model.ErrNotFound
	}
	now := time.Now()
	cred.Valid = true
	cred.LastError = ""
	cred.LastValidatedAt = &now
	m.validMarks = append(m.validMarks, id)
	return nil
}

func (m *mockCredentialStore) MarkInvalid(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[id]
	if !ok {
		return model.ErrNotFound
	}
	now := time.Now()
	cred.Valid = false
	cred.LastError = reason
	cred.LastValidatedAt = &now
	m.invalidMarks[id] = reason
	return nil
}

func (m *mockCredentialStore) SetEngineCredentialID(_ context.Context, id, engineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[id]
	if !ok {
		return model.ErrNotFound
	}
	now := time.Now()
	cred.EngineCredentialID = engineID
	cred.LastUsedAt = &now
	return nil
}

func (m *mockCredentialStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.creds[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.creds, id)
	delete(m.payloads, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockCredentialStore) get(id string) *model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[id]
	if !ok {
		return nil
	}
	out := *cred
	return &out
}

func (m *mockCredentialStore) payload(id string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payloads[id]
}
