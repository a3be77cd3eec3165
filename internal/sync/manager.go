package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/auth"
	natsjs "github.com/Martian-dev/mailsync/internal/nats"
)

// InboxConfig config for user inbox sync
type InboxConfig struct {
	UserID   string
	InboxID  string
	Provider ProviderName
	UserJWT  string // JWT to fetch provider tokens from the auth server
}

// AdapterFactory creates a ProviderAdapter for a user's OAuth token.
type AdapterFactory func(ctx context.Context, token *auth.Token, userID string, provider ProviderName) (ProviderAdapter, error)

// Manager manages multi-user sync workers. Each worker owns its checkpoint
// and pagination state exclusively; the only shared state is the runner
// registry itself.
type Manager struct {
	dataRoot       string
	authClient     *auth.TokenClient
	publisher      *natsjs.Publisher
	adapterFactory AdapterFactory
	pollInterval   time.Duration
	maxResults     int
	batchSize      int
	log            *logrus.Logger
	runners        map[string]context.CancelFunc
	runnersMutex   sync.RWMutex
}

// NewManager creates sync manager
func NewManager(dataRoot string, authClient *auth.TokenClient, publisher *natsjs.Publisher, factory AdapterFactory, pollInterval time.Duration, maxResults, batchSize int, log *logrus.Logger) *Manager {
	return &Manager{
		dataRoot:       dataRoot,
		authClient:     authClient,
		publisher:      publisher,
		adapterFactory: factory,
		pollInterval:   pollInterval,
		maxResults:     maxResults,
		batchSize:      batchSize,
		log:            log,
		runners:        make(map[string]context.CancelFunc),
	}
}

// StartSync starts syncing for user inbox
func (m *Manager) StartSync(ctx context.Context, config InboxConfig) error {
	key := fmt.Sprintf("%s:%s:%s", config.UserID, config.InboxID, config.Provider)

	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if _, exists := m.runners[key]; exists {
		return fmt.Errorf("sync already running")
	}

	var authProvider auth.Provider
	switch config.Provider {
	case ProviderGoogle:
		authProvider = auth.ProviderGoogle
	case ProviderMicrosoft:
		authProvider = auth.ProviderMicrosoft
	default:
		return fmt.Errorf("unsupported provider")
	}

	token, err := m.authClient.ProviderToken(ctx, config.UserJWT, authProvider)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	adapter, err := m.adapterFactory(ctx, token, config.UserID, config.Provider)
	if err != nil {
		return fmt.Errorf("create provider adapter: %w", err)
	}

	runner := &Runner{
		DataRoot:     m.dataRoot,
		Publisher:    m.publisher,
		Adapter:      adapter,
		Provider:     config.Provider,
		PollInterval: m.pollInterval,
		MaxResults:   m.maxResults,
		BatchSize:    m.batchSize,
		Log: m.log.WithFields(logrus.Fields{
			"user":     config.UserID,
			"inbox":    config.InboxID,
			"provider": config.Provider,
		}),
	}

	runnerCtx, cancel := context.WithCancel(ctx)
	m.runners[key] = cancel

	go func() {
		m.log.Infof("sync start: %s", key)
		if err := runner.RunInbox(runnerCtx, config.UserID, config.InboxID); err != nil {
			m.log.Errorf("sync error %s: %v", key, err)
		}

		m.runnersMutex.Lock()
		delete(m.runners, key)
		m.runnersMutex.Unlock()
		m.log.Infof("sync stop: %s", key)
	}()

	return nil
}

// StopSync stops syncing for a user inbox
func (m *Manager) StopSync(userID, inboxID string, provider ProviderName) error {
	key := fmt.Sprintf("%s:%s:%s", userID, inboxID, provider)

	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	cancel, exists := m.runners[key]
	if !exists {
		return fmt.Errorf("no sync running for %s", key)
	}

	cancel()
	delete(m.runners, key)
	return nil
}

// IsRunning checks if sync is running for a user inbox
func (m *Manager) IsRunning(userID, inboxID string, provider ProviderName) bool {
	key := fmt.Sprintf("%s:%s:%s", userID, inboxID, provider)

	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	_, exists := m.runners[key]
	return exists
}

// StopAll stops all running syncs
func (m *Manager) StopAll() {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	for key, cancel := range m.runners {
		m.log.Infof("stopping sync for %s", key)
		cancel()
	}

	m.runners = make(map[string]context.CancelFunc)
}

// GetRunningSyncs returns list of currently running syncs
func (m *Manager) GetRunningSyncs() []string {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	var syncs []string
	for key := range m.runners {
		syncs = append(syncs, key)
	}
	return syncs
}
