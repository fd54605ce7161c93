package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/socq/internal/answer"
	"github.com/kalambet/socq/internal/auth"
	"github.com/kalambet/socq/internal/config"
	"github.com/kalambet/socq/internal/conversation"
	"github.com/kalambet/socq/internal/storage"
)

// session bundles everything a command needs to talk to the answering
// service.
type session struct {
	cfg        config.Config
	httpClient *http.Client
	tokens     auth.TokenProvider
	answerer   answer.Answerer
	store      *storage.Store // nil when the query log could not be opened
}

// Replaced in tests.
var (
	loadConfig = config.Load
	newSSM     = func(ctx context.Context) (config.ParamGetter, error) {
		return config.NewSSMSourceFromEnv(ctx)
	}
	newSession = openSession
)

// sessionOption adjusts the loaded config before the session is built.
type sessionOption func(*config.Config)

func openSession(ctx context.Context, opts ...sessionOption) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if !configuredLog {
		setupLogging(cfg.Log.Level)
	}

	if strings.TrimSpace(cfg.Auth.SSMParameter) != "" {
		src, err := newSSM(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating SSM client: %w", err)
		}
		if err := config.ApplySSMSecrets(ctx, &cfg, src); err != nil {
			return nil, err
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := buildSession(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		slog.Warn("query log disabled", "error", err)
	} else {
		s.store = store
	}
	return s, nil
}

// buildSession wires the token provider and answerer from cfg. It does no I/O.
func buildSession(cfg config.Config) (*session, error) {
	httpClient := &http.Client{Timeout: cfg.Remote.Timeout}

	var tokens auth.TokenProvider
	switch cfg.Auth.Mode {
	case config.AuthModeStatic:
		tokens = auth.NewStaticProvider(cfg.Auth.Token)
	default:
		tokens = auth.NewSecureTokenProvider(cfg.Auth.TokenEndpoint, cfg.Auth.APIKey, cfg.Auth.RefreshToken, httpClient)
	}

	answerer, err := answer.New(cfg.Remote.Transport, cfg.Remote.BaseURL, httpClient,
		answer.WithMaxAttempts(cfg.Poll.MaxAttempts),
		answer.WithInterval(cfg.Poll.Interval),
	)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     tokens,
		answerer:   answerer,
	}, nil
}

func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// queryLog returns the store as a conversation.QueryLog, or nil without one.
func (s *session) queryLog() conversation.QueryLog {
	if s.store == nil {
		return nil
	}
	return s.store
}

func (s *session) conversation() *conversation.Store {
	return conversation.New(conversation.Deps{
		Tokens:    s.tokens,
		Answerer:  s.answerer,
		Transport: s.cfg.Remote.Transport,
		TopK:      s.cfg.Remote.TopK,
		Log:       s.queryLog(),
		Logger:    slog.Default(),
	})
}

// poller builds a poller against the configured service regardless of the
// configured transport.
func (s *session) poller() *answer.Poller {
	return answer.NewPoller(s.cfg.Remote.BaseURL, s.httpClient,
		answer.WithMaxAttempts(s.cfg.Poll.MaxAttempts),
		answer.WithInterval(s.cfg.Poll.Interval),
	)
}
