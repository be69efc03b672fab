package main

import (
	"context"
	"fmt"
	"io"

	"catcare.com/client/apiclient"
	"catcare.com/client/auth"
	"catcare.com/client/cats"
	"catcare.com/client/chat"
	"catcare.com/client/checkpoint"
	"catcare.com/client/diagnosis"
	"catcare.com/client/logger"
	"catcare.com/client/notify"
	"catcare.com/client/poller"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Email         string `envconfig:"CATCARE_EMAIL"`
	Password      string `envconfig:"CATCARE_PASSWORD"`
	Checkpoints   string `envconfig:"CATCARE_CHECKPOINTS" default:"memory"`
	NotifyEnabled bool   `envconfig:"CATCARE_NOTIFY_ENABLED" default:"false"`
}

// app is everything a command needs, built once the flags are parsed.
type app struct {
	out         io.Writer
	api         *apiclient.Client
	auth        *auth.Client
	diagnosis   *diagnosis.Client
	chat        *chat.Client
	cats        *cats.Client
	pollConfig  poller.Config
	checkpoints poller.Checkpoints
	publisher   *notify.Publisher
	cliLogger   zerolog.Logger
}

type globalFlags struct {
	baseURL  string
	email    string
	password string
}

func newApp(ctx context.Context, out io.Writer, flags globalFlags) (*app, error) {
	cliLogger := logger.NewLogger("CLI")
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if flags.email == "" {
		flags.email = config.Email
	}
	if flags.password == "" {
		flags.password = config.Password
	}

	apiConfig := apiclient.Config{}
	if err := envconfig.Process("", &apiConfig); err != nil {
		return nil, err
	}
	if flags.baseURL != "" {
		apiConfig.BaseURL = flags.baseURL
	}
	api, err := apiclient.New(apiConfig)
	if err != nil {
		return nil, err
	}
	pollConfig, err := poller.ReadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		out:        out,
		api:        api,
		auth:       auth.NewClient(api),
		diagnosis:  diagnosis.NewClient(api),
		chat:       chat.NewClient(api),
		cats:       cats.NewClient(api),
		pollConfig: pollConfig,
		cliLogger:  cliLogger,
	}

	switch config.Checkpoints {
	case "redis":
		redisConfig, err := checkpoint.ReadConfig()
		if err != nil {
			return nil, err
		}
		a.checkpoints = checkpoint.NewRedisStore(redisConfig, api.BaseURL())
	case "memory", "":
		a.checkpoints = checkpoint.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", config.Checkpoints)
	}

	if config.NotifyEnabled {
		notifyConfig, err := notify.ReadConfig()
		if err != nil {
			return nil, err
		}
		a.publisher, err = notify.NewPublisher(notifyConfig)
		if err != nil {
			return nil, err
		}
	}

	if flags.email != "" {
		if err := a.auth.Login(ctx, flags.email, flags.password); err != nil {
			a.close()
			return nil, fmt.Errorf("login: %w", err)
		}
	}
	return a, nil
}

func (a *app) close() {
	if store, ok := a.checkpoints.(*checkpoint.RedisStore); ok {
		_ = store.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
}

// poll blocks until the category of diagnosisID resolves, the poll fails or
// times out, or ctx is cancelled.
func (a *app) poll(ctx context.Context, diagnosisID string) (*diagnosis.Category, error) {
	p := poller.New(a.diagnosis, a.pollConfig, poller.WithCheckpoints(a.checkpoints))
	type outcome struct {
		category *diagnosis.Category
		err      error
	}
	done := make(chan outcome, 1)
	callbacks := poller.Callbacks{
		OnResolved: func(category diagnosis.Category) { done <- outcome{category: &category} },
		OnFailed:   func(err error) { done <- outcome{err: err} },
		OnTimeout:  func(err *poller.TimeoutError) { done <- outcome{err: err} },
		OnProgress: func(attempt, budget int) {
			a.cliLogger.Info().Str("diagnosis_id", diagnosisID).Msgf("Waiting for category (%d/%d)", attempt, budget)
		},
	}
	if a.publisher != nil {
		callbacks = notify.Callbacks(a.publisher, p, diagnosisID, callbacks)
	}
	if err := p.Start(ctx, diagnosisID, callbacks); err != nil {
		return nil, err
	}
	select {
	case result := <-done:
		return result.category, result.err
	case <-ctx.Done():
		p.Stop()
		return nil, ctx.Err()
	}
}

func (a *app) print(v interface{}) error {
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
