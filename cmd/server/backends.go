package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/ashureev/tutor-core/internal/config"
	"github.com/ashureev/tutor-core/internal/events"
	"github.com/ashureev/tutor-core/internal/llm"
	"github.com/ashureev/tutor-core/internal/profile"
	"github.com/ashureev/tutor-core/internal/store"
)

// storage is the repository plus the configured checkpoint backend. The
// SQLite and memory backends serve both roles from one handle.
type storage struct {
	repo        store.Repository
	checkpoints store.CheckpointStore
	shared      bool
}

func (s *storage) Close() error {
	var errs []error
	if !s.shared {
		errs = append(errs, s.checkpoints.Close())
	}
	errs = append(errs, s.repo.Close())
	return errors.Join(errs...)
}

func awsConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Checkpoint.Backend == config.BackendMemory {
		m := store.NewMemory()
		return &storage{repo: m, checkpoints: m, shared: true}, nil
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st := &storage{repo: repo}

	switch cfg.Checkpoint.Backend {
	case config.BackendSQLite:
		st.checkpoints, st.shared = repo, true
	case config.BackendBolt:
		b, err := store.NewBolt(cfg.Checkpoint.BoltPath)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("open bolt checkpoints: %w", err)
		}
		st.checkpoints = b
	case config.BackendDynamoDB:
		awsCfg, err := awsConfig(ctx, cfg.Checkpoint.AWSRegion)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		d, err := store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.Checkpoint.DynamoDBTable)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("open dynamodb checkpoints: %w", err)
		}
		st.checkpoints = d
	}
	return st, nil
}

// openModel returns the model collaborator bounded by the configured timeout
// and a cleanup func.
func openModel(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Completer, func(), error) {
	var (
		model   llm.Completer
		cleanup = func() {}
	)
	switch cfg.Model.Provider {
	case config.ProviderEcho:
		model = llm.NewEcho()
	case config.ProviderOpenAI:
		var keys llm.KeySource = llm.StaticKey(cfg.Model.APIKey)
		if cfg.Model.APIKey == "" {
			awsCfg, err := awsConfig(ctx, cfg.Checkpoint.AWSRegion)
			if err != nil {
				return nil, nil, err
			}
			p, err := llm.NewParamStoreKey(ssm.NewFromConfig(awsCfg), cfg.Model.APIKeyParam)
			if err != nil {
				return nil, nil, err
			}
			keys = p
		}
		o, err := llm.NewOpenAI(cfg.Model.Name, cfg.Model.BaseURL, keys)
		if err != nil {
			return nil, nil, err
		}
		model = o
	case config.ProviderGRPC:
		c, err := llm.NewGrpcClient(ctx, cfg.Model.GRPCAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		model, cleanup = c, c.Close
	}
	logger.Info("Model collaborator ready", "provider", cfg.Model.Provider, "timeout", cfg.Model.Timeout)
	return llm.WithTimeout(model, cfg.Model.Timeout), cleanup, nil
}

func openProfiles(ctx context.Context, cfg *config.Config, repo store.Repository, logger *slog.Logger) (profile.Service, func(), error) {
	if cfg.ProfileGRPCAddr == "" {
		return profile.NewStoreService(repo), func() {}, nil
	}
	g, err := profile.NewGrpcService(ctx, cfg.ProfileGRPCAddr, logger)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}

func openEvents(cfg *config.Config, logger *slog.Logger) (*events.Bus, error) {
	if cfg.RedisAddr == "" {
		return events.NewInMemory(logger), nil
	}
	return events.NewRedis(events.RedisConfig{
		Addr:          cfg.RedisAddr,
		ConsumerGroup: "tutor-audit",
		Consumer:      "tutor-server",
	}, logger)
}
