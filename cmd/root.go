package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"wa-relay/handler"
	"wa-relay/internal/config"
	"wa-relay/internal/dedup"
	"wa-relay/internal/integrations/openai"
	"wa-relay/internal/integrations/paramstore"
	"wa-relay/internal/integrations/whatsapp"
	"wa-relay/internal/repository"
	"wa-relay/internal/usecase"
)

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "wa-relay",
		Short: "WhatsApp webhook relay with persona replies",
		Long: `wa-relay receives WhatsApp Cloud API webhooks, stores each message,
asks a chat model for a reply using the sender's recent history, and
sends the reply back through the Graph API.

Without a subcommand it runs as an AWS Lambda function behind API Gateway.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			lambda.Start(app.handler.Handle)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

type app struct {
	handler *handler.Handler
	logger  *slog.Logger
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// buildApp wires every collaborator from the environment.
func buildApp(ctx context.Context) (*app, error) {
	// ---- Configuration ----
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	a := &app{logger: logger}

	// ---- AWS SDK config (only when something needs it) ----
	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	// ---- Secrets ----
	params := paramstore.EnvFirst{}
	if cfg.ParamPrefix != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(c))
		if err != nil {
			return nil, fmt.Errorf("create SSM client: %w", err)
		}
		params.Next = ssmClient
	}

	verifyToken, err := paramstore.FetchToken(ctx, params, cfg.SecretName(config.SecretVerifyToken))
	if err != nil {
		return nil, fmt.Errorf("resolve verify token: %w", err)
	}
	openaiKey, err := paramstore.NewToken(params, cfg.SecretName(config.SecretOpenAIAPIKey))
	if err != nil {
		return nil, err
	}
	whatsappKey, err := paramstore.NewToken(params, cfg.SecretName(config.SecretWhatsAppAPIKey))
	if err != nil {
		return nil, err
	}

	// ---- Store ----
	var store usecase.Store
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		stateClient, err := repository.New(awsdynamodb.NewFromConfig(c), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("create state client: %w", err)
		}
		store = stateClient
	case config.BackendSQLite, config.BackendPostgres:
		sqlClient, err := repository.OpenSQL(ctx, repository.Dialect(cfg.StoreBackend), cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sqlClient.Close)
		if cfg.StoreBackend == config.BackendSQLite {
			if err := sqlClient.Migrate(ctx); err != nil {
				a.Close()
				return nil, err
			}
		}
		store = sqlClient
	default:
		logger.Warn("no store backend configured; submissions will be rejected")
	}

	// ---- Clients ----
	openaiOpts := []openai.Option{openai.WithModel(cfg.GenerationModel)}
	if cfg.OpenAIBaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	openaiClient, err := openai.NewClient(openaiKey, openaiOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create OpenAI client: %w", err)
	}

	var waOpts []whatsapp.Option
	if cfg.GraphBaseURL != "" {
		waOpts = append(waOpts, whatsapp.WithBaseURL(cfg.GraphBaseURL))
	}
	waClient, err := whatsapp.NewClient(whatsappKey, cfg.WABAID, waOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create WhatsApp client: %w", err)
	}

	var guard usecase.DuplicateGuard
	if cfg.RedisURL != "" {
		g, rdb, err := dedup.Dial(ctx, cfg.RedisURL, cfg.DedupTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		guard = g
	}

	// ---- Handler ----
	relayService, err := usecase.NewRelayService(usecase.RelayConfig{
		Store:     store,
		Generator: openaiClient,
		Sender:    waClient,
		Guard:     guard,
		Persona:   cfg.Persona,
		Order:     cfg.HistoryOrder,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create relay service: %w", err)
	}

	h, err := handler.NewHandler(relayService, verifyToken, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create handler: %w", err)
	}
	a.handler = h

	logger.Info("relay ready",
		"store", cfg.StoreBackend,
		"model", openaiClient.Model(),
		"history_order", string(cfg.HistoryOrder),
		"dedup", guard != nil,
	)
	return a, nil
}
