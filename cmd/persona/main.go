package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"companion-chat/handler"
	"companion-chat/internal/config"
	"companion-chat/internal/integrations/gotrue"
	"companion-chat/internal/integrations/paramstore"
	"companion-chat/internal/persona"
	"companion-chat/internal/repository"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	cfg, err := config.LoadPersona()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithIndexName(cfg.StateIndex))
	if err != nil {
		fatal("failed to create state client", err)
	}

	var opts []handler.Option
	if cfg.RequireAuth {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		anonKey, err := paramstore.NewTokenSource(ssmClient, cfg.ParamPrefix, "identity-anon-key")
		if err != nil {
			fatal("failed to create identity key source", err)
		}
		auth, err := gotrue.NewClient(cfg.IdentityURL, anonKey)
		if err != nil {
			fatal("failed to create identity client", err)
		}
		opts = append(opts, handler.WithAuthenticator(auth))
	}

	// ---- Handler ----
	svc, err := persona.NewService(stateClient)
	if err != nil {
		fatal("failed to create persona service", err)
	}
	h, err := handler.NewHandler(svc, opts...)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
