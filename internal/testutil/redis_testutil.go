package testutil

import (
	"context"
	"fmt"
	"log"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func SetupRedisContainer(ctx context.Context) (string, func(), error) {
	redisContainer, err := tcredis.RunContainer(ctx,
		testcontainers.WithImage("docker.io/redis:7-alpine"),
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	url, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		redisContainer.Terminate(ctx)
		return "", nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	cleanup := func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			log.Fatalf("failed to terminate container: %s", err)
		}
	}

	return url, cleanup, nil
}
