// Package testhelper starts a throwaway Redis for integration tests.
package testhelper

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	once       sync.Once
	sharedAddr string
	initErr    error
)

// SetupTestRedis starts a shared Redis container (once per test binary) and
// returns a client closed via t.Cleanup.
func SetupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()

	once.Do(func() {
		sharedAddr, initErr = startContainer()
	})
	if initErr != nil {
		t.Fatalf("testhelper: failed to setup test redis: %v", initErr)
	}

	client := goredis.NewClient(&goredis.Options{Addr: sharedAddr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("testhelper: redis ping: %v", err)
	}
	return client
}

func startContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return "", fmt.Errorf("get mapped port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}
