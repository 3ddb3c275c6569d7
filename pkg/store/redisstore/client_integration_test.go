//go:build integration

package redisstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dyluth/chalk/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

// TestClaimRaceAcrossClients races many independent connections for one
// revision and checks that exactly one write lands.
func TestClaimRaceAcrossClients(t *testing.T) {
	url := setupRedis(t)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	ctx := context.Background()
	seed, err := New(opts, "race")
	require.NoError(t, err)
	defer seed.Close()

	const rounds = 20
	const contenders = 16

	for round := 0; round < rounds; round++ {
		path := fmt.Sprintf("tasks/race-%d", round)
		_, err := seed.Put(ctx, store.Document{Path: path, Content: "pending"})
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := New(opts, "race")
				if !assert.NoError(t, err) {
					return
				}
				defer s.Close()

				_, err = s.PutIf(ctx, store.Document{Path: path, Content: fmt.Sprintf("claimed-by-%d", i)}, 1)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.True(t, store.IsConflict(err), "unexpected error: %v", err)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins, "round %d", round)
	}
}
