package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/martacalvinho/squares2/internal/domain"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisPublisher_Publishes(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "boost:test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(PublisherConfig{Client: client, Channel: "boost:test"})
	require.NoError(t, pub.Start(ctx))

	pub.Emit(ctx,
		domain.Event{Type: domain.EventClaimed, SlotNumber: 1, OccupancyID: "occ-1"},
		domain.Event{Type: domain.EventExtended, SlotNumber: 1, OccupancyID: "occ-1"},
	)

	ch := sub.Channel()
	var got []domain.Event
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-ch:
			var ev domain.Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d of 2 events", len(got))
		}
	}
	assert.Equal(t, domain.EventClaimed, got[0].Type)
	assert.Equal(t, domain.EventExtended, got[1].Type)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pub.Stop(stopCtx))
	assert.Zero(t, pub.Dropped())
}

func TestRedisPublisher_DropsWhenFull(t *testing.T) {
	pub := NewRedisPublisher(PublisherConfig{Buffer: 1})

	pub.Emit(context.Background(), domain.Event{Type: domain.EventClaimed}, domain.Event{Type: domain.EventClaimed})
	assert.Equal(t, uint64(1), pub.Dropped())
	assert.NoError(t, pub.Stop(context.Background()))
}
