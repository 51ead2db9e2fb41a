package cohort

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/ruikei/internal/model"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestCohortRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a NATS container")
	}
	url := startNATS(t)

	sender, err := Connect(url, "sender", discard())
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := Connect(url, "receiver", discard())
	require.NoError(t, err)
	defer receiver.Close()

	rec := &recorder{}
	listener := NewListener(receiver, "", []string{"cocoPharma"}, rec, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	// Subscriptions are registered asynchronously; flush once they exist.
	require.Eventually(t, func() bool { return receiver.NumSubscriptions() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, receiver.Flush())

	em := NewEmitter(sender, "", local, discard())
	for i := range 5 {
		def := model.TypeDef{GUID: fmt.Sprintf("g%d", i), Name: fmt.Sprintf("T%d", i), Version: 1, Category: model.CategoryEntity}
		require.NoError(t, em.Publish(context.Background(), "cocoPharma", model.TypeDefEvent{EventType: model.EventNewTypeDef, TypeDef: &def}))
	}
	require.NoError(t, sender.Flush())

	assert.Eventually(t, func() bool { return rec.count() == 5 }, 5*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	for i, ev := range rec.events {
		assert.Equal(t, fmt.Sprintf("T%d", i), ev.TypeDef.Name, "events arrive in publish order")
	}
	rec.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}
