package buildamqp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/k11v/buildbox/internal/build"
)

func TestBroker(t *testing.T) {
	t.Run("publishes and receives events in order", func(t *testing.T) {
		ctx := context.Background()
		broker := NewTestBroker(t, ctx)

		events := []*build.Event{
			{
				Type:       build.EventBuildSucceeded,
				BuildID:    uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000"),
				Identifier: "L3RtcC9idWlsZGJveC1h",
				Time:       time.Date(2024, 11, 20, 12, 0, 0, 0, time.UTC),
			},
			{
				Type:       build.EventWorkspaceDeleted,
				Identifier: "L3RtcC9idWlsZGJveC1h",
				Time:       time.Date(2024, 11, 20, 12, 5, 0, 0, time.UTC),
			},
		}
		for _, event := range events {
			if err := broker.Publish(ctx, event); err != nil {
				t.Fatalf("didn't want %q", err)
			}
		}

		for _, want := range events {
			got, ok, err := broker.Receive(ctx)
			if err != nil {
				t.Fatalf("didn't want %q", err)
			}
			if !ok {
				t.Fatal("got no event, want one")
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %v, want %v", got, want)
			}
		}

		_, ok, err := broker.Receive(ctx)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if ok {
			t.Fatal("got an event, want none")
		}
	})
}

// testBroker is a Broker that can also consume what it published.
type testBroker struct {
	*Broker
	ConnectionString string
}

// Receive fetches the oldest published event. ok is false when there is none.
func (b *testBroker) Receive(ctx context.Context) (event *build.Event, ok bool, err error) {
	conn, err := amqp091.Dial(b.ConnectionString)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = conn.Close()
	}()

	ch, err := conn.Channel()
	if err != nil {
		return nil, false, err
	}
	defer ch.Close()

	msg, ok, err := ch.Get(QueueEvents, true)
	if err != nil || !ok {
		return nil, false, err
	}

	event = new(build.Event)
	dec := json.NewDecoder(bytes.NewReader(msg.Body))
	dec.DisallowUnknownFields()
	if err = dec.Decode(event); err != nil {
		return nil, false, err
	}
	return event, true, nil
}

func NewTestBroker(tb testing.TB, ctx context.Context) *testBroker {
	tb.Helper()

	if testing.Short() {
		tb.Skip("skipping RabbitMQ test in short mode")
	}

	username := "guest"
	password := "guest"

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "rabbitmq:4.0-alpine",
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": username,
				"RABBITMQ_DEFAULT_PASS": password,
			},
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog(".*Server startup complete.*").AsRegexp().WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	}

	c, err := testcontainers.GenericContainer(ctx, req)
	testcontainers.CleanupContainer(tb, c)
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}

	endpoint, err := c.PortEndpoint(ctx, nat.Port("5672/tcp"), "")
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}

	connectionString := fmt.Sprintf("amqp://%s:%s@%s", username, password, endpoint)

	return &testBroker{Broker: NewBroker(connectionString), ConnectionString: connectionString}
}
