package store

import (
	"context"
	"fmt"
	"os/exec"
	"testing"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisStoreWithContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("container start: %v", err)
	}
	defer func() { _ = cont.Terminate(ctx) }()
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	s, err := NewRedisStore(RedisConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), Key: "test:state"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = s.Close() }()
	exercise(t, s)
}
