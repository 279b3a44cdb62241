package tests

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

func getAddr(dockerEndpoint, port string) string {
	// experimental support of local docker daemon
	dockerEndpoint = strings.Replace(dockerEndpoint, "tcp://", "", 1)

	host := strings.Split(dockerEndpoint, ":")[0]

	if strings.Contains(dockerEndpoint, "unix:") || strings.Contains(dockerEndpoint, "http://localhost:") {
		host = "0.0.0.0"
	}

	return fmt.Sprintf("%s:%s", host, port)
}

// StartContainer runs opts and waits until ready accepts the address of
// exposed. The test is skipped when no docker daemon is reachable.
// The address is set through the DOCKER_HOST environment variable.
func StartContainer(t *testing.T, opts *dockertest.RunOptions, exposed string, ready func(addr string) error) string {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %s", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %s", err)
	}
	pool.MaxWait = 2 * time.Minute

	res, err := pool.RunWithOptions(opts, func(config *docker.HostConfig) {
		// Set AutoRemove to true so that stopped container goes away by itself.
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start %s: %s", opts.Repository, err)
	}
	t.Cleanup(func() { _ = pool.Purge(res) })

	addr := res.GetHostPort(exposed)
	if addr == "" {
		addr = getAddr(pool.Client.Endpoint(), res.GetPort(exposed))
	}
	// exponential backoff-retry, because the application in the container might not be ready to accept connections yet
	if err := pool.Retry(func() error { return ready(addr) }); err != nil {
		t.Fatalf("could not connect to %s: %s", opts.Repository, err)
	}
	return addr
}
