// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"

	"github.com/invowk/nodefleet/internal/container"
)

const parallelEnv = "NODEFLEET_TEST_CONTAINER_PARALLEL"

// ContainerSemaphore returns a process-wide buffered channel that limits
// concurrent container operations in tests. Acquire a slot by sending,
// release by receiving:
//
//	sem := testutil.ContainerSemaphore()
//	sem <- struct{}{}
//	defer func() { <-sem }()
//
// The capacity is NODEFLEET_TEST_CONTAINER_PARALLEL when set, otherwise
// min(GOMAXPROCS, 2).
var ContainerSemaphore = sync.OnceValue(func() chan struct{} {
	return make(chan struct{}, containerParallelism())
})

func containerParallelism() int {
	if v := os.Getenv(parallelEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return min(runtime.GOMAXPROCS(0), 2)
}

// RequireContainers skips t unless a container engine and the
// testcontainers Docker provider are both usable, and returns the engine.
// It also skips in -short mode.
func RequireContainers(t testing.TB) container.Engine {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	engine, err := container.NewEngine(container.EngineTypeAuto)
	if err != nil {
		t.Skipf("skipping container test: no container engine available: %v", err)
	}
	if !providerAvailable() {
		t.Skip("skipping container test: testcontainers provider not available")
	}
	return engine
}

// providerAvailable recovers from the panic testcontainers raises when no
// Docker socket can be found.
func providerAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}
