package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrContainerGone is returned by the runtime when the target container no longer exists, is not
// running, or is already being removed. Teardown treats it as success.
var ErrContainerGone = errors.New("container already gone")

// ProvisioningError means the runtime could not create or start the container.
type ProvisioningError struct {
	Image string
	// ContainerID is set when the container was created but then failed to come up.
	ContainerID string
	Err         error
}

func (e *ProvisioningError) Error() string {
	if e.ContainerID != "" {
		return fmt.Sprintf("provision %s (container %s): %v", e.Image, shortID(e.ContainerID), e.Err)
	}
	return fmt.Sprintf("provision %s: %v", e.Image, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ReadinessTimeoutError means the container started but postgres did not answer a query within
// the configured budget. The container is left running.
type ReadinessTimeoutError struct {
	ContainerID string
	Timeout     time.Duration
	// Err is the last probe failure, if any.
	Err error
}

func (e *ReadinessTimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("container %s not ready after %s: %v", shortID(e.ContainerID), e.Timeout, e.Err)
	}
	return fmt.Sprintf("container %s not ready after %s", shortID(e.ContainerID), e.Timeout)
}

func (e *ReadinessTimeoutError) Unwrap() error { return e.Err }

// TeardownError means stopping or killing a container failed for a reason other than the
// container already being gone.
type TeardownError struct {
	ContainerID string
	Err         error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown container %s: %v", shortID(e.ContainerID), e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
