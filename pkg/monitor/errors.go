package monitor

import (
    "errors"

    "github.com/amirimatin/go-clustermon/pkg/hub"
    "github.com/amirimatin/go-clustermon/pkg/membership"
    "github.com/amirimatin/go-clustermon/pkg/probe"
)

var (
    ErrAdminCommandFailed = errors.New("monitor: admin command failed")
    ErrUnknownNode        = errors.New("monitor: unknown node")
    ErrNotRunning         = errors.New("monitor: closed")
    ErrAlreadyRunning     = errors.New("monitor: already running")
)

// Re-exported so callers can match every monitor error from one package.
var (
    ErrNoHubAvailable        = hub.ErrNoHubAvailable
    ErrMembershipQueryFailed = membership.ErrMembershipQueryFailed
    ErrProbeTimeout          = probe.ErrProbeTimeout
    ErrProbeConnection       = probe.ErrProbeConnection
)
