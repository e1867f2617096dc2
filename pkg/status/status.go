// Package status derives the published status of each node and pushes it to
// the status registry consumed by the routing layer.
package status

import "github.com/amirimatin/go-clustermon/pkg/node"

// Status is the consolidated per-node status.
type Status string

const (
    Running     Status = "running"
    Down        Status = "down"
    Draining    Status = "draining"
    Maintenance Status = "maintenance"
    Unknown     Status = "unknown"
)

// All lists every status, for metrics and validation.
var All = []Status{Running, Down, Draining, Maintenance, Unknown}

// Compute maps a record to its status. Rules are applied in order:
//
//  1. quorum lost -> Unknown
//  2. liveness Down -> Down
//  3. missing from the latest membership -> Maintenance
//  4. softfailed -> Draining
//  5. liveness Up -> Running, otherwise Unknown
func Compute(r node.Record) Status {
    switch {
    case r.Membership == node.MembershipQuorumLost:
        return Unknown
    case r.Liveness == node.LivenessDown:
        return Down
    case r.Departing():
        return Maintenance
    case r.Softfailed:
        return Draining
    case r.Liveness == node.LivenessUp:
        return Running
    default:
        return Unknown
    }
}
