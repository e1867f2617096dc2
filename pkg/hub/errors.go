package hub

import "errors"

var (
    ErrNoHubAvailable = errors.New("hub: no candidate could serve as hub")
    // ErrNotCapable is returned by CheckCapability when the node is reachable
    // but not part of the quorum.
    ErrNotCapable = errors.New("hub: node cannot serve membership")
    ErrClosed     = errors.New("hub: connection replaced or closed")
)
