package membership

import "errors"

// ErrMembershipQueryFailed wraps both query errors and malformed results.
var ErrMembershipQueryFailed = errors.New("membership: query failed")
