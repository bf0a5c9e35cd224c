package session

import (
	"errors"
)

// Error taxonomy shared by the session, the key-value store and the relay directory
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOwnershipConflict  = errors.New("node is owned by another wallet")
	ErrNodeNotActive      = errors.New("node is not active")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrNetworkJoinFailed  = errors.New("failed to join network")
	ErrNetworkLeaveFailed = errors.New("failed to leave network")
	ErrNotFound           = errors.New("not found")
	ErrEncoding           = errors.New("encoding error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrOwnershipConflict, "OwnershipConflict"},
	{ErrNodeNotActive, "NodeNotActive"},
	{ErrNetworkUnavailable, "NetworkUnavailable"},
	{ErrNetworkJoinFailed, "NetworkJoinFailed"},
	{ErrNetworkLeaveFailed, "NetworkLeaveFailed"},
	{ErrNotFound, "NotFound"},
	{ErrEncoding, "EncodingError"},
}

// Kind returns the taxonomy name of err, or "Internal" for errors outside it
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
