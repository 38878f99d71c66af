package infra

// FeedState is the connection lifecycle of one venue feed.
// Disconnected -> Connecting -> (Authenticating) -> Subscribed -> Degraded -> Reconnecting -> ...
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedAuthenticating
	FeedSubscribed
	FeedDegraded
	FeedReconnecting
)

func (s FeedState) String() string {
	switch s {
	case FeedDisconnected:
		return "DISCONNECTED"
	case FeedConnecting:
		return "CONNECTING"
	case FeedAuthenticating:
		return "AUTHENTICATING"
	case FeedSubscribed:
		return "SUBSCRIBED"
	case FeedDegraded:
		return "DEGRADED"
	case FeedReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Live reports whether data from the feed can be trusted.
func (s FeedState) Live() bool {
	return s == FeedSubscribed
}
