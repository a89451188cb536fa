package peer

import "fmt"

// Resolver maps a peer identity to a dialable WebSocket URL. Identity
// strings are opaque; addressing lives entirely here.
type Resolver interface {
	Resolve(node string) string
}

// StaticResolver resolves from a configured identity -> host:port map and
// falls back to treating the identity itself as a hostname.
type StaticResolver struct {
	peers       map[string]string
	defaultPort string
}

// NewStaticResolver builds a StaticResolver.
func NewStaticResolver(peers map[string]string, defaultPort string) *StaticResolver {
	return &StaticResolver{peers: peers, defaultPort: defaultPort}
}

// Resolve returns the peer endpoint URL.
func (r *StaticResolver) Resolve(node string) string {
	if addr, ok := r.peers[node]; ok {
		return fmt.Sprintf("ws://%s/peer/ws", addr)
	}
	return fmt.Sprintf("ws://%s:%s/peer/ws", node, r.defaultPort)
}
