package fetch

import "sync"

// defaultUserAgents are realistic desktop browser signatures. Rotating
// among a few plausible values draws less attention than either a static
// UA or an obviously synthetic one.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

// UserAgents hands out browser signatures round-robin. Safe for
// concurrent use.
type UserAgents struct {
	mu   sync.Mutex
	pool []string
	next int
}

// NewUserAgents builds a rotation over the given pool, falling back to
// the default signatures when empty.
func NewUserAgents(pool []string) *UserAgents {
	if len(pool) == 0 {
		pool = defaultUserAgents
	}
	return &UserAgents{pool: append([]string(nil), pool...)}
}

// Next returns the next signature in rotation.
func (u *UserAgents) Next() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	ua := u.pool[u.next%len(u.pool)]
	u.next++
	return ua
}

// First returns the first signature without advancing the rotation, for
// transports that pin one identity per session.
func (u *UserAgents) First() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pool[0]
}
