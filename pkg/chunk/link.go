package chunk

import (
	"maps"
	"time"
)

// LinkExpiryBuffer is how long before its expiry a link is already treated
// as invalid, so a fetch never starts on a link about to lapse.
const LinkExpiryBuffer = 60 * time.Second

// Link is the temporary remote location of a chunk's bytes.
type Link struct {
	URL       string
	Headers   map[string]string
	ExpiresAt time.Time // zero means no known expiry
}

// Expired reports whether the link lapses within LinkExpiryBuffer of now.
func (l Link) Expired(now time.Time) bool {
	if l.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(LinkExpiryBuffer).Before(l.ExpiresAt)
}

func (l Link) clone() Link {
	l.Headers = maps.Clone(l.Headers)
	return l
}
