package session

// Resolver maps a request's cookie session and derived key to a user id.
type Resolver struct {
	cache *Cache
}

// NewResolver creates a resolver over the fallback cache
func NewResolver(cache *Cache) *Resolver {
	return &Resolver{cache: cache}
}

// Resolve returns the effective user id. The cookie session wins when it
// carries a user. Otherwise a live cache entry for key is used and written
// back into sess, which is then reported as healed so the caller persists it.
func (r *Resolver) Resolve(sess *Data, key string) (userID int64, ok bool, healed bool) {
	if sess != nil && sess.UserID != nil {
		return *sess.UserID, true, false
	}
	id, found := r.cache.Get(key)
	if !found {
		return 0, false, false
	}
	if sess != nil {
		sess.UserID = &id
		healed = true
	}
	return id, true, healed
}
