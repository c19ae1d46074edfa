package console

import "sync"

// Redirects records navigation requests for the frontend to pick up. The
// console has no browser of its own.
type Redirects struct {
	mu   sync.Mutex
	last string
}

// Redirect implements auth.Navigator.
func (r *Redirects) Redirect(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = url
}

// Take returns and clears the pending redirect.
func (r *Redirects) Take() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	url := r.last
	r.last = ""
	return url, url != ""
}

// Peek returns the pending redirect without clearing it.
func (r *Redirects) Peek() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
