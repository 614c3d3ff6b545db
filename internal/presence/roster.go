// Package presence tracks which users have a live websocket and pushes the
// online roster to every connected client whenever it changes.
package presence

import "sort"

// Roster maps connection handles to usernames. A user with several tabs
// open has several handles but appears once in Users. Roster is not safe
// for concurrent use; the Hub goroutine owns it.
type Roster struct {
	conns map[*client]string
}

func NewRoster() *Roster {
	return &Roster{conns: make(map[*client]string)}
}

// Add registers a connection and reports whether the visible user set changed.
func (r *Roster) Add(c *client, username string) bool {
	before := r.count(username)
	r.conns[c] = username
	return before == 0
}

// Remove drops a connection and reports whether the visible user set changed.
func (r *Roster) Remove(c *client) bool {
	username, ok := r.conns[c]
	if !ok {
		return false
	}
	delete(r.conns, c)
	return r.count(username) == 0
}

// Users returns the sorted, de-duplicated usernames.
func (r *Roster) Users() []string {
	seen := make(map[string]struct{}, len(r.conns))
	out := make([]string, 0, len(r.conns))
	for _, name := range r.conns {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Conns returns the number of registered connections.
func (r *Roster) Conns() int {
	return len(r.conns)
}

func (r *Roster) count(username string) int {
	n := 0
	for _, name := range r.conns {
		if name == username {
			n++
		}
	}
	return n
}
