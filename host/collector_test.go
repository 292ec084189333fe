package host

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/perfgo/apireport/model"
)

// fakeCollector implements the collection API in memory.
type fakeCollector struct {
	mu        sync.Mutex
	nextID    int64
	names     map[int64]string
	runStarts int
	runEnds   []int64
	finishes  map[string][]model.Status
	failTests bool
}

func newFakeCollector(t *testing.T) (*fakeCollector, *httptest.Server) {
	t.Helper()
	c := &fakeCollector{
		names:    make(map[int64]string),
		finishes: make(map[string][]model.Status),
	}
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *fakeCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer ABCDEF" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "runs":
		c.runStarts++
		_ = json.NewEncoder(w).Encode(map[string]int64{"run_id": 11})
	case len(parts) == 3 && parts[0] == "runs" && parts[2] == "finish":
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		c.runEnds = append(c.runEnds, id)
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 1 && parts[0] == "tests":
		var req struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		c.nextID++
		c.names[c.nextID] = req.Name
		_ = json.NewEncoder(w).Encode(map[string]int64{"test_id": c.nextID})
	case len(parts) == 3 && parts[0] == "tests" && parts[2] == "finish":
		if c.failTests {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		var req struct {
			Status model.Status `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		name := c.names[id]
		c.finishes[name] = append(c.finishes[name], req.Status)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (c *fakeCollector) statuses() map[string][]model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]model.Status, len(c.finishes))
	for k, v := range c.finishes {
		out[k] = append([]model.Status(nil), v...)
	}
	return out
}

func (c *fakeCollector) starts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, n)
	}
	return out
}

func (c *fakeCollector) runs() (int, []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runStarts, append([]int64(nil), c.runEnds...)
}
