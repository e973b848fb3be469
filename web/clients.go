// ABOUTME: Per-page-load panel registry: each browser tab gets its own main and overlay panels.
// ABOUTME: Clients are keyed by a uuid issued with the page and evicted after going idle.
package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/markdown"
)

// ClientHeader carries the client id issued with the dashboard page.
const ClientHeader = "X-Overwatch-Client"

// defaultClientIdle is how long a client's panels survive without requests.
const defaultClientIdle = 30 * time.Minute

type clientPanels struct {
	panels   map[string]*dashboard.Panel
	lastSeen time.Time
}

func (c *clientPanels) busy() bool {
	for _, p := range c.panels {
		if p.Busy() {
			return true
		}
	}
	return false
}

// clientRegistry owns the panels of every connected page.
type clientRegistry struct {
	streamer dashboard.Streamer
	renderer *markdown.Renderer
	logger   *slog.Logger
	idle     time.Duration
	now      func() time.Time

	mu      sync.Mutex
	clients map[string]*clientPanels
}

func newClientRegistry(streamer dashboard.Streamer, renderer *markdown.Renderer, logger *slog.Logger) *clientRegistry {
	return &clientRegistry{
		streamer: streamer,
		renderer: renderer,
		logger:   logger,
		idle:     defaultClientIdle,
		now:      time.Now,
		clients:  make(map[string]*clientPanels),
	}
}

// panel returns the named panel for clientID, creating the client on first use.
// Unknown panel names return nil.
func (c *clientRegistry) panel(clientID, name string) *dashboard.Panel {
	if !validPanel(name) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)
	cp, ok := c.clients[clientID]
	if !ok {
		logger := c.logger.With("client", clientID)
		cp = &clientPanels{panels: map[string]*dashboard.Panel{
			dashboard.PanelMain:    dashboard.NewPanel(dashboard.PanelMain, c.streamer, c.renderer, logger),
			dashboard.PanelOverlay: dashboard.NewPanel(dashboard.PanelOverlay, c.streamer, c.renderer, logger),
		}}
		c.clients[clientID] = cp
	}
	cp.lastSeen = now
	return cp.panels[name]
}

// existing returns the named panel only if clientID already has one.
func (c *clientRegistry) existing(clientID, name string) *dashboard.Panel {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.clients[clientID]
	if !ok {
		return nil
	}
	cp.lastSeen = c.now()
	return cp.panels[name]
}

// sweepLocked drops clients idle longer than c.idle with nothing in flight.
func (c *clientRegistry) sweepLocked(now time.Time) {
	for id, cp := range c.clients {
		if now.Sub(cp.lastSeen) > c.idle && !cp.busy() {
			delete(c.clients, id)
			c.logger.Debug("evicted idle client", "component", "web", "client", id)
		}
	}
}

func (c *clientRegistry) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func validPanel(name string) bool {
	return name == dashboard.PanelMain || name == dashboard.PanelOverlay
}

// clientID reads and validates the client header.
func clientID(r *http.Request) (string, bool) {
	id, err := uuid.Parse(r.Header.Get(ClientHeader))
	if err != nil {
		return "", false
	}
	return id.String(), true
}
