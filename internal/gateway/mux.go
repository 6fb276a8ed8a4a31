package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Mux fans messages across several gateways behind a single Send
// surface. Sender IDs are namespaced as "<gateway>:<chat id>" so a
// reply finds its way back to the gateway it arrived on.
type Mux struct {
	mu       sync.RWMutex
	gateways map[string]Messenger
	log      zerolog.Logger
}

func NewMux(log zerolog.Logger) *Mux {
	return &Mux{gateways: make(map[string]Messenger), log: log.With().Str("component", "mux").Logger()}
}

func (m *Mux) Register(name string, g Messenger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateways[name] = g
}

// HandlerFor wraps a handler so inbound sender IDs carry the gateway
// name. Pass the result to the gateway's constructor.
func (m *Mux) HandlerFor(name string, next Handler) Handler {
	return prefixedHandler{prefix: name + ":", next: next}
}

type prefixedHandler struct {
	prefix string
	next   Handler
}

func (h prefixedHandler) HandleInbound(ctx context.Context, senderID, text string) {
	h.next.HandleInbound(ctx, h.prefix+senderID, text)
}

// Send routes a namespaced chat ID to its gateway.
func (m *Mux) Send(chatID, text string) error {
	name, raw, ok := strings.Cut(chatID, ":")
	if !ok {
		return fmt.Errorf("chat ID %q has no gateway prefix", chatID)
	}
	m.mu.RLock()
	g, found := m.gateways[name]
	m.mu.RUnlock()
	if !found {
		return fmt.Errorf("no gateway registered as %q", name)
	}
	return g.Send(raw, text)
}

// StartAll runs every registered gateway, blocking until one fails or
// all stop.
func (m *Mux) StartAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var eg errgroup.Group
	for name, g := range m.gateways {
		name, g := name, g
		eg.Go(func() error {
			m.log.Info().Str("gateway", name).Msg("starting")
			return g.Start()
		})
	}
	return eg.Wait()
}

// StopAll shuts every gateway down, keeping the first error.
func (m *Mux) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var first error
	for name, g := range m.gateways {
		if err := g.Stop(); err != nil && first == nil {
			first = fmt.Errorf("stopping %s: %w", name, err)
		}
	}
	return first
}
