package page

import (
	"slices"
	"sync"

	"github.com/SnapStoreCommunity/snap-store-go/internal/metrics"
	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

const subscriberBuffer = 16

// Update is sent to subscribers whenever the displayed state changes.
// Fields lists the fields that changed. Workflow transitions are reported as model.FieldState.
type Update struct {
	SessionID string        `json:"sessionId"`
	Fields    []model.Field `json:"fields"`
	State     State         `json:"state"`
}

// Subscription receives page updates on C until it is unsubscribed.
type Subscription struct {
	C      <-chan Update
	ch     chan Update
	fields []model.Field
}

func (s *Subscription) wants(changed []model.Field) bool {
	if len(s.fields) == 0 {
		return true
	}
	for _, f := range changed {
		if slices.Contains(s.fields, f) {
			return true
		}
	}
	return false
}

// hub fans updates out to subscribers without ever blocking the sender.
type hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	closed  bool
	metrics *metrics.Metrics
}

func newHub(m *metrics.Metrics) *hub {
	return &hub{subs: make(map[*Subscription]struct{}), metrics: m}
}

func (h *hub) subscribe(fields []model.Field) *Subscription {
	ch := make(chan Update, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, fields: slices.Clone(fields)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	if h.metrics != nil {
		h.metrics.PageSubscribers.Inc()
	}
	return sub
}

func (h *hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	if h.metrics != nil {
		h.metrics.PageSubscribers.Dec()
	}
}

// publish delivers u to every interested subscriber.
// A subscriber whose buffer is full loses its oldest pending update.
func (h *hub) publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(u.Fields) {
			continue
		}
		select {
		case sub.ch <- u:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- u:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		if h.metrics != nil {
			h.metrics.PageSubscribers.Dec()
		}
	}
	h.subs = nil
}
