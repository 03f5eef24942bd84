package embed

import (
	"sync"

	"github.com/GriffinCanCode/framelink/internal/shared/id"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

// Placeholder is a display reference without a channel yet. It has its own
// endpoint identity, so listeners can be registered before the upgrade.
type Placeholder struct {
	id     id.EndpointID
	params Params

	mu      sync.Mutex
	channel transport.Channel
	markup  string
}

// NewPlaceholder creates a placeholder for params.
func NewPlaceholder(params Params) *Placeholder {
	return &Placeholder{id: id.NewEndpointID(), params: params}
}

func (p *Placeholder) ID() id.EndpointID { return p.id }

// Params returns a copy of the placeholder's parameters.
func (p *Placeholder) Params() Params {
	out := make(Params, len(p.params))
	for k, v := range p.params {
		out[k] = v
	}
	return out
}

// Channel returns the attached channel, if any.
func (p *Placeholder) Channel() (transport.Channel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel, p.channel != nil
}

// Initialized reports whether a channel is attached.
func (p *Placeholder) Initialized() bool {
	_, ok := p.Channel()
	return ok
}

// Markup returns the sanitized embed markup of the attached display.
func (p *Placeholder) Markup() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markup
}

// Attach binds ch to the placeholder. If a channel is already attached it is
// returned instead and ok is false.
func (p *Placeholder) Attach(ch transport.Channel, markup string) (attached transport.Channel, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		return p.channel, false
	}
	p.channel = ch
	p.markup = markup
	return ch, true
}

// Reset detaches the channel without closing it.
func (p *Placeholder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.channel = nil
	p.markup = ""
}
