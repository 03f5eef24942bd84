package embed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/transport"
	"github.com/GriffinCanCode/framelink/internal/transport/wschan"
)

// MaxMarkupSize bounds descriptor markup.
const MaxMarkupSize = 64 * 1024

// Dialer opens a channel to a frame's websocket URL.
type Dialer func(ctx context.Context, rawURL string) (transport.Channel, error)

// Builder turns a descriptor into a channel attached to its placeholder.
type Builder struct {
	policy    *transport.OriginPolicy
	sanitizer *bluemonday.Policy
	dial      Dialer
	logger    *logging.Logger
}

// BuilderOption customises a Builder.
type BuilderOption func(*Builder)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) BuilderOption {
	return func(b *Builder) { b.dial = d }
}

// NewBuilder creates a builder that only connects to origins policy trusts.
func NewBuilder(policy *transport.OriginPolicy, opts wschan.Options, logger *logging.Logger, options ...BuilderOption) *Builder {
	if policy == nil {
		policy = transport.DefaultOriginPolicy()
	}
	logger = logger.OrNop().Named("embed.builder")

	b := &Builder{
		policy:    policy,
		sanitizer: framePolicy(),
		logger:    logger,
	}
	b.dial = func(ctx context.Context, rawURL string) (transport.Channel, error) {
		ch, err := wschan.Dial(ctx, rawURL, opts, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// framePolicy keeps iframes and their presentational attributes only.
func framePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "iframe")
	p.AllowAttrs("src", "width", "height", "frameborder", "allow", "allowfullscreen", "title").OnElements("iframe")
	p.AllowAttrs("style").OnElements("div")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return p
}

// Build connects the display a descriptor embeds and attaches it to p. A
// placeholder that already has a channel keeps it.
func (b *Builder) Build(ctx context.Context, p *Placeholder, desc *Descriptor) (transport.Channel, error) {
	if ch, ok := p.Channel(); ok {
		return ch, nil
	}
	if desc == nil {
		return nil, protocol.Validation("build", "A descriptor is required.")
	}

	markup := b.sanitizer.Sanitize(desc.HTML)
	src, err := FrameSource(markup)
	if err != nil {
		return nil, protocol.Validation("build", "The descriptor for “%s” has no display frame: %v", desc.URL, err)
	}
	if !b.policy.AllowURL(src) {
		return nil, protocol.Validation("build", "“%s” isn't a display embed.", src)
	}

	wsURL, err := SocketURL(src)
	if err != nil {
		return nil, protocol.Validation("build", "“%s” isn't a display embed.", src)
	}

	ch, err := b.dial(ctx, wsURL)
	if err != nil {
		return nil, &protocol.TransportError{Kind: protocol.Channel, Target: wsURL, Err: err}
	}

	attached, ok := p.Attach(ch, markup)
	if !ok {
		_ = ch.Close()
		b.logger.Debug("Placeholder attached concurrently, discarding channel", zap.String("placeholder", p.ID().String()))
	}
	return attached, nil
}

// FrameSource extracts the src of the first iframe in markup.
func FrameSource(markup string) (string, error) {
	if markup == "" {
		return "", errors.New("markup is empty")
	}
	if len(markup) > MaxMarkupSize {
		return "", fmt.Errorf("markup exceeds %d bytes", MaxMarkupSize)
	}

	doc, err := loadMarkup([]byte(markup))
	if err != nil {
		return "", err
	}

	src, ok := doc.Find("iframe[src]").First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", errors.New("no iframe with a src")
	}
	return strings.TrimSpace(src), nil
}

// loadMarkup parses markup after converting it to UTF-8.
func loadMarkup(data []byte) (*goquery.Document, error) {
	enc := detectCharset(data)
	r, err := charset.NewReader(bytes.NewReader(data), "text/html; charset="+enc)
	if err != nil {
		return goquery.NewDocumentFromReader(bytes.NewReader(data))
	}
	return goquery.NewDocumentFromReader(r)
}

func detectCharset(data []byte) string {
	result, err := chardet.NewHtmlDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// SocketURL maps a frame URL to its websocket endpoint.
func SocketURL(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
