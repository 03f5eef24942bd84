package embed

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

const (
	// AttributePrefix starts every embed parameter attribute.
	AttributePrefix = "data-display-"
	// DefaultDisplayURL serves displays addressed by object id.
	DefaultDisplayURL = "https://display.nfinite.app"
)

// ParamNames are the oEmbed parameters read from attributes.
var ParamNames = []string{
	"autopause",
	"autoplay",
	"background",
	"byline",
	"color",
	"controls",
	"dnt",
	"height",
	"id",
	"loop",
	"maxheight",
	"maxwidth",
	"muted",
	"playsinline",
	"portrait",
	"responsive",
	"speed",
	"texttrack",
	"title",
	"transparent",
	"url",
	"width",
}

var objectID = regexp.MustCompile(`^[a-fA-F0-9]{24}$`)

// Params holds oEmbed parameters by name.
type Params map[string]string

// ParamsFromAttributes collects data-display-* attributes over defaults.
// defaults is not modified.
func ParamsFromAttributes(attrs map[string]string, defaults Params) Params {
	params := make(Params, len(defaults))
	for k, v := range defaults {
		params[k] = v
	}
	for _, name := range ParamNames {
		value, ok := attrs[AttributePrefix+name]
		if !ok {
			continue
		}
		if value == "" {
			value = "1"
		}
		params[name] = value
	}
	return params
}

func (p Params) ID() string  { return p["id"] }
func (p Params) URL() string { return p["url"] }

// Query encodes the parameters for an oEmbed request.
func (p Params) Query() url.Values {
	q := make(url.Values, len(p))
	for k, v := range p {
		q.Set(k, v)
	}
	return q
}

// IsObjectID reports whether s is a 24-digit hex display id.
func IsObjectID(s string) bool {
	return objectID.MatchString(s)
}

// DisplayURL resolves the display a set of parameters points at. An object id
// maps under base; a trusted URL is upgraded to https.
func DisplayURL(p Params, base string, policy *transport.OriginPolicy) (string, error) {
	ref := p.ID()
	if ref == "" {
		ref = p.URL()
	}
	if ref == "" {
		return "", protocol.Validation("display", "An id or url must be passed, either in an options object or as a data-display-id or data-display-url attribute.")
	}

	if IsObjectID(ref) {
		if base == "" {
			base = DefaultDisplayURL
		}
		return strings.TrimRight(base, "/") + "/v1/" + ref, nil
	}

	if policy != nil && policy.AllowURL(ref) {
		return strings.Replace(ref, "http:", "https:", 1), nil
	}

	if p.ID() != "" {
		return "", protocol.Validation("display", "“%s” is not a valid display id.", p.ID())
	}
	return "", protocol.Validation("display", "“%s” is not a display.nfinite.app url.", ref)
}
