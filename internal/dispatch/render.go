package dispatch

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/anonto42/nano-midea/pulse/internal/models"
	"github.com/microcosm-cc/bluemonday"
)

const (
	excerptRunes = 80
	unknownActor = "Someone"
)

// Renderer turns an event into the human-readable notification message.
// All user-provided text is reduced to plain text before it lands in a message.
type Renderer struct {
	policy *bluemonday.Policy
}

func NewRenderer() *Renderer {
	return &Renderer{policy: bluemonday.StrictPolicy()}
}

// Message returns the event's explicit message if it has one, otherwise the template for its kind
func (r *Renderer) Message(evt models.Event, actorName string) string {
	if evt.Message != "" {
		return r.plain(evt.Message)
	}

	name := r.plain(actorName)
	if name == "" {
		name = unknownActor
	}

	switch evt.Kind {
	case models.KindLike:
		return name + " liked your post"
	case models.KindComment:
		content, _ := evt.Data["content"].(string)
		if excerpt := r.Excerpt(content); excerpt != "" {
			return fmt.Sprintf("%s commented on your post: %q", name, excerpt)
		}
		return name + " commented on your post"
	case models.KindFollow:
		return name + " started following you"
	}
	return ""
}

// Excerpt strips markup and cuts s to a short single-line preview
func (r *Renderer) Excerpt(s string) string {
	s = strings.Join(strings.Fields(r.plain(s)), " ")
	if utf8.RuneCountInString(s) <= excerptRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:excerptRunes])) + "..."
}

func (r *Renderer) plain(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(s)))
}
