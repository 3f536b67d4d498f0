package nudge

import (
	"strings"
)

// Render substitutes {{name}} placeholders from the context and honors
// {{#if flag}}...{{/if}} boolean-gated blocks in a single left-to-right pass.
// Unknown placeholders render empty; an unclosed block is rendered as if it
// were closed at the end of input. Nothing is ever evaluated as an
// expression.
func Render(tmpl string, ctx map[string]string) string {
	var out strings.Builder
	out.Grow(len(tmpl))

	// Each stack entry records whether its block's content is emitted.
	emitStack := []bool{true}

	for i := 0; i < len(tmpl); {
		open := strings.Index(tmpl[i:], "{{")
		if open < 0 {
			if emitStack[len(emitStack)-1] {
				out.WriteString(tmpl[i:])
			}
			break
		}
		open += i
		if emitStack[len(emitStack)-1] {
			out.WriteString(tmpl[i:open])
		}

		end := strings.Index(tmpl[open:], "}}")
		if end < 0 {
			// Dangling braces are literal text.
			if emitStack[len(emitStack)-1] {
				out.WriteString(tmpl[open:])
			}
			break
		}
		end += open
		tag := strings.TrimSpace(tmpl[open+2 : end])
		i = end + 2

		switch {
		case strings.HasPrefix(tag, "#if "):
			flag := strings.TrimSpace(strings.TrimPrefix(tag, "#if "))
			parentEmits := emitStack[len(emitStack)-1]
			emitStack = append(emitStack, parentEmits && truthy(ctx[flag]))
		case tag == "/if":
			if len(emitStack) > 1 {
				emitStack = emitStack[:len(emitStack)-1]
			}
		default:
			if emitStack[len(emitStack)-1] {
				out.WriteString(ctx[tag])
			}
		}
	}
	return out.String()
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "", "false", "0", "no":
		return false
	}
	return true
}

// defaultTemplates are the per-type fallbacks used when the tenant's config
// carries no override.
var defaultSubjects = map[Type]string{
	PointsExpiring:   "Your {{expiring_points}} points expire soon",
	TierProgress:     "You're almost at {{next_tier}}",
	InactiveReminder: "We miss you, {{member_name}}",
	TradeInReminder:  "Time for another trade-in?",
}

var defaultBodies = map[Type]string{
	PointsExpiring: "Hi {{member_name}},\n\n" +
		"You have {{expiring_points}} points expiring in {{days_until_expiry}} days (on {{expires_at}}). " +
		"Redeem them before they're gone.",
	TierProgress: "Hi {{member_name}},\n\n" +
		"You're {{progress_percent}}% of the way from {{current_tier}} to {{next_tier}}. " +
		"Only {{points_needed}} points to go.",
	InactiveReminder: "Hi {{member_name}},\n\n" +
		"It's been {{days_inactive}} days since your last visit. " +
		"Your {{points_balance}} points are waiting for you." +
		"{{#if has_estimate}} You could have earned around ${{missed_opportunity}} in rewards value since then.{{/if}}",
	TradeInReminder: "Hi {{member_name}},\n\n" +
		"Your last trade-in was {{days_since_trade_in}} days ago on {{last_trade_in_date}}. " +
		"Bring in your next device and earn bonus points.",
}

// ResolveTemplate picks the tenant override when present, else the default
// for the type.
func ResolveTemplate(cfg *Config) (subject, body string) {
	subject = defaultSubjects[cfg.Type]
	body = defaultBodies[cfg.Type]
	if cfg.Subject != "" {
		subject = cfg.Subject
	}
	if cfg.Body != "" {
		body = cfg.Body
	}
	return subject, body
}
