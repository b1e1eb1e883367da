package domain

import "strings"

// The tag string is the wire protocol of the bus. Its grammar:
//
//	agent:<name>:<type>[:<qualifier>]*
//	agent:<name>:routed_from:<strand_id>:<reason>
//	agent:<name>:<action>:from:<sender>
//	response:<type>:to:<message_id>
//	<bare_marker>            (e.g. pattern_detected)
//
// Tags are parsed once at the boundary into an Address; internal logic
// never re-parses strings.

// AddressKind discriminates the parsed tag forms.
type AddressKind string

const (
	KindAgent    AddressKind = "agent"
	KindResponse AddressKind = "response"
	KindMarker   AddressKind = "marker"
)

// Address is the structured form of one tag string.
type Address struct {
	Kind       AddressKind
	Target     string   // agent name for KindAgent
	Action     string   // message/action type, or the marker itself
	From       string   // sender from a :from:<sender> qualifier
	RoutedFrom string   // source strand ID for routed tags
	ResponseTo string   // original message ID for response tags
	Qualifiers []string // remaining unclassified segments
}

// ParseTag parses a single tag string. It never fails: unrecognized
// shapes degrade to KindMarker with the whole tag as Action.
func ParseTag(tag string) Address {
	segs := strings.Split(tag, ":")

	switch segs[0] {
	case "agent":
		if len(segs) < 2 {
			break
		}
		addr := Address{Kind: KindAgent, Target: segs[1]}
		rest := segs[2:]
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case "routed_from":
				if i+1 < len(rest) {
					addr.RoutedFrom = rest[i+1]
					i++
				}
			case "from":
				if i+1 < len(rest) {
					addr.From = rest[i+1]
					i++
				}
			default:
				if addr.Action == "" {
					addr.Action = rest[i]
				} else {
					addr.Qualifiers = append(addr.Qualifiers, rest[i])
				}
			}
		}
		return addr

	case "response":
		if len(segs) >= 4 && segs[2] == "to" {
			return Address{
				Kind:       KindResponse,
				Action:     segs[1],
				ResponseTo: strings.Join(segs[3:], ":"),
			}
		}
	}

	return Address{Kind: KindMarker, Action: tag}
}

// AgentTag builds the standard publish tag agent:<name>:<type>.
func AgentTag(name, typ string) string {
	return "agent:" + name + ":" + typ
}

// DirectTag builds a direct-addressing tag
// agent:<target>:<action>:from:<sender>.
func DirectTag(target, action, sender string) string {
	return "agent:" + target + ":" + action + ":from:" + sender
}

// RoutedTag builds the tag the router writes on a routed strand:
// agent:<target>:routed_from:<sourceID>:<reason>.
func RoutedTag(target, sourceID, reason string) string {
	return "agent:" + target + ":routed_from:" + sourceID + ":" + reason
}

// ResponseTag builds a response tag response:<type>:to:<messageID>.
func ResponseTag(typ, messageID string) string {
	return "response:" + typ + ":to:" + messageID
}

// AgentTagPrefix is the LIKE prefix matching every tag addressed to an
// agent, routed or direct.
func AgentTagPrefix(name string) string {
	return "agent:" + name + ":%"
}

// ResponseTagPattern is the LIKE pattern matching every response tag.
const ResponseTagPattern = "response:%:to:%"

// IsRouted reports whether the tags mark a strand as already routed.
// Routed strands are never re-routed.
func IsRouted(tags string) bool {
	return strings.Contains(tags, "routed_from")
}

// HasMarker reports whether the tags contain the given marker as a
// substring. Marker matching is deliberately loose — any component that
// can write a recognizable substring joins the bus.
func HasMarker(tags, marker string) bool {
	return strings.Contains(tags, marker)
}
