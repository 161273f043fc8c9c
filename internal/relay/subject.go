package relay

import (
	"strings"

	"github.com/SunshadeCorp/relay-service/internal/infrastructure/mqtt"
)

// SubjectKind is the parsed meaning of an inbound subject.
type SubjectKind int

const (
	SubjectSet SubjectKind = iota + 1
	SubjectStatus
	SubjectPrecharge
)

func (k SubjectKind) String() string {
	switch k {
	case SubjectSet:
		return mqtt.ActionSet
	case SubjectStatus:
		return mqtt.ActionStatus
	case SubjectPrecharge:
		return mqtt.LeafPerformPrecharge
	default:
		return "unknown"
	}
}

// Subject is a parsed inbound subject. Selector is empty for SubjectPrecharge.
type Subject struct {
	Kind     SubjectKind
	Selector string
}

// ParseSubject parses an inbound subject. ok is false for anything outside
// the grammar, including the service's own outbound subjects.
func ParseSubject(topic string) (Subject, bool) {
	rest, found := strings.CutPrefix(topic, mqtt.TopicPrefix+"/")
	if !found {
		return Subject{}, false
	}

	segments := strings.Split(rest, "/")
	switch len(segments) {
	case 1:
		if segments[0] == mqtt.LeafPerformPrecharge {
			return Subject{Kind: SubjectPrecharge}, true
		}
		return Subject{}, false

	case 2:
		selector, action := segments[0], segments[1]
		if selector == "" {
			return Subject{}, false
		}
		switch action {
		case mqtt.ActionSet:
			return Subject{Kind: SubjectSet, Selector: selector}, true
		case mqtt.ActionStatus:
			return Subject{Kind: SubjectStatus, Selector: selector}, true
		}
	}

	return Subject{}, false
}

// ParseCommand interprets a set payload. ok is false for anything other
// than on/off, compared case-insensitively after trimming whitespace.
func ParseCommand(payload []byte) (on bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case PayloadOn:
		return true, true
	case PayloadOff:
		return false, true
	default:
		return false, false
	}
}
