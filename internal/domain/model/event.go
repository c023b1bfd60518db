package model

import (
	"strings"
	"time"
)

// QueuedEvent is an outbound gossip payload awaiting confirmation that the
// transport accepted it.
type QueuedEvent struct {
	Sequence     int64
	Topic        string
	Payload      []byte
	EnqueuedAt   time.Time
	Acknowledged bool
}

// MeshEvent is a single item yielded by the gossip transport: either an
// inbound message or a change in peer membership.
type MeshEvent struct {
	Kind    MeshEventKind
	Topic   string
	Payload []byte
	PeerID  string
}

// Topic returns the gossip topic for a record family within a session.
func Topic(family TopicFamily, sessionID string) string {
	return string(family) + "-" + sessionID
}

// CommentTopic returns the topic carrying comment events for a session.
func CommentTopic(sessionID string) string {
	return Topic(TopicFamilyComment, sessionID)
}

// ChatTopic returns the topic carrying chat events for a session.
func ChatTopic(sessionID string) string {
	return Topic(TopicFamilyChat, sessionID)
}

// ParseTopic splits a topic into its family and session ID. ok is false for
// topics outside the known families or without a session ID.
func ParseTopic(topic string) (family TopicFamily, sessionID string, ok bool) {
	for _, f := range []TopicFamily{TopicFamilyComment, TopicFamilyChat} {
		if rest, found := strings.CutPrefix(topic, string(f)+"-"); found && rest != "" {
			return f, rest, true
		}
	}
	return "", "", false
}
