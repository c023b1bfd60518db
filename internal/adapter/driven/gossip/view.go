package gossip

import (
	"maps"
	"slices"
)

// view is the membership view: for every topic, the set of peers that have
// joined it on both ends. It is owned by the transport's run loop.
type view struct {
	topics map[string]map[string]struct{}
}

func newView() *view {
	return &view{topics: make(map[string]map[string]struct{})}
}

// add records peerID as a member of topic and reports whether it was new.
func (v *view) add(topic, peerID string) bool {
	members, ok := v.topics[topic]
	if !ok {
		members = make(map[string]struct{})
		v.topics[topic] = members
	}
	if _, exists := members[peerID]; exists {
		return false
	}
	members[peerID] = struct{}{}
	return true
}

// removePeer drops peerID from every topic and returns the topics it left.
func (v *view) removePeer(peerID string) []string {
	var left []string
	for topic, members := range v.topics {
		if _, ok := members[peerID]; !ok {
			continue
		}
		delete(members, peerID)
		left = append(left, topic)
		if len(members) == 0 {
			delete(v.topics, topic)
		}
	}
	slices.Sort(left)
	return left
}

// members returns the peers subscribed to topic in sorted order.
func (v *view) members(topic string) []string {
	return slices.Sorted(maps.Keys(v.topics[topic]))
}
