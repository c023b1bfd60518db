package model

// EntityKind identifies which replicated record type a payload or notification carries.
type EntityKind string

const (
	EntityKindComment EntityKind = "comment"
	EntityKindChat    EntityKind = "chat"
)

// TopicFamily groups gossip topics by the record type they carry.
type TopicFamily string

const (
	TopicFamilyComment TopicFamily = "reviewmesh"
	TopicFamilyChat    TopicFamily = "chatmesh"
)

// MeshEventKind distinguishes inbound transport events.
type MeshEventKind string

const (
	MeshEventMessage    MeshEventKind = "message"
	MeshEventPeerJoined MeshEventKind = "peer_joined"
	MeshEventPeerLeft   MeshEventKind = "peer_left"
)
