// Package channel implements the Channel Manager described in spec.md §4.7:
// subscription bookkeeping, authorization, presence roster, and fan-out
// publish for WebSocket connections. Channels bypass the router entirely —
// subscribe/unsubscribe/publish frames are handled here directly. The
// membership/fan-out shape is adapted from the teacher's pub/sub Topic type
// (internal/broker/service.go: Topic.Subscribers, Topic.Messages), replacing
// its flat agent-connection fan-out with named, typed, pattern-matched
// channels and an authorization hook per spec.md §4.7's invariants.
package channel

import (
	"sort"
	"strings"
	"sync"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
)

// Kind is a channel's access semantic.
type Kind string

const (
	Public    Kind = "public"
	Private   Kind = "private"
	Presence  Kind = "presence"
)

// AuthorizeSubscribe decides whether a socket may join a channel. Returning
// an error denies the subscribe (spec.md §4.7: "the subscribe ack is only
// sent after authorization resolves").
type AuthorizeSubscribe func(ctx *envelope.Context, socketID, channelName string, params map[string]string) (presenceData map[string]any, err error)

// AuthorizePublish decides whether a socket may publish event on a channel.
// Runs for both a per-channel and an optional per-event hook, per spec.md
// §4.7's "both per-channel and per-event" publish-authorization.
type AuthorizePublish func(ctx *envelope.Context, socketID, channelName, event string, data any) error

// Definition describes one registered channel pattern (e.g. "room:{id}").
type Definition struct {
	Pattern   string
	Kind      Kind
	OnSub     AuthorizeSubscribe
	OnPub     AuthorizePublish
	EventAuth map[string]AuthorizePublish // optional per-event hook, run after OnPub
}

// Sender is how the manager pushes a frame to one socket; adapters supply
// this by closing over their websocket connection's writer.
type Sender func(socketID string, env *envelope.Envelope)

// Manager tracks every live channel instance (a concrete name matching some
// registered Definition's pattern) and its membership.
type Manager struct {
	send Sender

	defMu sync.RWMutex
	defs  []*Definition

	mu       sync.RWMutex
	channels map[string]*instance // concrete channel name -> live instance
	sockets  map[string]map[string]bool // socketID -> set of channel names it belongs to
}

type instance struct {
	name    string
	kind    Kind
	def     *Definition
	params  map[string]string
	mu      sync.RWMutex
	members map[string]bool
	// presence holds per-member presence data for Presence channels.
	presence map[string]any
}

// New builds an empty Manager. send is invoked to deliver a frame to a
// specific socket (the adapter owns the actual connection).
func New(send Sender) *Manager {
	return &Manager{
		send:     send,
		channels: make(map[string]*instance),
		sockets:  make(map[string]map[string]bool),
	}
}

// Register adds a channel pattern definition (e.g. "room:{id}", "files:{path*}").
func (m *Manager) Register(def *Definition) {
	m.defMu.Lock()
	defer m.defMu.Unlock()
	m.defs = append(m.defs, def)
}

// resolve matches a concrete channel name against every registered pattern,
// returning the first match and the extracted named parameters. Pattern
// grammar per spec.md §4.7: "{name}" matches one segment, "{name*}" matches
// the remainder, "{name?}" matches zero-or-one segment.
func (m *Manager) resolve(name string) (*Definition, map[string]string, bool) {
	m.defMu.RLock()
	defer m.defMu.RUnlock()
	for _, def := range m.defs {
		if params, ok := matchChannelPattern(def.Pattern, name); ok {
			return def, params, true
		}
	}
	return nil, nil, false
}

// Subscribe runs the channel's authorization callback and, on success, adds
// socketID to the channel's membership. Presence channels emit a synthetic
// presence:join to existing members and send the new member a roster
// snapshot (spec.md §4.7).
func (m *Manager) Subscribe(ctx *envelope.Context, socketID, channelName string) error {
	def, params, ok := m.resolve(channelName)
	if !ok {
		return errs.Newf(errs.NotFound, "no channel matches %q", channelName)
	}

	var presenceData map[string]any
	if def.OnSub != nil {
		var err error
		presenceData, err = def.OnSub(ctx, socketID, channelName, params)
		if err != nil {
			return errs.Newf(errs.PermissionDenied, "subscribe denied: %v", err)
		}
	}

	inst := m.getOrCreate(channelName, def, params)

	inst.mu.Lock()
	inst.members[socketID] = true
	if def.Kind == Presence {
		if inst.presence == nil {
			inst.presence = make(map[string]any)
		}
		inst.presence[socketID] = presenceData
	}
	snapshot := inst.rosterLocked()
	inst.mu.Unlock()

	m.trackSocket(socketID, channelName)

	if def.Kind == Presence {
		m.fanOutExcept(inst, socketID, channelName, "presence:join", map[string]any{"socketId": socketID, "data": presenceData})
		m.send(socketID, envelope.New(channelName, envelope.KindEvent, map[string]any{
			"channel": channelName, "event": "presence:roster", "data": snapshot,
		}))
	}
	return nil
}

// Unsubscribe removes socketID from channelName's membership, emitting
// presence:leave for presence channels.
func (m *Manager) Unsubscribe(socketID, channelName string) {
	m.mu.RLock()
	inst, ok := m.channels[channelName]
	m.mu.RUnlock()
	if !ok {
		return
	}

	inst.mu.Lock()
	delete(inst.members, socketID)
	if inst.presence != nil {
		delete(inst.presence, socketID)
	}
	inst.mu.Unlock()

	m.untrackSocket(socketID, channelName)

	if inst.kind == Presence {
		m.fanOutExcept(inst, socketID, channelName, "presence:leave", map[string]any{"socketId": socketID})
	}
}

// Publish runs the channel's (and, if present, the event's) publish
// authorization hook, then fans the message out to every member, leaving out
// the sender when excludeSender is set.
func (m *Manager) Publish(ctx *envelope.Context, socketID, channelName, event string, data any, excludeSender bool) error {
	m.mu.RLock()
	inst, ok := m.channels[channelName]
	m.mu.RUnlock()
	if !ok {
		return errs.Newf(errs.NotFound, "channel %q has no live subscribers", channelName)
	}

	if inst.def.OnPub != nil {
		if err := inst.def.OnPub(ctx, socketID, channelName, event, data); err != nil {
			return errs.Newf(errs.PermissionDenied, "publish denied: %v", err)
		}
	}
	if hook, ok := inst.def.EventAuth[event]; ok {
		if err := hook(ctx, socketID, channelName, event, data); err != nil {
			return errs.Newf(errs.PermissionDenied, "publish denied for event %q: %v", event, err)
		}
	}

	sender := ""
	if excludeSender {
		sender = socketID
	}
	m.fanOutExcept(inst, sender, channelName, event, data)
	return nil
}

// OnDisconnect removes socketID from every channel it belonged to.
func (m *Manager) OnDisconnect(socketID string) {
	m.mu.Lock()
	names := make([]string, 0, len(m.sockets[socketID]))
	for name := range m.sockets[socketID] {
		names = append(names, name)
	}
	delete(m.sockets, socketID)
	m.mu.Unlock()

	for _, name := range names {
		m.Unsubscribe(socketID, name)
	}
}

func (m *Manager) getOrCreate(name string, def *Definition, params map[string]string) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.channels[name]; ok {
		return inst
	}
	inst := &instance{name: name, kind: def.Kind, def: def, params: params, members: make(map[string]bool)}
	m.channels[name] = inst
	return inst
}

func (m *Manager) trackSocket(socketID, channelName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sockets[socketID]
	if !ok {
		set = make(map[string]bool)
		m.sockets[socketID] = set
	}
	set[channelName] = true
}

func (m *Manager) untrackSocket(socketID, channelName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sockets[socketID]; ok {
		delete(set, channelName)
	}
}

func (m *Manager) fanOutExcept(inst *instance, exclude, channelName, event string, data any) {
	inst.mu.RLock()
	members := make([]string, 0, len(inst.members))
	for id := range inst.members {
		if id != exclude {
			members = append(members, id)
		}
	}
	inst.mu.RUnlock()

	frame := envelope.New(channelName, envelope.KindEvent, map[string]any{
		"channel": channelName, "event": event, "data": data,
	})
	for _, id := range members {
		m.send(id, frame)
	}
}

// rosterLocked must be called with inst.mu held.
func (i *instance) rosterLocked() []map[string]any {
	ids := make([]string, 0, len(i.members))
	for id := range i.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]any{"socketId": id, "data": i.presence[id]})
	}
	return out
}

// matchChannelPattern implements the parameter grammar spec.md §4.7 describes
// for pattern-named channels such as "room:{id}": segments are split on ':'
// (the conventional channel-name separator), and a segment written as
// "{name}" binds one literal segment, "{name*}" binds the remainder of the
// name (must be the final pattern segment), and "{name?}" optionally binds
// zero-or-one segment.
func matchChannelPattern(pattern, name string) (map[string]string, bool) {
	return matchTokens(strings.Split(pattern, ":"), strings.Split(name, ":"))
}

func matchTokens(pattern, name []string) (map[string]string, bool) {
	params := make(map[string]string)
	pi, ni := 0, 0
	for pi < len(pattern) {
		seg := pattern[pi]
		key, star, opt := paramName(seg)
		switch {
		case star:
			params[key] = strings.Join(name[ni:], ":")
			return params, true
		case opt:
			if ni < len(name) {
				params[key] = name[ni]
				ni++
			}
			pi++
		case key != "":
			if ni >= len(name) {
				return nil, false
			}
			params[key] = name[ni]
			ni++
			pi++
		default:
			if ni >= len(name) || seg != name[ni] {
				return nil, false
			}
			ni++
			pi++
		}
	}
	if ni != len(name) {
		return nil, false
	}
	return params, true
}

// paramName reports whether seg is a "{name}"/"{name*}"/"{name?}" parameter
// token and, if so, returns its bare name and which variant it is.
func paramName(seg string) (name string, star, opt bool) {
	if len(seg) < 2 || seg[0] != '{' || seg[len(seg)-1] != '}' {
		return "", false, false
	}
	inner := seg[1 : len(seg)-1]
	switch {
	case strings.HasSuffix(inner, "*"):
		return inner[:len(inner)-1], true, false
	case strings.HasSuffix(inner, "?"):
		return inner[:len(inner)-1], false, true
	default:
		return inner, false, false
	}
}
