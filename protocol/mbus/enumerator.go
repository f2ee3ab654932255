package mbus

import (
	"bytes"
	"fmt"

	"github.com/managarm/hel"
)

// EventType classifies an EnumerationEvent.
type EventType int

const (
	Created EventType = iota
	Removed
	PropertiesChanged
)

func (t EventType) String() string {
	switch t {
	case Created:
		return "created"
	case Removed:
		return "removed"
	case PropertiesChanged:
		return "properties-changed"
	default:
		return "unknown"
	}
}

// Entity is a handle-free reference to a bus entity by ID, mirroring
// Entity::from_id in the ported source.
type Entity struct {
	ID int64
}

// EnumerationEvent reports a change to one entity matched by an
// Enumerator's filter.
type EnumerationEvent struct {
	EventType  EventType
	EntityID   int64
	Name       string
	Properties map[string]Item
}

// Entity returns a reference to the entity this event concerns.
func (ev EnumerationEvent) Entity() Entity {
	return Entity{ID: ev.EntityID}
}

// Enumerator tracks one filtered subscription to mbus entity changes
// across repeated NextEvents calls, mirroring the ported source's
// Enumerator: the sequence cursor tells the remote side how much of
// the matching set the caller has already seen, and seenIDs
// distinguishes a first sighting (Created) from a later one
// (PropertiesChanged).
type Enumerator struct {
	filterBytes []byte
	currentSeq  uint64
	seenIDs     map[int64]bool
}

// NewEnumerator creates an Enumerator matching entities against
// filter.
func NewEnumerator(filter Filter) *Enumerator {
	var buf bytes.Buffer
	filter.encode(&buf)
	return &Enumerator{filterBytes: buf.Bytes(), seenIDs: make(map[int64]bool)}
}

func encodeEnumerateRequest(seq uint64, filterBytes []byte) []byte {
	var buf bytes.Buffer
	putUint64(&buf, seq)
	buf.Write(filterBytes)
	return buf.Bytes()
}

// NextEvents offers a conversation lane, submits the enumerate request
// for the filter given at construction, and decodes whatever entity
// events the response carries. The returned bool reports whether the
// remote side has more events pending beyond this batch (its out
// sequence had not yet caught up with the actual sequence).
func (en *Enumerator) NextEvents(e *hel.Executor, mbusLane hel.Handle) (bool, []EnumerationEvent, error) {
	request := encodeEnumerateRequest(en.currentSeq, en.filterBytes)
	action := hel.Offer{WantLane: true, Action: hel.Actions(hel.SendBuffer{Data: request}, hel.ReceiveInline{})}

	raw, err := hel.BlockOn(e, hel.SubmitAsync(e, mbusLane, action))
	if err != nil {
		return false, nil, err
	}

	pair, ok := raw.([2]any)
	if !ok {
		return false, nil, fmt.Errorf("mbus: unexpected offer result shape %T", raw)
	}
	inner, ok := pair[1].([]any)
	if !ok || len(inner) != 2 {
		return false, nil, fmt.Errorf("mbus: unexpected offer chain shape %T", pair[1])
	}
	inline, ok := inner[1].(hel.InlineResult)
	if !ok {
		return false, nil, fmt.Errorf("mbus: unexpected receive result shape %T", inner[1])
	}

	outSeq, actualSeq, entities, err := decodeEnumerateResponse(inline.Payload)
	if err != nil {
		return false, nil, err
	}
	en.currentSeq = outSeq

	events := make([]EnumerationEvent, 0, len(entities))
	for _, ent := range entities {
		eventType := PropertiesChanged
		if !en.seenIDs[ent.id] {
			eventType = Created
			en.seenIDs[ent.id] = true
		}
		events = append(events, EnumerationEvent{
			EventType:  eventType,
			EntityID:   ent.id,
			Name:       ent.name,
			Properties: ent.properties,
		})
	}

	return outSeq != actualSeq, events, nil
}

type decodedEntity struct {
	id         int64
	name       string
	properties map[string]Item
}

func decodeEnumerateResponse(payload []byte) (outSeq, actualSeq uint64, entities []decodedEntity, err error) {
	r := bytes.NewReader(payload)
	if outSeq, err = getUint64(r); err != nil {
		return 0, 0, nil, err
	}
	if actualSeq, err = getUint64(r); err != nil {
		return 0, 0, nil, err
	}
	count, err := getUint32(r)
	if err != nil {
		return 0, 0, nil, err
	}

	entities = make([]decodedEntity, count)
	for i := range entities {
		id, err := getUint64(r)
		if err != nil {
			return 0, 0, nil, err
		}
		name, err := getString(r)
		if err != nil {
			return 0, 0, nil, err
		}
		propCount, err := getUint32(r)
		if err != nil {
			return 0, 0, nil, err
		}
		properties := make(map[string]Item, propCount)
		for j := uint32(0); j < propCount; j++ {
			propName, err := getString(r)
			if err != nil {
				return 0, 0, nil, err
			}
			item, err := decodeItem(r)
			if err != nil {
				return 0, 0, nil, err
			}
			properties[propName] = item
		}
		entities[i] = decodedEntity{id: int64(id), name: name, properties: properties}
	}
	return outSeq, actualSeq, entities, nil
}
