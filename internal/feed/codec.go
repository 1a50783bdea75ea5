package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

// Decode parses a {"type","new","old"} payload as emitted by the bookmarks
// trigger. Row-carrying events without the row they need are rejected.
func Decode(payload []byte) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}

	ev.Kind = domain.EventKind(strings.ToUpper(string(ev.Kind)))
	if !ev.Kind.Valid() {
		return domain.ChangeEvent{}, fmt.Errorf("decode change event: unknown type %q", ev.Kind)
	}
	if ev.Kind == domain.EventResync {
		return domain.ChangeEvent{Kind: domain.EventResync}, nil
	}

	row := ev.Row()
	if row == nil || row.ID == "" {
		return domain.ChangeEvent{}, fmt.Errorf("decode change event: %s without row id", ev.Kind)
	}
	return ev, nil
}

// Encode is the inverse of Decode.
func Encode(ev domain.ChangeEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode change event: %w", err)
	}
	return data, nil
}

func resyncPayload() []byte {
	return []byte(`{"type":"RESYNC"}`)
}
