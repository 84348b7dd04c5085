package stripe

import (
	"encoding/json"
	"fmt"
)

// Event is the inbound webhook envelope. The nested object differs per event
// type, so it stays an untyped map and is picked apart by the normalizer.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object map[string]interface{} `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook body into an Event.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	return &ev, nil
}

// Object returns the event's data.object map (never nil).
func (e *Event) Object() map[string]interface{} {
	if e.Data.Object == nil {
		return map[string]interface{}{}
	}
	return e.Data.Object
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func subMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]interface{})
	return sub
}

// numberField reads a JSON number. encoding/json decodes all numbers in an
// untyped map as float64; integers that arrived as strings are not accepted.
func numberField(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch n := m[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
