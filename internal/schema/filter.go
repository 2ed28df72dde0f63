package schema

// Filter is a client-supplied event filter. The server validates shape and
// stores it; applying filters to events is left to the room layer.
type Filter struct {
	EventFields []string       `json:"event_fields,omitempty"`
	EventFormat string         `json:"event_format,omitempty"`
	Presence    map[string]any `json:"presence,omitempty"`
	AccountData map[string]any `json:"account_data,omitempty"`
	Room        map[string]any `json:"room,omitempty"`
}

// FilterFromJSON validates the shape of a filter body: unknown top-level
// keys are ignored, but known keys must have the right JSON type.
func FilterFromJSON(m map[string]any) (*Filter, error) {
	f := &Filter{}
	if v, ok := m["event_format"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, wrongType("event_format")
		}
		if s != "client" && s != "federation" {
			return nil, &FieldError{Field: "event_format", Msg: "must be client or federation"}
		}
		f.EventFormat = s
	} else {
		f.EventFormat = "client"
	}
	if v, ok := m["event_fields"]; ok {
		arr, ok := v.([]any)
		if !ok {
			return nil, wrongType("event_fields")
		}
		for _, e := range arr {
			s, ok := e.(string)
			if !ok {
				return nil, wrongType("event_fields")
			}
			f.EventFields = append(f.EventFields, s)
		}
	}
	for _, key := range []string{"presence", "account_data", "room"} {
		if v, ok := m[key]; ok {
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, wrongType(key)
			}
			switch key {
			case "presence":
				f.Presence = obj
			case "account_data":
				f.AccountData = obj
			case "room":
				f.Room = obj
			}
		}
	}
	return f, nil
}

// ToJSON serializes f to a JSON tree.
func (f *Filter) ToJSON() map[string]any {
	m := map[string]any{}
	if f.EventFormat != "" {
		m["event_format"] = f.EventFormat
	}
	if len(f.EventFields) > 0 {
		fields := make([]any, len(f.EventFields))
		for i, s := range f.EventFields {
			fields[i] = s
		}
		m["event_fields"] = fields
	}
	if f.Presence != nil {
		m["presence"] = f.Presence
	}
	if f.AccountData != nil {
		m["account_data"] = f.AccountData
	}
	if f.Room != nil {
		m["room"] = f.Room
	}
	return m
}
