package schema

// RoomCreate is the validated shape of a POST /createRoom body.
type RoomCreate struct {
	Name       string `json:"name,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Visibility string `json:"visibility,omitempty"` // "public" | "private"
	Preset     string `json:"preset,omitempty"`
	RoomAlias  string `json:"room_alias_name,omitempty"`
}

// RoomCreateFromJSON validates the shape of a createRoom request body.
func RoomCreateFromJSON(m map[string]any) (*RoomCreate, error) {
	rc := &RoomCreate{Visibility: "private"}
	if v, ok := m["name"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, wrongType("name")
		}
		rc.Name = s
	}
	if v, ok := m["topic"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, wrongType("topic")
		}
		rc.Topic = s
	}
	if v, ok := m["visibility"]; ok {
		s, ok := v.(string)
		if !ok || (s != "public" && s != "private") {
			return nil, &FieldError{Field: "visibility", Msg: "must be public or private"}
		}
		rc.Visibility = s
	}
	if v, ok := m["preset"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, wrongType("preset")
		}
		rc.Preset = s
	}
	if v, ok := m["room_alias_name"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, wrongType("room_alias_name")
		}
		rc.RoomAlias = s
	}
	return rc, nil
}

// UserDirectoryRequest is the validated shape of a /user_directory/search
// request body. Only the shape is checked; directory search itself is not
// implemented here.
type UserDirectoryRequest struct {
	SearchTerm string `json:"search_term"`
	Limit      int    `json:"limit"`
}

// UserDirectoryRequestFromJSON validates the shape of a directory search body.
func UserDirectoryRequestFromJSON(m map[string]any) (*UserDirectoryRequest, error) {
	term, err := getRequiredString(m, "search_term")
	if err != nil {
		return nil, err
	}
	limit := 10
	if v, ok := m["limit"]; ok {
		f, ok := v.(float64)
		if !ok {
			return nil, wrongType("limit")
		}
		limit = int(f)
	}
	return &UserDirectoryRequest{SearchTerm: term, Limit: limit}, nil
}
