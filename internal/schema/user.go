package schema

// Device is one entry of User.devices.
type Device struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	LastSeen     uint64 `json:"lastSeen"`
}

// User is the account record at path users/{localpart}.
type User struct {
	Localpart          string
	PasswordHash       string // "scheme:salt:hash"
	Devices            map[string]Device
	Profile            map[string]any
	Privileges         Privilege
	Deactivated        bool
	DeactivationReason string
	DeactivatedBy      string
}

// UserFromJSON parses a User from a decoded JSON tree.
func UserFromJSON(m map[string]any) (*User, error) {
	localpart, err := getRequiredString(m, "localpart")
	if err != nil {
		return nil, err
	}
	u := &User{
		Localpart:   localpart,
		Profile:     map[string]any{},
		Devices:     map[string]Device{},
		Deactivated: getBool(m, "deactivated", false),
	}
	u.PasswordHash, _ = getString(m, "passwordHash")
	u.DeactivationReason, _ = getString(m, "deactivationReason")
	u.DeactivatedBy, _ = getString(m, "deactivatedBy")

	if dm, ok := m["devices"].(map[string]any); ok {
		for id, v := range dm {
			vm, ok := v.(map[string]any)
			if !ok {
				continue
			}
			d := Device{LastSeen: getUint64(vm, "lastSeen", 0)}
			d.AccessToken, _ = getString(vm, "accessToken")
			d.RefreshToken, _ = getString(vm, "refreshToken")
			d.DisplayName, _ = getString(vm, "displayName")
			u.Devices[id] = d
		}
	}
	if pm, ok := m["profile"].(map[string]any); ok {
		u.Profile = pm
	}
	if pv, ok := m["privileges"].([]any); ok {
		names := make([]string, 0, len(pv))
		for _, v := range pv {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
		priv, err := DecodePrivileges(names)
		if err != nil {
			return nil, err
		}
		u.Privileges = priv
	}

	return u, nil
}

// ToJSON serializes u to a JSON tree.
func (u *User) ToJSON() map[string]any {
	devices := map[string]any{}
	for id, d := range u.Devices {
		dm := map[string]any{
			"accessToken": d.AccessToken,
			"lastSeen":    float64(d.LastSeen),
		}
		if d.RefreshToken != "" {
			dm["refreshToken"] = d.RefreshToken
		}
		if d.DisplayName != "" {
			dm["displayName"] = d.DisplayName
		}
		devices[id] = dm
	}

	privNames := EncodePrivileges(u.Privileges)
	privAny := make([]any, len(privNames))
	for i, n := range privNames {
		privAny[i] = n
	}

	m := map[string]any{
		"localpart":    u.Localpart,
		"passwordHash": u.PasswordHash,
		"devices":      devices,
		"profile":      u.Profile,
		"privileges":   privAny,
		"deactivated":  u.Deactivated,
	}
	if u.DeactivationReason != "" {
		m["deactivationReason"] = u.DeactivationReason
	}
	if u.DeactivatedBy != "" {
		m["deactivatedBy"] = u.DeactivatedBy
	}
	return m
}
