package schema

// AccessToken is the document at tokens/access/{tokenString}.
type AccessToken struct {
	User        string `json:"user"`
	Device      string `json:"device"`
	Lifetime    uint64 `json:"lifetime,omitempty"`
	IssuedAt    uint64 `json:"issuedAt"`
	Refreshable bool   `json:"refreshable"`
}

// AccessTokenFromJSON parses an AccessToken from a decoded JSON tree.
func AccessTokenFromJSON(m map[string]any) (*AccessToken, error) {
	user, err := getRequiredString(m, "user")
	if err != nil {
		return nil, err
	}
	device, err := getRequiredString(m, "device")
	if err != nil {
		return nil, err
	}
	return &AccessToken{
		User:        user,
		Device:      device,
		Lifetime:    getUint64(m, "lifetime", 0),
		IssuedAt:    getUint64(m, "issuedAt", 0),
		Refreshable: getBool(m, "refreshable", false),
	}, nil
}

// ToJSON serializes t to a JSON tree.
func (t *AccessToken) ToJSON() map[string]any {
	m := map[string]any{
		"user":        t.User,
		"device":      t.Device,
		"issuedAt":    float64(t.IssuedAt),
		"refreshable": t.Refreshable,
	}
	if t.Lifetime != 0 {
		m["lifetime"] = float64(t.Lifetime)
	}
	return m
}

// Expired reports whether t has a lifetime and it has elapsed as of nowMs.
func (t *AccessToken) Expired(nowMs uint64) bool {
	if t.Lifetime == 0 {
		return false
	}
	return nowMs >= t.IssuedAt+t.Lifetime
}

// RefreshToken is the document at tokens/refresh/{tokenString}.
type RefreshToken struct {
	Refreshes string `json:"refreshes"`
}

// RefreshTokenFromJSON parses a RefreshToken from a decoded JSON tree.
func RefreshTokenFromJSON(m map[string]any) (*RefreshToken, error) {
	refreshes, err := getRequiredString(m, "refreshes")
	if err != nil {
		return nil, err
	}
	return &RefreshToken{Refreshes: refreshes}, nil
}

// ToJSON serializes t to a JSON tree.
func (t *RefreshToken) ToJSON() map[string]any {
	return map[string]any{"refreshes": t.Refreshes}
}

// RegistrationToken is the document at tokens/registration/{name}.
type RegistrationToken struct {
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedOn uint64    `json:"createdOn"`
	ExpiresOn uint64    `json:"expiresOn"` // 0 = never
	Uses      int64     `json:"uses"`      // -1 = unbounded
	Used      int64     `json:"used"`
	Grants    Privilege `json:"-"`
}

// RegistrationTokenFromJSON parses a RegistrationToken from a decoded JSON tree.
func RegistrationTokenFromJSON(m map[string]any) (*RegistrationToken, error) {
	name, err := getRequiredString(m, "name")
	if err != nil {
		return nil, err
	}
	createdBy, _ := getString(m, "createdBy")
	t := &RegistrationToken{
		Name:      name,
		CreatedBy: createdBy,
		CreatedOn: getUint64(m, "createdOn", 0),
		ExpiresOn: getUint64(m, "expiresOn", 0),
		Uses:      -1,
		Used:      0,
	}
	if v, ok := m["uses"].(float64); ok {
		t.Uses = int64(v)
	}
	if v, ok := m["used"].(float64); ok {
		t.Used = int64(v)
	}
	if pv, ok := m["grants"].([]any); ok {
		names := make([]string, 0, len(pv))
		for _, v := range pv {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
		g, err := DecodePrivileges(names)
		if err != nil {
			return nil, err
		}
		t.Grants = g
	}
	return t, nil
}

// ToJSON serializes t to a JSON tree.
func (t *RegistrationToken) ToJSON() map[string]any {
	grantNames := EncodePrivileges(t.Grants)
	grantAny := make([]any, len(grantNames))
	for i, n := range grantNames {
		grantAny[i] = n
	}
	return map[string]any{
		"name":      t.Name,
		"createdBy": t.CreatedBy,
		"createdOn": float64(t.CreatedOn),
		"expiresOn": float64(t.ExpiresOn),
		"uses":      float64(t.Uses),
		"used":      float64(t.Used),
		"grants":    grantAny,
	}
}

// Valid reports whether t may still be used to register:
// (expiresOn==0 ∨ now<expiresOn) ∧ (uses==-1 ∨ used<uses).
func (t *RegistrationToken) Valid(nowMs uint64) bool {
	notExpired := t.ExpiresOn == 0 || nowMs < t.ExpiresOn
	hasUses := t.Uses == -1 || t.Used < t.Uses
	return notExpired && hasUses
}
