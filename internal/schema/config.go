// Package schema implements the bidirectional JSON <-> domain-record
// mapping for the object store's documents: FromJSON(tree) -> (record, err)
// and ToJSON(record) -> tree, with unknown fields ignored on parse and
// missing required fields producing a field-pointing error.
//
// Parsing works against map[string]any trees rather than struct tags
// because the object store hands back untyped JSON, not raw bytes to
// unmarshal into a struct per document.
package schema

import "fmt"

// FieldError points at the offending field of a malformed record.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func missing(field string) error {
	return &FieldError{Field: field, Msg: "missing required field"}
}

func wrongType(field string) error {
	return &FieldError{Field: field, Msg: "wrong type"}
}

func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getRequiredString(m map[string]any, key string) (string, error) {
	s, ok := getString(m, key)
	if !ok {
		if _, present := m[key]; present {
			return "", wrongType(key)
		}
		return "", missing(key)
	}
	return s, nil
}

func getUint64(m map[string]any, key string, def uint64) uint64 {
	v, ok := m[key]
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return uint64(f)
}

func getUint32(m map[string]any, key string, def uint32) uint32 {
	return uint32(getUint64(m, key, uint64(def)))
}

func getBool(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// ListenerTLS is Config.listen[i].tls.
type ListenerTLS struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// Listener is one entry of Config.listen.
type Listener struct {
	Port           uint16 `json:"port"`
	Threads        uint32 `json:"threads"`
	MaxConnections uint32 `json:"maxConnections"`
	TLS            *ListenerTLS `json:"tls,omitempty"`
}

// LogConfig is Config.log.
type LogConfig struct {
	Output          string `json:"output"`
	Level           string `json:"level"`
	TimestampFormat string `json:"timestampFormat"`
}

// RunAs is Config.runAs.
type RunAs struct {
	UID string `json:"uid"`
	GID string `json:"gid"`
}

// Config is the server-wide settings document at path `config`.
type Config struct {
	ServerName     string     `json:"serverName"`
	BaseURL        string     `json:"baseUrl"`
	IdentityServer string     `json:"identityServer,omitempty"`
	Listen         []Listener `json:"listen"`
	Log            LogConfig  `json:"log"`
	RunAs          RunAs      `json:"runAs"`
	Registration   bool       `json:"registration"`
	Federation     bool       `json:"federation"`
	MaxCache       uint64     `json:"maxCache"`
}

// ConfigFromJSON parses a Config from a decoded JSON tree.
func ConfigFromJSON(m map[string]any) (*Config, error) {
	serverName, err := getRequiredString(m, "serverName")
	if err != nil {
		return nil, err
	}
	if serverName == "" {
		return nil, &FieldError{Field: "serverName", Msg: "must not be empty"}
	}

	cfg := &Config{
		ServerName: serverName,
		Registration: getBool(m, "registration", false),
		Federation:   getBool(m, "federation", true),
		MaxCache:     getUint64(m, "maxCache", 0),
	}

	cfg.BaseURL, _ = getString(m, "baseUrl")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://" + serverName + "/"
	}
	cfg.IdentityServer, _ = getString(m, "identityServer")

	if raw, ok := m["listen"].([]any); ok {
		for _, lv := range raw {
			lm, ok := lv.(map[string]any)
			if !ok {
				continue
			}
			l := Listener{
				Port:           uint16(getUint64(lm, "port", 8008)),
				Threads:        getUint32(lm, "threads", 4),
				MaxConnections: getUint32(lm, "maxConnections", 32),
			}
			if tm, ok := lm["tls"].(map[string]any); ok {
				cert, _ := getString(tm, "cert")
				key, _ := getString(tm, "key")
				l.TLS = &ListenerTLS{Cert: cert, Key: key}
			}
			cfg.Listen = append(cfg.Listen, l)
		}
	}
	if len(cfg.Listen) == 0 {
		cfg.Listen = []Listener{{Port: 8008, Threads: 4, MaxConnections: 32}}
	}

	cfg.Log = LogConfig{Output: "stdout", Level: "notice", TimestampFormat: "default"}
	if lm, ok := m["log"].(map[string]any); ok {
		if v, ok := getString(lm, "output"); ok {
			cfg.Log.Output = v
		}
		if v, ok := getString(lm, "level"); ok {
			cfg.Log.Level = v
		}
		if v, ok := getString(lm, "timestampFormat"); ok {
			cfg.Log.TimestampFormat = v
		}
	}

	cfg.RunAs = RunAs{}
	if rm, ok := m["runAs"].(map[string]any); ok {
		cfg.RunAs.UID, _ = getString(rm, "uid")
		cfg.RunAs.GID, _ = getString(rm, "gid")
	}

	return cfg, nil
}

// ToJSON serializes cfg to a JSON tree, the inverse of ConfigFromJSON.
func (c *Config) ToJSON() map[string]any {
	listen := make([]any, 0, len(c.Listen))
	for _, l := range c.Listen {
		lm := map[string]any{
			"port":           float64(l.Port),
			"threads":        float64(l.Threads),
			"maxConnections": float64(l.MaxConnections),
		}
		if l.TLS != nil {
			lm["tls"] = map[string]any{"cert": l.TLS.Cert, "key": l.TLS.Key}
		}
		listen = append(listen, lm)
	}

	m := map[string]any{
		"serverName":   c.ServerName,
		"baseUrl":      c.BaseURL,
		"listen":       listen,
		"registration": c.Registration,
		"federation":   c.Federation,
		"maxCache":     float64(c.MaxCache),
		"log": map[string]any{
			"output":          c.Log.Output,
			"level":           c.Log.Level,
			"timestampFormat": c.Log.TimestampFormat,
		},
		"runAs": map[string]any{
			"uid": c.RunAs.UID,
			"gid": c.RunAs.GID,
		},
	}
	if c.IdentityServer != "" {
		m["identityServer"] = c.IdentityServer
	}
	return m
}
