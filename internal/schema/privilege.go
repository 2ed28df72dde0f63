package schema

// Privilege is one bit of an account's privilege bitset.
type Privilege uint32

const (
	PrivNone             Privilege = 0
	PrivDeactivate       Privilege = 1 << 0
	PrivIssueToken       Privilege = 1 << 1
	PrivGrantPrivileges  Privilege = 1 << 2
	PrivProcControl      Privilege = 1 << 3
	PrivAlias            Privilege = 1 << 4
	PrivConfig           Privilege = 1 << 5
	// PrivAll is a virtual bit: it is never stored directly, but
	// DecodePrivileges("all") sets every other bit, and HasPrivilege
	// treats any set that equals the full mask as implying ALL.
	PrivAll Privilege = PrivDeactivate | PrivIssueToken | PrivGrantPrivileges | PrivProcControl | PrivAlias | PrivConfig
)

var privilegeNames = map[string]Privilege{
	"none":             PrivNone,
	"all":              PrivAll,
	"deactivate":       PrivDeactivate,
	"issue_token":      PrivIssueToken,
	"grant_privileges": PrivGrantPrivileges,
	"proc_control":     PrivProcControl,
	"alias":            PrivAlias,
	"config":           PrivConfig,
}

var privilegeOrder = []string{"deactivate", "issue_token", "grant_privileges", "proc_control", "alias", "config"}

// HasPrivilege reports whether set grants p, honoring ALL's implicit
// coverage of every other flag.
func HasPrivilege(set Privilege, p Privilege) bool {
	if set&PrivAll == PrivAll {
		return true
	}
	return set&p == p
}

// DecodePrivileges parses a sequence of string names into a bitset.
// Unknown names are a FieldError; "all" and "none" are handled specially.
func DecodePrivileges(names []string) (Privilege, error) {
	var set Privilege
	for _, n := range names {
		p, ok := privilegeNames[n]
		if !ok {
			return 0, &FieldError{Field: "privileges", Msg: "unknown privilege " + n}
		}
		if n == "none" {
			continue
		}
		set |= p
	}
	return set, nil
}

// EncodePrivileges serializes set back to its string-array JSON form. ALL
// is emitted as a single "all" entry rather than every constituent bit.
func EncodePrivileges(set Privilege) []string {
	if set&PrivAll == PrivAll {
		return []string{"all"}
	}
	if set == PrivNone {
		return []string{}
	}
	var out []string
	for _, n := range privilegeOrder {
		if set&privilegeNames[n] == privilegeNames[n] {
			out = append(out, n)
		}
	}
	return out
}
