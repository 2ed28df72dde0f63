package handlers

import "github.com/matrixkeep/homeserver/internal/router"

// seg is a capturing single-path-segment pattern: segments never contain
// literal slashes once URL-decoded by net/http, so "any non-empty run of
// non-slash characters" captures one path component.
const seg = `([^/]+)`

// Routes builds the routing Tree wiring every Client-Server API endpoint
// onto d's handlers.
func (d *Deps) Routes() *router.Tree {
	t := router.New()

	t.Add("_matrix/client/versions", d.HandleVersions)
	t.Add("_matrix/client/v3/capabilities", d.HandleCapabilities)

	t.Add("_matrix/client/v3/login", d.HandleLogin)
	t.Add("_matrix/client/v3/logout", d.HandleLogout)
	t.Add("_matrix/client/v3/logout/all", d.HandleLogoutAll)
	t.Add("_matrix/client/v3/refresh", d.HandleRefresh)

	t.Add("_matrix/client/v3/register", d.HandleRegister)
	t.Add("_matrix/client/v1/register/m.login.registration_token/validity", d.HandleRegistrationTokenValidity)

	t.Add("_matrix/client/v3/account/password", d.HandleAccountPassword)
	t.Add("_matrix/client/v3/account/deactivate", d.HandleAccountDeactivate)
	t.Add("_matrix/client/v3/account/whoami", d.HandleWhoami)

	t.Add("_matrix/client/v3/profile/"+seg, d.HandleProfile)
	t.Add("_matrix/client/v3/profile/"+seg+"/"+seg, d.HandleProfileField)

	t.Add("_matrix/client/v3/user/"+seg+"/filter", d.HandleFilterCreate)
	t.Add("_matrix/client/v3/user/"+seg+"/filter/"+seg, d.HandleFilterGet)

	t.Add("_matrix/client/v3/createRoom", d.HandleCreateRoom)
	t.Add("_matrix/client/v3/directory/room/"+seg, d.HandleRoomAlias)
	t.Add("_matrix/client/v3/user_directory/search", d.HandleUserDirectorySearch)

	t.Add("_matrix/client/v3/admin/deactivate/"+seg, d.HandleAdminDeactivate)
	t.Add("_matrix/client/v3/admin/privileges", d.HandleAdminPrivilegesSelf)
	t.Add("_matrix/client/v3/admin/privileges/"+seg, d.HandleAdminPrivilegesOther)
	t.Add("_matrix/client/v3/admin/proc/"+seg, d.HandleAdminProc)

	t.Add(".well-known/matrix/client", d.HandleWellKnownClient)
	t.Add(".well-known/matrix/server", d.HandleWellKnownServer)

	t.Add("_matrix/static", d.HandleStatic)
	t.Add("_matrix/static/"+seg, d.HandleStatic)

	return t
}
