package user

import (
	"fmt"

	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/token"
)

// DeleteTokens revokes every device's access and paired refresh token,
// optionally keeping exceptAccessToken (the password-change flow passes the
// caller's own token to keep that session alive). u's device map is
// updated in place; the caller still owns persisting u via Unlock.
func DeleteTokens(toks *token.Subsystem, u *schema.User, exceptAccessToken string) error {
	for deviceID, d := range u.Devices {
		if d.AccessToken == exceptAccessToken {
			continue
		}
		if d.RefreshToken != "" {
			if err := toks.RevokeRefresh(d.RefreshToken); err != nil {
				return fmt.Errorf("user: revoke refresh token for device %s: %w", deviceID, err)
			}
		}
		if d.AccessToken != "" {
			if err := toks.Revoke(d.AccessToken); err != nil {
				return fmt.Errorf("user: revoke access token for device %s: %w", deviceID, err)
			}
		}
		delete(u.Devices, deviceID)
	}
	return nil
}
