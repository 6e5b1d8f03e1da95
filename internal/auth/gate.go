package auth

import "github.com/hitoshi/fitclub/internal/model"

// Authorize はPrincipalが要求ロールを満たすかを判定する。
// admin は user の操作もすべて行える。
func Authorize(p *Principal, required model.Role) error {
	if p == nil {
		return ErrMissingCredential
	}
	if required == model.RoleUser && p.Role.Valid() {
		return nil
	}
	if p.Role == required {
		return nil
	}
	return ErrInsufficientRole
}
