package services

import "github.com/nasvault/backend/internal/models"

// CanManage reports whether actor may act on resources owned by owner.
// Admins manage everything; everyone else only their own.
func CanManage(actor *models.User, owner string) bool {
	if actor == nil {
		return false
	}
	return actor.IsAdmin() || actor.Username == owner
}

// CanModerate reports whether actor may approve, reject or inspect
// other users' pending shares and accounts.
func CanModerate(actor *models.User) bool {
	return actor != nil && actor.IsAdmin()
}
