// Package auth resolves who is on the other end of a signaling connection
// and whether they may enter a given room.
package auth

import (
	"errors"
	"fmt"

	"github.com/dkeye/Confer/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Session keys written by the tutoring site on login.
const (
	SessionUserID   = "user_id"
	SessionUsername = "username"
	SessionRole     = "role"
)

var ErrNoIdentity = errors.New("no identity in session")

// ParseRole maps the site's role names onto domain roles. The site calls
// teachers "admin".
func ParseRole(s string) domain.Role {
	switch s {
	case "teacher", "admin":
		return domain.RoleTeacher
	default:
		return domain.RoleStudent
	}
}

// SessionIdentity reads the verified user from the signed cookie session.
func SessionIdentity(c *gin.Context) (domain.User, error) {
	s := sessions.Default(c)
	id, _ := s.Get(SessionUserID).(string)
	if id == "" {
		return domain.User{}, ErrNoIdentity
	}
	name, _ := s.Get(SessionUsername).(string)
	role, _ := s.Get(SessionRole).(string)
	u, err := domain.NewUser(id, name, ParseRole(role))
	if err != nil {
		return domain.User{}, fmt.Errorf("session identity: %w", err)
	}
	return *u, nil
}

// Login stores u in the session. The tutoring site does the same on its side;
// this is used by tests and the dev login route.
func Login(c *gin.Context, u domain.User) error {
	s := sessions.Default(c)
	s.Set(SessionUserID, string(u.ID))
	s.Set(SessionUsername, u.Username)
	s.Set(SessionRole, string(u.Role))
	return s.Save()
}
