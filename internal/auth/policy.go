package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/Confer/internal/domain"
)

const DefaultRoomPrefix = "ZindakiRoom_"

var ErrForbidden = domain.ErrForbidden

// Enrollment answers whether a student attends any lesson of a teacher.
type Enrollment interface {
	IsEnrolled(ctx context.Context, teacher, student string) (bool, error)
}

// RoomPolicy admits a teacher to their own room and a student to the room of
// a teacher they study with. Room names are Prefix + teacher id.
type RoomPolicy struct {
	Prefix string
	Store  Enrollment
}

func (p RoomPolicy) prefix() string {
	if p.Prefix == "" {
		return DefaultRoomPrefix
	}
	return p.Prefix
}

// Teacher extracts the owning teacher from a room name.
func (p RoomPolicy) Teacher(room domain.RoomID) (string, bool) {
	t, ok := strings.CutPrefix(string(room), p.prefix())
	return t, ok && t != ""
}

// RoomFor returns the room name owned by teacher.
func (p RoomPolicy) RoomFor(teacher string) domain.RoomID {
	return domain.RoomID(p.prefix() + teacher)
}

func (p RoomPolicy) Authorize(ctx context.Context, user domain.User, room domain.RoomID) error {
	teacher, ok := p.Teacher(room)
	if !ok {
		return fmt.Errorf("%w: %q is not a lesson room", ErrForbidden, room)
	}
	if user.Role == domain.RoleTeacher {
		if string(user.ID) != teacher {
			return fmt.Errorf("%w: not your room", ErrForbidden)
		}
		return nil
	}
	if p.Store == nil {
		return fmt.Errorf("%w: no enrollment store", ErrForbidden)
	}
	enrolled, err := p.Store.IsEnrolled(ctx, teacher, string(user.ID))
	if err != nil {
		return fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return fmt.Errorf("%w: not enrolled with %s", ErrForbidden, teacher)
	}
	return nil
}
