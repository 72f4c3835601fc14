package app

import (
	"context"
	"errors"
	"fmt"

	"roomchat/pkg/auth"
	"roomchat/pkg/domain"
)

const adminName = "Admin"

// JoinRoom admits name into a room and returns a participant session token.
// Private rooms require their password.
func (a *App) JoinRoom(ctx context.Context, roomID, name, password string) (string, domain.Session, error) {
	name = plainLabel(name, maxNameLen)
	if name == "" {
		return "", domain.Session{}, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	room, err := a.room(ctx, roomID)
	if err != nil {
		return "", domain.Session{}, err
	}
	if room.Private() && !auth.PasswordMatches(room.Password, password) {
		return "", domain.Session{}, ErrWrongPassword
	}
	sess := domain.Session{Name: name, Role: domain.RoleParticipant, RoomID: room.ID}
	token, err := a.sessions.Issue(sess)
	if err != nil {
		return "", domain.Session{}, err
	}
	a.log.Info("room joined", "room", room.ID, "name", name)
	return token, sess, nil
}

// LeaveRoom ends a session.
func (a *App) LeaveRoom(token string) error {
	return a.sessions.Revoke(token)
}

// AdminLogin compares password with the configured admin password.
func (a *App) AdminLogin(password string) (string, domain.Session, error) {
	if a.adminPassword == "" {
		return "", domain.Session{}, ErrAdminDisabled
	}
	if !auth.PasswordMatches(a.adminPassword, password) {
		a.log.Warn("admin login failed")
		return "", domain.Session{}, ErrWrongPassword
	}
	sess := domain.Session{Name: adminName, Role: domain.RoleAdmin}
	token, err := a.sessions.Issue(sess)
	if err != nil {
		return "", domain.Session{}, err
	}
	return token, sess, nil
}

// Authenticate resolves a session token.
func (a *App) Authenticate(token string) (domain.Session, error) {
	sess, err := a.sessions.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) || errors.Is(err, auth.ErrSessionRevoked) {
			return domain.Session{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return domain.Session{}, err
	}
	return sess, nil
}
