package app

import (
	"context"

	"roomchat/pkg/domain"
	"roomchat/pkg/setup"
)

// SetupCloud parses pasted configuration, tests the connection and moves room
// storage to the cloud. confirm decides whether a derived databaseURL may be
// used; nil declines.
func (a *App) SetupCloud(ctx context.Context, sess domain.Session, text string, confirm setup.Confirmer) (domain.Credentials, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Credentials{}, err
	}
	flow := setup.Flow{
		Confirm: confirm,
		Probe:   a.probe,
		Apply:   a.rooms,
		Logger:  a.log,
	}
	return flow.Run(ctx, text)
}

// DisconnectCloud forgets the cloud credentials and returns to local storage.
func (a *App) DisconnectCloud(ctx context.Context, sess domain.Session) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	if err := a.rooms.Disconnect(ctx); err != nil {
		return err
	}
	a.log.Info("cloud storage disconnected")
	return nil
}
