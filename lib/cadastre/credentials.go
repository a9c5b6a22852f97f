package cadastre

import (
	"errors"
	"log/slog"
)

var ErrMissingCredentials = errors.New("missing credentials")

// Credential is one username/password pair for an authentication realm.
type Credential struct {
	Username string
	Password string
}

// LogValue keeps the password out of every log line.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Bool("password_set", c.Password != ""),
	)
}

// Credentials holds both realms used during a run: SIATU (also accepted by
// the project and cadastral mapping portals) and SIGEDE (protocol tracking).
// It only ever lives in memory.
type Credentials struct {
	Siatu  Credential
	Sigede Credential
}

// Validate checks the SIATU realm and, when protocols have to be resolved,
// the SIGEDE realm too.
func (c Credentials) Validate(requireSigede bool) error {
	if c.Siatu.Username == "" || c.Siatu.Password == "" {
		return errors.Join(ErrMissingCredentials, errors.New("siatu username and password are required"))
	}
	if requireSigede && (c.Sigede.Username == "" || c.Sigede.Password == "") {
		return errors.Join(ErrMissingCredentials, errors.New("sigede username and password are required"))
	}
	return nil
}
