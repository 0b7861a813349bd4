package model

import (
	"fmt"
	"regexp"
	"strings"
)

// usernamePattern keeps account names safe to splice into device command lines.
var usernamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]{0,31}$`)

// Credential is a username/password pair. String never includes the password.
type Credential struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

func (c Credential) String() string {
	return c.Username + ":<redacted>"
}

// Validate checks that both halves are present and the username is command-safe.
func (c Credential) Validate() error {
	if c.Username == "" {
		return ErrMissingUsername
	}

	if !usernamePattern.MatchString(c.Username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, c.Username)
	}

	if c.Password == "" {
		return fmt.Errorf("%w for %s", ErrMissingPassword, c.Username)
	}

	// Passwords travel as single stdin lines and CLI arguments.
	if strings.ContainsAny(c.Password, "\r\n") {
		return fmt.Errorf("%w for %s", ErrInvalidPassword, c.Username)
	}

	return nil
}

// CredentialPair is handed by value to every worker; Old logs in, New replaces it.
type CredentialPair struct {
	Old Credential `json:"old" yaml:"old"`
	New Credential `json:"new" yaml:"new"`
}

func (p CredentialPair) Validate() error {
	if err := p.Old.Validate(); err != nil {
		return fmt.Errorf("old credentials: %w", err)
	}

	if err := p.New.Validate(); err != nil {
		return fmt.Errorf("new credentials: %w", err)
	}

	return nil
}

// RetiresOld reports whether the old account has to be removed after rotation.
func (p CredentialPair) RetiresOld() bool {
	return p.Old.Username != p.New.Username
}
