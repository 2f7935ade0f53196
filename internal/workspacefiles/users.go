package workspacefiles

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

const (
	authorizedKeysName      = "authorized_keys"
	sshMountPath            = "/root/.ssh"
	authorizedKeysMountPath = sshMountPath + "/" + authorizedKeysName
	// IdentityMountPath is where the deploy key used for git operations
	// appears inside the container.
	IdentityMountPath = "/etc/remote-workspace/identity"
	sshVolumeKey      = "ssh"
)

// User may log into every workspace with PublicKey. Name and Email are
// used as git identity in the workspaces the user owns.
type User struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	PublicKey string `json:"publicKey"`
}

// UserList decodes from a JSONC array so it can be set from a single
// environment variable.
type UserList []User

// Decode implements envconfig.Decoder.
func (l *UserList) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*l = UserList{}
		return nil
	}
	var users []User
	if err := json.Unmarshal(jsonc.ToJSON([]byte(value)), &users); err != nil {
		return fmt.Errorf("parse users: %w", err)
	}
	for i, u := range users {
		if strings.TrimSpace(u.Name) == "" {
			return fmt.Errorf("user %d: name is required", i)
		}
		if strings.TrimSpace(u.PublicKey) == "" {
			return fmt.Errorf("user %s: publicKey is required", u.Name)
		}
	}
	*l = users
	return nil
}

// Owner returns the user matching owner by name or, case-insensitively,
// by email.
func (l UserList) Owner(owner string) (User, bool) {
	if owner == "" {
		return User{}, false
	}
	for _, u := range l {
		if u.Name == owner || (u.Email != "" && strings.EqualFold(u.Email, owner)) {
			return u, true
		}
	}
	return User{}, false
}

// authorizedKeys renders one key per line in configuration order.
func (l UserList) authorizedKeys() []byte {
	var b strings.Builder
	for _, u := range l {
		b.WriteString(strings.TrimSpace(u.PublicKey))
		b.WriteString(" ")
		b.WriteString(u.Name)
		b.WriteString("\n")
	}
	return []byte(b.String())
}
