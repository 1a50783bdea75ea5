package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ownerNamespace scopes owner ids derived from provider subjects.
var ownerNamespace = uuid.MustParse("6f1c2a8e-3d4b-5e6f-8a9b-0c1d2e3f4a5b")

// Identity is the authenticated user as resolved from the external provider.
type Identity struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Subject   string `json:"subject"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// OwnerID derives the stable owner id for a provider account.
// The same provider/subject pair always yields the same id.
func OwnerID(provider, subject string) string {
	key := strings.ToLower(strings.TrimSpace(provider)) + ":" + strings.TrimSpace(subject)
	return uuid.NewSHA1(ownerNamespace, []byte(key)).String()
}

// DisplayName returns the name to greet the user with.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Email
}
