package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pezi/treedb/internal/model"
)

func sampleUser() *model.User {
	return &model.User{
		Base:         model.Base{ID: 7, HistID: 7},
		Login:        "jdoe",
		FirstName:    "John",
		LastName:     "Doe",
		DisplayName:  "John Doe",
		Email:        "john@corp.example",
		Phone:        "+41 44 000 00 00",
		Mobile:       "+41 79 000 00 00",
		ExternalID:   "ldap-123",
		PasswordHash: "$2a$10$secret",
	}
}

func TestApplyDefaultFilter(t *testing.T) {
	u := sampleUser()
	f := &Filter{}
	got := f.Apply(u)

	require.Empty(t, got.PasswordHash)
	require.NotEqual(t, "John", got.FirstName)
	require.NotEqual(t, "Doe", got.LastName)
	require.Equal(t, got.FirstName+" "+got.LastName, got.DisplayName)
	require.True(t, strings.HasSuffix(got.Email, "@example.invalid"))
	require.Empty(t, got.Phone)
	require.Empty(t, got.Mobile)
	require.Empty(t, got.ExternalID)
	require.Equal(t, "jdoe", got.Login)

	// the input is untouched
	require.Equal(t, sampleUser(), u)
}

func TestApplyKeepsSelectedFields(t *testing.T) {
	flags, err := ParseFlags([]string{"name", " Phone ", "external"})
	require.NoError(t, err)
	f := &Filter{Keep: flags}
	got := f.Apply(sampleUser())

	require.Empty(t, got.PasswordHash)
	require.Equal(t, "John", got.FirstName)
	require.Equal(t, "john@corp.example", got.Email)
	require.Equal(t, "+41 44 000 00 00", got.Phone)
	require.Empty(t, got.Mobile)
	require.Equal(t, "ldap-123", got.ExternalID)
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	_, err := ParseFlags([]string{"name", "address"})
	require.Error(t, err)
}

func TestGeneratorEmailsAreUnique(t *testing.T) {
	g := NewGenerator()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		p := g.Next()
		require.NotEmpty(t, p.FirstName)
		require.NotEmpty(t, p.LastName)
		require.False(t, seen[p.Email], p.Email)
		seen[p.Email] = true
	}
}
