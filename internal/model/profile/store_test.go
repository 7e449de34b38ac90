package profile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/echoes/backend/internal/apperr"
)

func validInput() NewProfile {
	return NewProfile{
		FullName:     "Aunt May",
		BirthDate:    "1940-03-03",
		Relationship: "Aunt",
		Bio:          "Grew tomatoes and sang in the church choir.",
	}
}

func TestMemoryStoreFindByID(t *testing.T) {
	store := NewMemoryStore(Seed())

	p, ok := store.FindByID("robert")
	require.True(t, ok)
	assert.Equal(t, "Grandfather Robert", p.Name)

	_, ok = store.FindByID("missing")
	assert.False(t, ok)
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Name = "changed"

	p, _ := store.FindByID(list[0].ID)
	assert.NotEqual(t, "changed", p.Name)
}

func TestMemoryStoreCreate(t *testing.T) {
	store := NewMemoryStore(nil)

	p, err := store.Create(validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Hello? Is that you?", p.Greeting)
	assert.Len(t, store.List(), 1)
}

func TestValidateReportsEveryField(t *testing.T) {
	err := Validate(NewProfile{FullName: "A", Bio: "short"})
	require.Error(t, err)
	require.True(t, apperr.IsValidation(err))

	fields := map[string]bool{}
	for _, f := range apperr.Fields(err) {
		fields[f.Field] = true
	}
	assert.Equal(t, map[string]bool{"fullName": true, "birthDate": true, "relationship": true, "bio": true}, fields)
}

func TestValidateBioTooLong(t *testing.T) {
	in := validInput()
	in.Bio = strings.Repeat("x", 501)
	err := Validate(in)
	require.Error(t, err)
	assert.Equal(t, "bio", apperr.Fields(err)[0].Field)
}

func TestAddSamples(t *testing.T) {
	store := NewMemoryStore(Seed())
	require.NoError(t, store.AddSamples("sarah", VoiceSamples, 2))
	require.NoError(t, store.AddSamples("sarah", TextSamples, 1))

	p, _ := store.FindByID("sarah")
	assert.Equal(t, 2, p.VoiceSamples)
	assert.Equal(t, 1, p.TextSamples)

	assert.ErrorIs(t, store.AddSamples("nobody", VoiceSamples, 1), ErrNotFound)
}
