package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"national mobile gets country code", "11987654321", "5511987654321", true},
		{"national landline gets country code", "1133334444", "551133334444", true},
		{"formatting is stripped", "(11) 98765-4321", "5511987654321", true},
		{"already qualified stays as is", "+55 11 98765-4321", "5511987654321", true},
		{"international number untouched", "4915112345678", "4915112345678", true},
		{"too short", "987654321", "", false},
		{"too long", "5511987654321123456", "", false},
		{"letters only", "not a phone", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizePhone(tc.raw, "55")
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveDeduplicatesFirstOccurrenceWins(t *testing.T) {
	f := newFixture(t)
	resolver := NewResolver(f.contacts)

	inputs := []ContactInput{
		{Phone: "11999990001", Name: "First"},
		{Phone: "+55 (11) 99999-0001", Name: "Second"}, // same number, later row
		{Phone: "123", Name: "Broken"},
		{Phone: "11999990002", Name: "Other"},
	}

	res, err := resolver.Resolve(context.Background(), f.tenant, inputs)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Received)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 2, res.UniqueValid)
	assert.Zero(t, res.UpsertErrors)

	require.Len(t, res.Contacts, 2)
	assert.Equal(t, "5511999990001", res.Contacts[0].Phone)
	assert.Equal(t, "First", res.Contacts[0].Name, "the duplicate row must not overwrite the first")
	assert.Equal(t, "5511999990002", res.Contacts[1].Phone)
}

func TestResolveKeepsInputOrder(t *testing.T) {
	f := newFixture(t)
	resolver := NewResolver(f.contacts)

	inputs := []ContactInput{
		{Phone: "11999990009", Name: "c"},
		{Phone: "11999990007", Name: "a"},
		{Phone: "11999990008", Name: "b"},
	}

	res, err := resolver.Resolve(context.Background(), f.tenant, inputs)
	require.NoError(t, err)
	require.Len(t, res.Contacts, 3)
	assert.Equal(t, "5511999990009", res.Contacts[0].Phone)
	assert.Equal(t, "5511999990007", res.Contacts[1].Phone)
	assert.Equal(t, "5511999990008", res.Contacts[2].Phone)
}

func TestResolveCarriesVariables(t *testing.T) {
	f := newFixture(t)
	resolver := NewResolver(f.contacts)

	res, err := resolver.Resolve(context.Background(), f.tenant, []ContactInput{
		{Phone: "11999990003", Name: "Ana", Variables: map[string]string{"name": "Ana", "1": "42"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Contacts, 1)
	assert.Equal(t, map[string]string{"name": "Ana", "1": "42"}, res.Contacts[0].Variables)
}

func TestResolveRejectsAllInvalidInput(t *testing.T) {
	f := newFixture(t)
	resolver := NewResolver(f.contacts)

	_, err := resolver.Resolve(context.Background(), f.tenant, []ContactInput{
		{Phone: "123"},
		{Phone: "abc"},
	})
	assert.ErrorIs(t, err, ErrNoValidContacts)
}
