package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOwnerFor(t *testing.T) {
	o := OwnerFor("dev-1", "")
	require.Equal(t, OwnerDevice, o.Kind)
	require.Equal(t, "dev-1", o.ID)

	o = OwnerFor("dev-1", "user-1")
	require.Equal(t, OwnerUser, o.Kind)
	require.Equal(t, "user-1", o.ID)
	require.Equal(t, "user_id", o.Column())
}

func TestOwnerValidate(t *testing.T) {
	require.NoError(t, DeviceOwner("d").Validate())
	require.NoError(t, UserOwner("u").Validate())
	require.ErrorIs(t, DeviceOwner("  ").Validate(), ErrInvalidOwner)
	require.ErrorIs(t, Owner{Kind: "org", ID: "x"}.Validate(), ErrInvalidOwner)
	require.Empty(t, Owner{Kind: "org", ID: "x"}.Column())
}

func TestEntitlementOwnerRoundTrip(t *testing.T) {
	var e Entitlement
	e.SetOwner(DeviceOwner("dev-9"))
	require.NotNil(t, e.DeviceID)
	require.Nil(t, e.UserID)
	require.Equal(t, DeviceOwner("dev-9"), e.Owner())

	e.SetOwner(UserOwner("user-9"))
	require.Nil(t, e.DeviceID)
	require.Equal(t, UserOwner("user-9"), e.Owner())
}

func TestInsertResultCreated(t *testing.T) {
	require.True(t, InsertResult{Outcome: InsertOutcomeInserted}.Created())
	require.False(t, InsertResult{Outcome: InsertOutcomeAlreadyExists}.Created())
	require.Equal(t, "already_exists", InsertOutcomeAlreadyExists.String())
}
