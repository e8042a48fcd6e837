package domain

import "strings"

type OwnerKind string

const (
	OwnerDevice OwnerKind = "device"
	OwnerUser   OwnerKind = "user"
)

// Owner identifies who holds an entitlement: a device or an authenticated
// user, never both.
type Owner struct {
	Kind OwnerKind
	ID   string
}

func DeviceOwner(id string) Owner {
	return Owner{Kind: OwnerDevice, ID: strings.TrimSpace(id)}
}

func UserOwner(id string) Owner {
	return Owner{Kind: OwnerUser, ID: strings.TrimSpace(id)}
}

// OwnerFor prefers the user identity when one is known.
func OwnerFor(deviceID, userID string) Owner {
	if strings.TrimSpace(userID) != "" {
		return UserOwner(userID)
	}
	return DeviceOwner(deviceID)
}

func (o Owner) Validate() error {
	if o.ID == "" {
		return ErrInvalidOwner
	}
	switch o.Kind {
	case OwnerDevice, OwnerUser:
		return nil
	}
	return ErrInvalidOwner
}

// Column is the entitlements column holding this kind of owner.
func (o Owner) Column() string {
	switch o.Kind {
	case OwnerDevice:
		return "device_id"
	case OwnerUser:
		return "user_id"
	}
	return ""
}

func (o Owner) String() string {
	return string(o.Kind) + ":" + o.ID
}
