package bridge

import "sync/atomic"

// PermissionChecker reports whether the platform granted the permissions
// needed to record.
type PermissionChecker interface {
	HasPermissions() bool
}

// GrantedPermissions always reports the permissions as granted.
type GrantedPermissions struct{}

func (GrantedPermissions) HasPermissions() bool { return true }

// HostPermissions holds the permission state reported by an embedding host
// after its own prompt flow. The zero value reports no permissions.
type HostPermissions struct {
	granted atomic.Bool
}

// SetGranted updates the permission state.
func (p *HostPermissions) SetGranted(granted bool) {
	p.granted.Store(granted)
}

func (p *HostPermissions) HasPermissions() bool {
	return p.granted.Load()
}
