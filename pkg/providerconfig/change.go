package providerconfig

// Change-notification keys the streaming client watches for, per spec.md §6.
// The config layer is an external collaborator (spec.md §1); this module
// only defines the contract it must satisfy.
const (
	KeyHost        = "usenet.host"
	KeyPort        = "usenet.port"
	KeyUseSSL      = "usenet.use-ssl"
	KeyUser        = "usenet.user"
	KeyPass        = "usenet.pass"
	KeyConnections = "usenet.connections"
	KeyProviders   = "usenet.providers"
)

// qualifyingKeys are the change-set keys that require a pool rebuild.
var qualifyingKeys = map[string]bool{
	KeyHost:        true,
	KeyPort:        true,
	KeyUseSSL:      true,
	KeyUser:        true,
	KeyPass:        true,
	KeyConnections: true,
	KeyProviders:   true,
}

// Change is a single configuration-change notification: the set of keys
// that changed plus the new full provider snapshot. Emitted by the external
// config store; consumed by the streaming client facade.
type Change struct {
	Keys      []string
	Providers []Provider
}

// Qualifies reports whether this change touches any of the usenet.* keys
// listed above, which the streaming client reacts to by rebuilding its
// pool. Other usenet.* keys do not qualify.
func (c Change) Qualifies() bool {
	for _, k := range c.Keys {
		if qualifyingKeys[k] {
			return true
		}
	}
	return false
}
