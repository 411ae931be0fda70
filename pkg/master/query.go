package master

// IsMaster reports whether host:port is the master of service:version.
//
// A key with no recorded master answers true, so every instance may act as
// master until the registry has synced.
// TODO: revisit the unknown-key default once callers can tell "not synced"
// apart from "no master".
func (r *Registry) IsMaster(service, version, host string, port int) bool {
	addr, ok := r.Get(ServiceKey(service, version))
	if !ok {
		return true
	}
	return addr == Address(host, port)
}
