package device

// Registry is the ordered set of configured devices. Insertion order defines
// the file column order and the event concatenation order of every round.
// Devices are added at startup and never removed, so the registry needs no
// locking.
type Registry struct {
	devices []Device
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(d Device) {
	r.devices = append(r.devices, d)
}

func (r *Registry) Devices() []Device {
	return r.devices
}

func (r *Registry) Len() int {
	return len(r.devices)
}

// ColumnNames returns the flattened column names of all devices in
// registration order.
func (r *Registry) ColumnNames() []string {
	var names []string
	for _, d := range r.devices {
		names = append(names, d.ColumnNames()...)
	}

	return names
}
