package barrier

// ManyListenersGroup lets several local callers share one delegate group.
// Mutations are forwarded to the delegate unchanged; the wrapper subscribes
// to the delegate once and fans each firing out to its own listeners.
type ManyListenersGroup struct {
	delegate  Group
	listeners listenerList
}

func NewManyListenersGroup(delegate Group) *ManyListenersGroup {
	m := &ManyListenersGroup{delegate: delegate}
	delegate.AddListener(m)
	return m
}

// Awaken is called by the delegate when it fires.
func (m *ManyListenersGroup) Awaken() {
	m.listeners.notify()
}

func (m *ManyListenersGroup) Name() string {
	return m.delegate.Name()
}

func (m *ManyListenersGroup) AddListener(listener Listener) {
	m.listeners.add(listener)
}

func (m *ManyListenersGroup) RemoveListener(listener Listener) {
	m.listeners.remove(listener)
}

func (m *ManyListenersGroup) AddBarrier() error {
	return m.delegate.AddBarrier()
}

func (m *ManyListenersGroup) RemoveBarriers(n int64) error {
	return m.delegate.RemoveBarriers(n)
}

func (m *ManyListenersGroup) AddWaiter(id Identity) error {
	return m.delegate.AddWaiter(id)
}

func (m *ManyListenersGroup) CancelWaiter(id Identity) error {
	return m.delegate.CancelWaiter(id)
}

// Delegate returns the wrapped group.
func (m *ManyListenersGroup) Delegate() Group {
	return m.delegate
}

var (
	_ Group    = (*ManyListenersGroup)(nil)
	_ Listener = (*ManyListenersGroup)(nil)
)
