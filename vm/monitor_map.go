package vm

import "sync"

// monitorMap associates objects with their monitors. Entries are weak:
// the collector drops the monitor of any object it finds unreachable.
type monitorMap struct {
	mu sync.Mutex
	m  map[*Object]*Monitor
}

func newMonitorMap() *monitorMap {
	return &monitorMap{m: make(map[*Object]*Monitor)}
}

// lookup returns o's monitor, creating it when create is set.
func (mm *monitorMap) lookup(o *Object, create bool) *Monitor {
	if mon := o.monitor.Load(); mon != nil {
		return mon
	}
	if !create {
		return nil
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mon := o.monitor.Load(); mon != nil {
		return mon
	}
	mon := NewMonitor()
	mm.m[o] = mon
	o.monitor.Store(mon)
	return mon
}

// Len returns the number of live monitors.
func (mm *monitorMap) Len() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.m)
}

// sweep drops monitors whose objects did not survive. Only the collector
// calls it, under exclusive state.
func (mm *monitorMap) sweep(live func(*Object) bool) int {
	dropped := 0
	for o := range mm.m {
		if !live(o) {
			o.monitor.Store(nil)
			delete(mm.m, o)
			dropped++
		}
	}
	return dropped
}
