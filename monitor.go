package fieldsync

import (
	"net"
	"net/url"
	"sync"
	"time"
)

// ConnectivitySignal is the platform-level source of online/offline
// events. Each value sent on Events is the new connectivity state;
// consecutive duplicates are tolerated and collapsed by the monitor.
type ConnectivitySignal interface {
	Events() <-chan bool
}

// Monitor watches a connectivity signal and notifies the client of
// transitions. On offline→online it additionally fires the reconnect
// callback so queued mutations drain immediately.
type Monitor struct {
	signal    ConnectivitySignal
	onChange  func(online bool)
	onOnline  func()
	logger    *DebugLogger
	lastState bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMonitor creates a monitor starting from the given state. onChange
// runs on every transition; onOnline runs only on offline→online.
func NewMonitor(signal ConnectivitySignal, initial bool, onChange func(bool), onOnline func(), logger *DebugLogger) *Monitor {
	return &Monitor{
		signal:    signal,
		onChange:  onChange,
		onOnline:  onOnline,
		logger:    logger,
		lastState: initial,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins consuming the signal in the background.
func (m *Monitor) Start() {
	go m.run()
}

// Stop ends consumption. Safe to call more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)

	for {
		select {
		case <-m.stop:
			return
		case online, ok := <-m.signal.Events():
			if !ok {
				return
			}
			if online == m.lastState {
				continue
			}
			m.lastState = online
			m.logger.Log("monitor: connectivity changed, online=%v", online)
			m.onChange(online)
			if online {
				m.onOnline()
			}
		}
	}
}

// ProbeSignal derives connectivity from periodically dialing a remote
// host. It emits a value on every check; the monitor collapses
// duplicates. Stop closes the events channel.
type ProbeSignal struct {
	probe    func() bool
	interval time.Duration
	events   chan bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewProbeSignal creates a signal that dials the host of rawURL on the
// given interval. The probe counts as online when the TCP dial
// succeeds within 5 seconds.
func NewProbeSignal(rawURL string, interval time.Duration) *ProbeSignal {
	addr := probeAddr(rawURL)
	return &ProbeSignal{
		probe: func() bool {
			conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
			if err != nil {
				return false
			}
			conn.Close()
			return true
		},
		interval: interval,
		events:   make(chan bool, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Events returns the connectivity event channel.
func (p *ProbeSignal) Events() <-chan bool { return p.events }

// Start begins probing in the background.
func (p *ProbeSignal) Start() {
	go p.run()
}

// Stop ends probing and closes the events channel.
func (p *ProbeSignal) Stop() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}

func (p *ProbeSignal) run() {
	defer close(p.done)
	defer close(p.events)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			select {
			case p.events <- p.probe():
			case <-p.stop:
				return
			}
		}
	}
}

func probeAddr(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	return host
}
