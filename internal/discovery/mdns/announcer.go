// Package mdns advertises and discovers the coordinator over mDNS/DNS-SD.
// Workers dial the coordinator (a push model, unlike the teacher's
// coordinator-dials-workers gRPC layout), so only the coordinator side
// announces itself; workers browse for it before opening a transport
// connection.
package mdns

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	CoordServiceType = "_hybridbuild-coord._tcp"
	Domain           = "local."
)

// CoordAnnouncerConfig holds coordinator announcer configuration.
type CoordAnnouncerConfig struct {
	Instance   string // e.g., "coord-hostname"
	Port   int    // the transport server's listen port
	HTTPPort   int    // the dashboard's listen port, if enabled
	Version    string
	InstanceID string // unique ID for this coordinator instance
}

// CoordAnnouncer advertises a coordinator via mDNS.
type CoordAnnouncer struct {
	mu     sync.Mutex
	server *zeroconf.Server
	cfg    CoordAnnouncerConfig
}

// NewCoordAnnouncer creates a new coordinator mDNS announcer.
func NewCoordAnnouncer(cfg CoordAnnouncerConfig) *CoordAnnouncer {
	return &CoordAnnouncer{cfg: cfg}
}

// Start begins advertising the coordinator service via mDNS.
func (a *CoordAnnouncer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return fmt.Errorf("coordinator announcer already started")
	}

	txt := a.buildTXTRecords()

	log.Debug().
		Str("instance", a.cfg.Instance).
		Int("port", a.cfg.Port).
		Int("http_port", a.cfg.HTTPPort).
		Strs("txt", txt).
		Msg("Starting coordinator mDNS announcer")

	server, err := zeroconf.Register(
		a.cfg.Instance,
		CoordServiceType,
		Domain,
		a.cfg.Port,
		txt,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("failed to register coordinator mDNS: %w", err)
	}

	a.server = server

	log.Info().
		Str("instance", a.cfg.Instance).
		Str("service", CoordServiceType).
		Int("port", a.cfg.Port).
		Msg("Coordinator mDNS announcer started")

	return nil
}

// buildTXTRecords creates TXT records for coordinator.
func (a *CoordAnnouncer) buildTXTRecords() []string {
	txt := []string{
		"port=" + strconv.Itoa(a.cfg.Port),
		"http_port=" + strconv.Itoa(a.cfg.HTTPPort),
	}
	if a.cfg.Version != "" {
		txt = append(txt, "version="+a.cfg.Version)
	}
	if a.cfg.InstanceID != "" {
		txt = append(txt, "instance_id="+a.cfg.InstanceID)
	}
	return txt
}

// Stop stops advertising the coordinator service.
func (a *CoordAnnouncer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		log.Info().Str("instance", a.cfg.Instance).Msg("Coordinator mDNS announcer stopped")
	}
}

// ParseTXTRecords parses TXT records back into a map.
func ParseTXTRecords(txt []string) map[string]string {
	result := make(map[string]string)
	for _, record := range txt {
		parts := strings.SplitN(record, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
