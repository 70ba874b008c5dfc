// Package models holds the data shared across netcensus's capture, decode,
// aggregation, and persistence packages: the transient per-packet record,
// the mutable per-adapter counters, the bounded host/service tables, and the
// structures written to disk.
package models

import "time"

// Protocol tags the transport (or pseudo-transport) a ParsedPacket rode in on.
type Protocol string

const (
	ProtocolTCP    Protocol = "TCP"
	ProtocolUDP    Protocol = "UDP"
	ProtocolICMPv4 Protocol = "ICMPv4"
	ProtocolICMPv6 Protocol = "ICMPv6"
	ProtocolOther  Protocol = "Other"
)

// ParsedPacket is the transient record produced by the decoder for every
// frame that survives header parsing and cross-adapter deduplication.
type ParsedPacket struct {
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	HasSrcPort bool
	HasDstPort bool
	Protocol   Protocol
	SizeBytes  uint64
	TsSecs     int64
	TsUsecs    int64
	IsOutgoing bool
}

// AdapterMetrics is the mutable, lock-owned record of one discovered
// adapter's lifetime and current-session counters.
type AdapterMetrics struct {
	Name        string
	DisplayName string

	IsActive     bool
	IsMonitoring bool

	TotalBytesIn     uint64
	TotalBytesOut    uint64
	TotalPacketsIn   uint64
	TotalPacketsOut  uint64

	SessionStartTime int64 // seconds since epoch, 0 if absent
	LastSeenTime     int64

	RecordedDay string // host-local YYYY-MM-DD of the last applied packet, for day-rollover detection

	Hosts    map[string]*NetworkHost
	Services map[string]*ServiceInfo
	History  []TrafficSample
}

// NetworkHost is a remote endpoint observed on an adapter, keyed by IP string.
type NetworkHost struct {
	IP          string `json:"ip"`
	Hostname    string `json:"hostname,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	ASN         string `json:"asn,omitempty"`

	IncomingBytes   uint64 `json:"incoming_bytes"`
	OutgoingBytes   uint64 `json:"outgoing_bytes"`
	IncomingPackets uint64 `json:"incoming_packets"`
	OutgoingPackets uint64 `json:"outgoing_packets"`

	FirstSeen int64 `json:"first_seen"`
	LastSeen  int64 `json:"last_seen"`
}

// ServiceInfo is a (protocol, port) pair observed on an adapter, keyed by
// "{proto}:{port}".
type ServiceInfo struct {
	Protocol    Protocol `json:"protocol"`
	Port        uint16   `json:"port"`
	ServiceName string   `json:"service_name,omitempty"`
	Bytes       uint64   `json:"bytes"`
	Packets     uint64   `json:"packets"`
}

// TrafficSample is one cumulative snapshot in an adapter's rate history.
type TrafficSample struct {
	Timestamp  int64  `json:"timestamp"`
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
	PacketsIn  uint64 `json:"packets_in"`
	PacketsOut uint64 `json:"packets_out"`
}

// Session is the unit of persisted delta: the incremental traffic observed
// on one adapter between two flushes.
type Session struct {
	AdapterName string    `json:"adapter_name"`
	StartTime   int64     `json:"start_time"`
	EndTime     int64     `json:"end_time,omitempty"`
	Duration    int64     `json:"duration"`

	TotalBytesIn     uint64 `json:"total_bytes_in"`
	TotalBytesOut    uint64 `json:"total_bytes_out"`
	TotalPacketsIn   uint64 `json:"total_packets_in"`
	TotalPacketsOut  uint64 `json:"total_packets_out"`

	TrafficData []TrafficSample `json:"traffic_data"`
	TopHosts    []NetworkHost   `json:"top_hosts"`
	TopServices []ServiceInfo   `json:"top_services"`
}

// DailyNetworkSummary is the per-day persisted record: one file per
// host-local calendar day.
type DailyNetworkSummary struct {
	Date    string    `json:"date"`
	Sessions []Session `json:"sessions"`

	TotalBytesIn    uint64 `json:"total_bytes_in"`
	TotalBytesOut   uint64 `json:"total_bytes_out"`
	TotalPacketsIn  uint64 `json:"total_packets_in"`
	TotalPacketsOut uint64 `json:"total_packets_out"`
	TotalDuration   int64  `json:"total_duration"`

	UniqueHosts    int `json:"unique_hosts"`
	UniqueServices int `json:"unique_services"`
}

// AdapterPersistentState is the per-adapter record inside the lifetime-state
// file: cumulative counters plus the bookkeeping needed to detect an
// unclean shutdown and resume a session across restarts.
type AdapterPersistentState struct {
	AdapterName string `json:"adapter_name"`

	CumulativeBytesIn    uint64 `json:"cumulative_bytes_in"`
	CumulativeBytesOut   uint64 `json:"cumulative_bytes_out"`
	CumulativePacketsIn  uint64 `json:"cumulative_packets_in"`
	CumulativePacketsOut uint64 `json:"cumulative_packets_out"`

	LifetimeBytesIn  uint64 `json:"lifetime_bytes_in"`
	LifetimeBytesOut uint64 `json:"lifetime_bytes_out"`

	SessionStartTime    int64 `json:"session_start_time,omitempty"`
	LastSessionEndTime  int64 `json:"last_session_end_time,omitempty"`
	FirstRecordedTime   int64 `json:"first_recorded_time"`

	WasMonitoringOnExit bool  `json:"was_monitoring_on_exit"`
	LastUpdateTime      int64 `json:"last_update_time"`
}

// AppPersistentState is the full lifetime-state document written atomically
// to persistent_state.json.
type AppPersistentState struct {
	Adapters         map[string]*AdapterPersistentState `json:"adapters"`
	LastShutdownTime int64                               `json:"last_shutdown_time"`
	AppVersion       string                              `json:"app_version"`
	RunID            string                              `json:"run_id"`
	CreatedAt        int64                               `json:"created_at"`
	UpdatedAt        int64                               `json:"updated_at"`
}

// NewAppPersistentState returns an empty state document, as used on first
// run when no state file exists yet.
func NewAppPersistentState(appVersion, runID string, now time.Time) *AppPersistentState {
	ts := now.Unix()
	return &AppPersistentState{
		Adapters:   make(map[string]*AdapterPersistentState),
		AppVersion: appVersion,
		RunID:      runID,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

// Adapter is the discovery-time description of a usable network interface,
// as returned by list_adapters.
type Adapter struct {
	Name        string
	Description string
	Addresses   []string
	IsUp        bool
	IsLoopback  bool
}
