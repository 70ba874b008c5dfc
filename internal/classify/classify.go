// Package classify decides packet direction, extracts the remote endpoint,
// and names well-known services by (protocol, port).
package classify

import (
	"fmt"
	"net"

	"github.com/netcensus/netcensus/internal/models"
)

// IsOutgoing reports whether srcIP belongs to this host for the purposes of
// direction classification. It is a structural heuristic, independent of
// routing tables: loopback, RFC1918, link-local, and their IPv6 equivalents
// count as local. A publicly routable source address is therefore treated
// as a remote sender even when it actually belongs to this host — an
// accepted approximation. Reimplementations must reproduce this exact
// predicate bit-for-bit; changing it silently invalidates persisted totals.
func IsOutgoing(srcIP string) bool {
	ip := net.ParseIP(srcIP)
	if ip == nil {
		return false
	}

	if ip.IsLoopback() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		return isRFC1918(ip4) || ip4.IsLinkLocalUnicast()
	}

	if ip.IsLinkLocalUnicast() {
		return true
	}
	if isUniqueLocalIPv6(ip) {
		return true
	}

	return false
}

func isRFC1918(ip4 net.IP) bool {
	switch {
	case ip4[0] == 10:
		return true
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
		return true
	case ip4[0] == 192 && ip4[1] == 168:
		return true
	}
	return false
}

// isUniqueLocalIPv6 reports whether ip is in fc00::/7.
func isUniqueLocalIPv6(ip net.IP) bool {
	ip16 := ip.To16()
	if ip16 == nil {
		return false
	}
	return ip16[0]&0xfe == 0xfc
}

// Remote resolves the classified direction of a packet into the remote
// endpoint's IP and service port. If isOutgoing, the remote is the
// destination; otherwise it is the source.
func Remote(p *models.ParsedPacket) (remoteIP string, remotePort uint16, hasPort bool) {
	if p.IsOutgoing {
		return p.DstIP, p.DstPort, p.HasDstPort
	}
	return p.SrcIP, p.SrcPort, p.HasSrcPort
}

// IsInfrastructure reports whether ip is a private range address and should
// therefore be excluded from the host table entirely.
func IsInfrastructure(ip string) bool {
	return IsOutgoing(ip)
}

// serviceNames maps "{proto}:{port}" to a well-known service name.
var serviceNames = map[string]string{
	"TCP:20":    "FTP-DATA",
	"TCP:21":    "FTP",
	"TCP:22":    "SSH",
	"TCP:23":    "TELNET",
	"TCP:25":    "SMTP",
	"UDP:53":    "DNS",
	"TCP:53":    "DNS",
	"UDP:67":    "DHCP",
	"UDP:68":    "DHCP",
	"TCP:80":    "HTTP",
	"UDP:123":   "NTP",
	"TCP:110":   "POP3",
	"TCP:119":   "NNTP",
	"UDP:137":   "NETBIOS-NS",
	"UDP:138":   "NETBIOS-DGM",
	"TCP:139":   "NETBIOS-SSN",
	"TCP:143":   "IMAP",
	"UDP:161":   "SNMP",
	"UDP:162":   "SNMP-TRAP",
	"TCP:179":   "BGP",
	"TCP:194":   "IRC",
	"TCP:389":   "LDAP",
	"TCP:443":   "HTTPS",
	"TCP:445":   "SMB",
	"TCP:465":   "SMTPS",
	"TCP:514":   "SYSLOG",
	"UDP:514":   "SYSLOG",
	"TCP:515":   "LPD",
	"TCP:587":   "SUBMISSION",
	"TCP:631":   "IPP",
	"TCP:636":   "LDAPS",
	"TCP:873":   "RSYNC",
	"TCP:993":   "IMAPS",
	"TCP:995":   "POP3S",
	"TCP:1080":  "SOCKS",
	"TCP:1194":  "OPENVPN",
	"UDP:1194":  "OPENVPN",
	"TCP:1433":  "MSSQL",
	"TCP:1521":  "ORACLE",
	"TCP:1723":  "PPTP",
	"TCP:2049":  "NFS",
	"TCP:2375":  "DOCKER",
	"TCP:2376":  "DOCKER-TLS",
	"TCP:3000":  "DEV-HTTP",
	"TCP:3128":  "SQUID",
	"TCP:3306":  "MYSQL",
	"TCP:3389":  "RDP",
	"TCP:4443":  "HTTPS-ALT",
	"TCP:5060":  "SIP",
	"UDP:5060":  "SIP",
	"TCP:5222":  "XMPP",
	"TCP:5432":  "POSTGRES",
	"TCP:5671":  "AMQPS",
	"TCP:5672":  "AMQP",
	"TCP:5900":  "VNC",
	"TCP:5984":  "COUCHDB",
	"TCP:6379":  "REDIS",
	"TCP:6443":  "KUBERNETES-API",
	"TCP:6667":  "IRC",
	"TCP:8000":  "DEV-HTTP",
	"TCP:8080":  "HTTP-ALT",
	"TCP:8443":  "HTTPS-ALT",
	"TCP:8883":  "MQTT-TLS",
	"TCP:9000":  "DEV-HTTP",
	"TCP:9092":  "KAFKA",
	"TCP:9200":  "ELASTICSEARCH",
	"TCP:11211": "MEMCACHED",
	"TCP:27017": "MONGODB",
}

// ServiceKey returns the "{proto}:{port}" key used by the service table.
func ServiceKey(proto models.Protocol, port uint16) string {
	return fmt.Sprintf("%s:%d", proto, port)
}

// ServiceName returns the well-known name for (proto, port), or empty if
// the pair is not in the fixed lookup table. An unknown mapping is still a
// valid key; only the name is absent.
func ServiceName(proto models.Protocol, port uint16) string {
	return serviceNames[ServiceKey(proto, port)]
}
