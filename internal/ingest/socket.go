package ingest

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// setDSCP marks outgoing packets with the given differentiated services code
// point. The IPv4 TOS and IPv6 traffic class carry DSCP in their upper six
// bits.
func setDSCP(conn *net.UDPConn, dscp int) error {
	if dscp < 0 || dscp > 63 {
		return fmt.Errorf("ingest: dscp %d out of range 0-63", dscp)
	}
	tos := dscp << 2
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if ok && local.IP.To4() == nil && !local.IP.IsUnspecified() {
		if err := ipv6.NewConn(conn).SetTrafficClass(tos); err != nil {
			return fmt.Errorf("ingest: set traffic class: %w", err)
		}
		return nil
	}
	if err := ipv4.NewConn(conn).SetTOS(tos); err != nil {
		return fmt.Errorf("ingest: set tos: %w", err)
	}
	return nil
}
