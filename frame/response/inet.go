package response

import (
	"net"
	"strconv"
)

// formatInet renders a raw [inet] address (4 or 16 bytes) plus port as the
// "ip:port" string the transport layer keys hosts by.
func formatInet(addr []byte, port int32) string {
	ip := net.IP(addr)
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
}
