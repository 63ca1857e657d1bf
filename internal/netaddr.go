package internal

import "net/netip"

// SameSubnet reports whether a and b fall in the same network at the given
// prefix lengths (v4Bits for IPv4, v6Bits for IPv6). IPv4-mapped IPv6
// addresses are compared as IPv4. Addresses that do not parse are compared
// as plain strings; mixed families never match.
func SameSubnet(a, b string, v4Bits, v6Bits int) bool {
	if a == b {
		return true
	}

	pa, errA := netip.ParseAddr(a)
	pb, errB := netip.ParseAddr(b)
	if errA != nil || errB != nil {
		return false
	}
	pa, pb = pa.Unmap(), pb.Unmap()

	if pa.Is4() != pb.Is4() {
		return false
	}

	bits := v6Bits
	if pa.Is4() {
		bits = v4Bits
	}
	if bits <= 0 {
		return true
	}
	if bits > pa.BitLen() {
		bits = pa.BitLen()
	}

	na, err := pa.Prefix(bits)
	if err != nil {
		return false
	}
	nb, err := pb.Prefix(bits)
	if err != nil {
		return false
	}
	return na == nb
}
