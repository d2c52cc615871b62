package ipdefrag

import (
	"time"

	"github.com/mel2oo/pcapcore/layer"
)

// IPv4Defragmenter reassembles fragmented IPv4 datagrams, keyed by
// (identification, source, destination, protocol) as spec.md §4.2
// prescribes.
type IPv4Defragmenter struct{ d *Defragmenter }

// NewIPv4Defragmenter returns an IPv4Defragmenter with the given idle
// eviction timeout.
func NewIPv4Defragmenter(timeout time.Duration) *IPv4Defragmenter {
	return &IPv4Defragmenter{d: New(timeout)}
}

// Update feeds one IPv4 fragment into the reassembly buffer.
func (f *IPv4Defragmenter) Update(ip layer.IPv4, now time.Time) ([]byte, Result) {
	key := Key{
		Identification: uint32(ip.Identification),
		Src:            ip.Src,
		Dst:            ip.Dst,
		Protocol:       ip.Protocol,
	}
	offset := int(ip.FragOffset) * 8
	return f.d.Update(key, offset, ip.MoreFragments, ip.Payload, now)
}

// Len reports the number of datagrams currently buffered.
func (f *IPv4Defragmenter) Len() int { return f.d.Len() }

// IPv6Defragmenter reassembles fragmented IPv6 datagrams described by a
// Fragment extension header, keyed by (identification, source, destination,
// next-header protocol).
type IPv6Defragmenter struct{ d *Defragmenter }

// NewIPv6Defragmenter returns an IPv6Defragmenter with the given idle
// eviction timeout.
func NewIPv6Defragmenter(timeout time.Duration) *IPv6Defragmenter {
	return &IPv6Defragmenter{d: New(timeout)}
}

// Update feeds one IPv6 fragment into the reassembly buffer. frag must be
// the Fragment header decoded from ip; passing an ip without one is a
// programming error since only fragmented datagrams should reach here.
func (f *IPv6Defragmenter) Update(ip layer.IPv6, frag layer.IPv6Fragment, now time.Time) ([]byte, Result) {
	key := Key{
		Identification: frag.Identification,
		Src:            ip.Src,
		Dst:            ip.Dst,
		Protocol:       ip.NextHeader,
	}
	offset := int(frag.FragOffset) * 8
	return f.d.Update(key, offset, frag.MoreFragments, ip.Payload, now)
}

// Len reports the number of datagrams currently buffered.
func (f *IPv6Defragmenter) Len() int { return f.d.Len() }
