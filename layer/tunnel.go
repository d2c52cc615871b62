package layer

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// These tunnel formats are decoded by hand rather than through
// gopacket/layers: the fork this module pins (see the replace directive in
// go.mod) does not expose stable DecodingLayer types for all of them, and
// spec.md gives each one's framing byte-for-byte, which heplify's decoder
// follows the same way for GRE/ERSPAN.

// GRE is a decoded GRE header (RFC 2784, plus the PPTP enhanced GRE variant
// RFC 2637 uses for its key/sequence fields).
type GRE struct {
	ProtocolType uint16
	HasKey       bool
	CallID       uint16 // low 16 bits of the key field, PPTP's call id
	HasSeq       bool
	SequenceNum  uint32
	HasAck       bool
	AckNum       uint32 // PPTP enhanced GRE only (RFC 2637 §4.1)
	Payload      []byte
}

const (
	greChecksumPresent = 0x8000
	greKeyPresent      = 0x2000
	greSeqPresent      = 0x1000
	greAckPresent      = 0x0080 // PPTP enhanced GRE: high bit of byte 1
)

// DecodeGRE parses a GRE header. protocol_type == 0x880B (GREProtoPPP) gets
// the PPTP enhanced GRE layout (RFC 2637 §4.1) instead of RFC 2784's generic
// one: the key field splits into payload length/call id, there is no
// checksum, and an optional acknowledgment number can follow the sequence
// number. Every other protocol type uses RFC 2784's generic layout:
//
//	bit 0: checksum present   bit 2: key present   bit 3: sequence present
//	bytes 0-1: flags+version  bytes 2-3: protocol type
//	optional 4: checksum+reserved1 (if checksum present)
//	optional 4: key (if key present)
//	optional 4: sequence number (if sequence present)
func DecodeGRE(data []byte) (GRE, error) {
	if len(data) < 4 {
		return GRE{}, errors.Wrap(ErrFrameTooShort, "gre header")
	}

	flags := binary.BigEndian.Uint16(data[0:2])
	out := GRE{
		ProtocolType: binary.BigEndian.Uint16(data[2:4]),
	}

	if out.ProtocolType == GREProtoPPP {
		return decodePPTPGRE(data, flags, out)
	}

	offset := 4
	if flags&greChecksumPresent != 0 {
		offset += 4 // checksum (2) + reserved1 (2)
	}
	if flags&greKeyPresent != 0 {
		if len(data) < offset+4 {
			return GRE{}, errors.Wrap(ErrFrameTooShort, "gre key field")
		}
		out.HasKey = true
		out.CallID = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
	}
	if flags&greSeqPresent != 0 {
		if len(data) < offset+4 {
			return GRE{}, errors.Wrap(ErrFrameTooShort, "gre sequence field")
		}
		out.HasSeq = true
		out.SequenceNum = binary.BigEndian.Uint32(data[offset : offset+4])
		offset += 4
	}

	if len(data) < offset {
		return GRE{}, errors.Wrap(ErrFrameTooShort, "gre payload")
	}
	out.Payload = data[offset:]
	return out, nil
}

// decodePPTPGRE applies RFC 2637 §4.1's layout: offset starts at 8 (the
// fixed flags/version, protocol type, payload length, and call id fields),
// +4 more if the sequence bit is set, +4 more again if the ack bit — the
// high bit of byte 1 — is set.
func decodePPTPGRE(data []byte, flags uint16, out GRE) (GRE, error) {
	if len(data) < 8 {
		return GRE{}, errors.Wrap(ErrFrameTooShort, "pptp-gre header")
	}
	out.HasKey = true
	out.CallID = binary.BigEndian.Uint16(data[6:8])

	offset := 8
	if flags&greSeqPresent != 0 {
		if len(data) < offset+4 {
			return GRE{}, errors.Wrap(ErrFrameTooShort, "pptp-gre sequence field")
		}
		out.HasSeq = true
		out.SequenceNum = binary.BigEndian.Uint32(data[offset : offset+4])
		offset += 4
	}
	if flags&greAckPresent != 0 {
		if len(data) < offset+4 {
			return GRE{}, errors.Wrap(ErrFrameTooShort, "pptp-gre ack field")
		}
		out.HasAck = true
		out.AckNum = binary.BigEndian.Uint32(data[offset : offset+4])
		offset += 4
	}

	if len(data) < offset {
		return GRE{}, errors.Wrap(ErrFrameTooShort, "pptp-gre payload")
	}
	out.Payload = data[offset:]
	return out, nil
}

// GRE protocol type values the dispatcher re-enters decapsulation on.
const (
	GREProtoIPv4 = 0x0800
	GREProtoIPv6 = 0x86DD
	GREProtoPPP  = 0x880B
	GREProtoERSPANv1 = 0x88BE // carries both ERSPAN type I and II
)

// VXLAN is a decoded VXLAN header (RFC 7348): an 8-byte header of
// flags(1) + reserved(3) + VNI(3) + reserved(1), followed by an inner
// Ethernet frame.
type VXLAN struct {
	VNI     uint32 // 24-bit network identifier
	Payload []byte // inner Ethernet frame
}

// DecodeVXLAN parses the fixed 8-byte VXLAN header.
func DecodeVXLAN(data []byte) (VXLAN, error) {
	if len(data) < 8 {
		return VXLAN{}, errors.Wrap(ErrFrameTooShort, "vxlan header")
	}
	const vxlanFlagValid = 0x08
	if data[0]&vxlanFlagValid == 0 {
		return VXLAN{}, errors.New("layer: vxlan flags byte missing valid-VNI bit")
	}
	vni := uint32(data[4])<<16 | uint32(data[5])<<8 | uint32(data[6])
	return VXLAN{VNI: vni, Payload: data[8:]}, nil
}

// ERSPAN is a decoded ERSPAN encapsulation header. Type I is decoded as a
// fixed 8-byte header; type II and III also start with an 8-byte header,
// with type III growing to 12 or 20 bytes when its optional subheader is
// present.
type ERSPAN struct {
	Version uint8
	SpanID  uint16
	Payload []byte
}

// DecodeERSPAN parses the ERSPAN header that follows a GRE header whose
// protocol type is 0x88BE. version selects the fixed layout: 1 for ERSPAN
// type I (8-byte header, ids in the low 10 bits of the first word), 2 for
// type II/III (8 bytes, +4 more if the "o" optional-subheader flag is set
// in byte 7's low bit, for a 12-byte header; type III with the extended
// platform-specific subheader grows to 20 bytes).
func DecodeERSPAN(data []byte, version uint8) (ERSPAN, error) {
	if len(data) < 8 {
		return ERSPAN{}, errors.Wrap(ErrFrameTooShort, "erspan header")
	}

	word0 := binary.BigEndian.Uint16(data[0:2])
	out := ERSPAN{Version: version, SpanID: word0 & 0x03FF}

	switch version {
	case 1:
		out.Payload = data[8:]
		return out, nil
	case 2:
		hdrLen := 8
		if len(data) >= 8 && data[7]&0x01 != 0 {
			hdrLen = 12
			if len(data) >= 12 && data[11]&0x01 != 0 {
				hdrLen = 20
			}
		}
		if len(data) < hdrLen {
			return ERSPAN{}, errors.Wrap(ErrFrameTooShort, "erspan extended header")
		}
		out.Payload = data[hdrLen:]
		return out, nil
	default:
		return ERSPAN{}, errors.Errorf("layer: unsupported erspan version %d", version)
	}
}

// PPP is a decoded PPP frame: a 2-byte protocol field (optionally preceded
// by the 0xff03 address/control bytes HDLC-framed PPP always carries, which
// DecodePPP strips if present).
type PPP struct {
	Protocol uint16
	Payload  []byte
}

// DecodePPP parses a PPP frame.
func DecodePPP(data []byte) (PPP, error) {
	if len(data) >= 2 && data[0] == 0xff && data[1] == 0x03 {
		data = data[2:]
	}
	if len(data) < 2 {
		return PPP{}, errors.Wrap(ErrFrameTooShort, "ppp header")
	}
	return PPP{Protocol: binary.BigEndian.Uint16(data[0:2]), Payload: data[2:]}, nil
}

// PPP protocol field values relevant to the dispatcher.
const (
	PPPProtoIPv4 = 0x0021
	PPPProtoIPv6 = 0x0057
)

// PPPoESession is a decoded PPPoE session-stage header (RFC 2516): 6 bytes
// of version/type, code, session id, and payload length, wrapping a PPP
// frame without its own HDLC framing bytes.
type PPPoESession struct {
	SessionID uint16
	Payload   []byte
}

// DecodePPPoESession parses a PPPoE session-stage header. Discovery-stage
// PPPoE (used only to establish the session id) is out of scope: the
// dispatcher only ever sees session-stage traffic once a session exists.
func DecodePPPoESession(data []byte) (PPPoESession, error) {
	if len(data) < 6 {
		return PPPoESession{}, errors.Wrap(ErrFrameTooShort, "pppoe header")
	}
	const pppoeCodeSession = 0x00
	code := data[1]
	if code != pppoeCodeSession {
		return PPPoESession{}, errors.Errorf("layer: non-session pppoe code %#x", code)
	}
	length := binary.BigEndian.Uint16(data[4:6])
	payload := data[6:]
	if int(length) < len(payload) {
		payload = payload[:length]
	}
	return PPPoESession{
		SessionID: binary.BigEndian.Uint16(data[2:4]),
		Payload:   payload,
	}, nil
}
