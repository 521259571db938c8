// Package responder builds the SYN-ACK that carries a SYN cookie back to
// the client.
package responder

import (
	"errors"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/synguard/internal/classifier"
	"firestige.xyz/synguard/internal/core"
)

// Defaults for the advertised handshake parameters.
const (
	DefaultMSS         = 1460
	DefaultWindowScale = 7
	DefaultWindow      = 65535
	DefaultTTL         = 64
)

// Config sets what the SYN-ACK advertises on behalf of the protected host.
type Config struct {
	MSS         uint16
	WindowScale uint8
	Window      uint16
	TTL         uint8
}

// Responder is stateless and safe for concurrent use; each caller brings
// its own serialize buffer.
type Responder struct {
	cfg  Config
	opts gopacket.SerializeOptions
}

var errNotRedirect = errors.New("responder: result is not a cookie redirect")

// New creates a Responder, filling zero fields of cfg with defaults.
func New(cfg Config) *Responder {
	if cfg.MSS == 0 {
		cfg.MSS = DefaultMSS
	}
	if cfg.WindowScale == 0 {
		cfg.WindowScale = DefaultWindowScale
	}
	if cfg.WindowScale > 14 {
		cfg.WindowScale = 14
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	return &Responder{
		cfg:  cfg,
		opts: gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
	}
}

// SynAck serializes into buf the SYN-ACK answering the SYN classified in
// res: addresses and ports swapped, sequence number set to the cookie,
// acknowledging the client ISN. Timestamps, SACK and window scaling are
// only offered when the client offered them. The Ethernet header is
// written when the SYN carried one.
func (r *Responder) SynAck(buf gopacket.SerializeBuffer, res classifier.Result, now time.Time) error {
	if res.Verdict != classifier.RedirectToCookie {
		return errNotRedirect
	}
	hdr := &res.Header

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      r.cfg.TTL,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(hdr.DstIP.AsSlice()),
		DstIP:    net.IP(hdr.SrcIP.AsSlice()),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(hdr.DstPort),
		DstPort: layers.TCPPort(hdr.SrcPort),
		Seq:     res.Cookie,
		Ack:     hdr.Seq + 1,
		SYN:     true,
		ACK:     true,
		Window:  r.cfg.Window,
		Options: r.options(&hdr.Options, now),
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	if !hdr.HasL2 {
		return gopacket.SerializeLayers(buf, r.opts, ip, tcp)
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(hdr.DstMAC[:]),
		DstMAC:       net.HardwareAddr(hdr.SrcMAC[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	return gopacket.SerializeLayers(buf, r.opts, eth, ip, tcp)
}

// options lays the SYN-ACK options out the way Linux does.
func (r *Responder) options(client *core.TCPOptions, now time.Time) []layers.TCPOption {
	nop := layers.TCPOption{OptionType: layers.TCPOptionKindNop, OptionLength: 1}
	sack := layers.TCPOption{OptionType: layers.TCPOptionKindSACKPermitted, OptionLength: 2}

	opts := make([]layers.TCPOption, 0, 6)
	opts = append(opts, layers.TCPOption{
		OptionType:   layers.TCPOptionKindMSS,
		OptionLength: 4,
		OptionData:   []byte{byte(r.cfg.MSS >> 8), byte(r.cfg.MSS)},
	})

	if client.HasTimestamps {
		if client.SACKPermitted {
			opts = append(opts, sack)
		} else {
			opts = append(opts, nop, nop)
		}
		val := uint32(now.UnixMilli())
		ecr := client.TSVal
		opts = append(opts, layers.TCPOption{
			OptionType:   layers.TCPOptionKindTimestamps,
			OptionLength: 10,
			OptionData: []byte{
				byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val),
				byte(ecr >> 24), byte(ecr >> 16), byte(ecr >> 8), byte(ecr),
			},
		})
	} else if client.SACKPermitted {
		opts = append(opts, nop, nop, sack)
	}

	if client.HasWindowScale {
		opts = append(opts, nop, layers.TCPOption{
			OptionType:   layers.TCPOptionKindWindowScale,
			OptionLength: 3,
			OptionData:   []byte{r.cfg.WindowScale},
		})
	}
	return opts
}
