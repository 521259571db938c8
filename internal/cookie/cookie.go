// Package cookie generates and validates stateless SYN cookies.
//
// A cookie is the 32-bit initial sequence number of the SYN-ACK sent for an
// admitted SYN. Its upper 24 bits are a keyed BLAKE2s MAC over the flow, the
// client ISN and the secret epoch; the low 8 bits carry the client's
// handshake options. Secrets rotate every interval and the previous secret is
// kept for one more interval, so a cookie is honoured until the end of the
// epoch after the one it was issued in.
package cookie

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2s"

	"firestige.xyz/synguard/internal/core"
)

// DefaultRotationInterval is the secret lifetime.
const DefaultRotationInterval = 64 * time.Second

// Config configures a Validator.
type Config struct {
	RotationInterval time.Duration
	Rand             io.Reader // secret source; crypto/rand when nil
}

type secret struct {
	epoch int64
	key   [blake2s.Size]byte
}

// secretRing is immutable once published.
type secretRing struct {
	current  secret
	previous *secret
}

// Validator issues and checks cookies. It is safe for concurrent use;
// readers never block on rotation.
type Validator struct {
	interval int64 // nanoseconds
	rand     io.Reader
	ring     atomic.Pointer[secretRing]

	rotations atomic.Uint64
}

// NewValidator creates a validator holding a fresh secret for the current epoch.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = DefaultRotationInterval
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	v := &Validator{
		interval: int64(cfg.RotationInterval),
		rand:     cfg.Rand,
	}
	s, err := v.newSecret(v.Epoch(time.Now()))
	if err != nil {
		return nil, err
	}
	v.ring.Store(&secretRing{current: s})
	return v, nil
}

// Epoch returns the secret epoch containing now.
func (v *Validator) Epoch(now time.Time) int64 {
	ns := now.UnixNano()
	e := ns / v.interval
	if ns < 0 && ns%v.interval != 0 {
		e--
	}
	return e
}

// Interval returns the rotation interval.
func (v *Validator) Interval() time.Duration { return time.Duration(v.interval) }

// Rotations returns the number of secret rotations performed.
func (v *Validator) Rotations() uint64 { return v.rotations.Load() }

// Generate returns the cookie for a SYN on flow carrying clientISN and opts.
func (v *Validator) Generate(flow core.Flow, clientISN uint32, opts core.TCPOptions, now time.Time) uint32 {
	r := v.ringAt(now)
	optByte := encodeOptions(opts)
	return mac(&r.current, flow, clientISN, optByte)<<8 | uint32(optByte)
}

// Validate checks the acknowledgment number of the handshake ACK on flow.
// clientISN is the sequence number of the original SYN, i.e. the ACK's
// sequence number minus one. On success the option summary embedded in the
// cookie is returned.
func (v *Validator) Validate(flow core.Flow, clientISN, ack uint32, now time.Time) (core.TCPOptions, bool) {
	r := v.ringAt(now)
	cookie := ack - 1
	optByte := uint8(cookie)

	ok := matches(&r.current, flow, clientISN, cookie)
	if r.previous != nil && matches(r.previous, flow, clientISN, cookie) {
		ok = true
	}
	if !ok {
		return core.TCPOptions{}, false
	}
	return decodeOptions(optByte), true
}

// Rotate installs a fresh secret if now is in a later epoch than the current
// secret. The outgoing secret is kept as previous only when the new epoch
// immediately follows it.
func (v *Validator) Rotate(now time.Time) error {
	_, err := v.advance(v.Epoch(now))
	return err
}

func (v *Validator) ringAt(now time.Time) *secretRing {
	r := v.ring.Load()
	if e := v.Epoch(now); e > r.current.epoch {
		if next, err := v.advance(e); err == nil {
			return next
		}
	}
	return r
}

func (v *Validator) advance(epoch int64) (*secretRing, error) {
	for {
		r := v.ring.Load()
		if epoch <= r.current.epoch {
			return r, nil
		}
		s, err := v.newSecret(epoch)
		if err != nil {
			return r, err
		}
		next := &secretRing{current: s}
		if epoch == r.current.epoch+1 {
			prev := r.current
			next.previous = &prev
		}
		if v.ring.CompareAndSwap(r, next) {
			v.rotations.Add(1)
			return next, nil
		}
	}
}

func (v *Validator) newSecret(epoch int64) (secret, error) {
	s := secret{epoch: epoch}
	if _, err := io.ReadFull(v.rand, s.key[:]); err != nil {
		return s, fmt.Errorf("read cookie secret: %w", err)
	}
	return s, nil
}

func matches(s *secret, flow core.Flow, clientISN, cookie uint32) bool {
	want := mac(s, flow, clientISN, uint8(cookie))<<8 | cookie&0xFF
	return subtle.ConstantTimeEq(int32(want), int32(cookie)) == 1
}

// mac returns 24 bits of BLAKE2s-128 keyed by s over the flow, the client
// ISN, the epoch and the option byte.
func mac(s *secret, flow core.Flow, clientISN uint32, optByte uint8) uint32 {
	var msg [49]byte
	src := flow.SrcIP.As16()
	dst := flow.DstIP.As16()
	copy(msg[0:16], src[:])
	copy(msg[16:32], dst[:])
	binary.BigEndian.PutUint16(msg[32:34], flow.SrcPort)
	binary.BigEndian.PutUint16(msg[34:36], flow.DstPort)
	binary.BigEndian.PutUint32(msg[36:40], clientISN)
	binary.BigEndian.PutUint64(msg[40:48], uint64(s.epoch))
	msg[48] = optByte

	h, err := blake2s.New128(s.key[:])
	if err != nil {
		// Only reachable with an invalid key size.
		panic(err)
	}
	h.Write(msg[:])
	var sum [blake2s.Size128]byte
	h.Sum(sum[:0])
	return uint32(sum[0])<<16 | uint32(sum[1])<<8 | uint32(sum[2])
}
