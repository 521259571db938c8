// Package capture provides the frame sources feeding the engine workers and
// the injector used to answer SYNs with cookies.
package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/synguard/internal/config"
	"firestige.xyz/synguard/internal/core/decoder"
)

// Source delivers captured frames. The slice returned by ReadPacketData is
// only valid until the next call.
type Source interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close() error
}

// Injector transmits a fully built frame.
type Injector interface {
	WritePacketData(data []byte) error
}

// TimestampedInjector is an Injector that records frames, such as a
// PcapWriter, and can stamp them with the time of the frame being answered.
type TimestampedInjector interface {
	Injector
	WritePacketDataAt(data []byte, ts time.Time) error
}

// Opener opens the source for one receive queue.
type Opener func(cfg config.CaptureConfig, queue int) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register makes a source kind available to Open.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = open
}

// Open opens the configured source kind for one queue.
func Open(cfg config.CaptureConfig, queue int) (Source, error) {
	registryMu.RLock()
	open, ok := registry[cfg.Source]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("capture: unknown source %q", cfg.Source)
	}
	return open(cfg, queue)
}

// Queues returns how many sources OpenAll opens for cfg. Without a fanout
// group only one AF_PACKET socket is opened.
func Queues(cfg config.CaptureConfig) int {
	if cfg.Source == config.SourcePcap || cfg.FanoutID == 0 {
		return 1
	}
	if cfg.Queues > 0 {
		return cfg.Queues
	}
	return runtime.GOMAXPROCS(0)
}

// OpenAll opens one source per receive queue. On error, the sources opened
// so far are closed.
func OpenAll(cfg config.CaptureConfig) ([]Source, error) {
	n := Queues(cfg)
	sources := make([]Source, 0, n)
	for q := 0; q < n; q++ {
		src, err := Open(cfg, q)
		if err != nil {
			for _, s := range sources {
				s.Close()
			}
			return nil, fmt.Errorf("capture: open queue %d: %w", q, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// InjectorOf returns the injector of a source able to transmit.
func InjectorOf(src Source) (Injector, bool) {
	inj, ok := src.(Injector)
	return inj, ok
}

// ErrUnsupportedLink is returned for capture link types the decoder cannot parse.
var ErrUnsupportedLink = errors.New("capture: unsupported link type")

// DecoderLink maps a capture link type to the decoder's.
func DecoderLink(lt layers.LinkType) (decoder.LinkType, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return decoder.LinkEthernet, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return decoder.LinkRaw, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedLink, lt)
	}
}
