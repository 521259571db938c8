//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/synguard/internal/config"
	"firestige.xyz/synguard/internal/core/decoder"
)

func init() {
	Register(config.SourceAFPacket, openAFPacket)
}

// afpacketSource reads one fanout member of a TPACKET_V3 ring. It also
// transmits, so REDIRECT_TO_COOKIE verdicts can be answered on the same
// interface.
type afpacketSource struct {
	handle *afpacket.TPacket
}

func openAFPacket(cfg config.CaptureConfig, queue int) (Source, error) {
	frameSize, blockSize, numBlocks, err := ringSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(time.Duration(cfg.TimeoutMS)*time.Millisecond),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket %s: %w", cfg.Interface, err)
	}

	filter, err := TCPFilter(decoder.LinkEthernet, cfg.SnapLen)
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("afpacket filter: %w", err)
	}
	if err := tp.SetBPF(filter); err != nil {
		tp.Close()
		return nil, fmt.Errorf("afpacket set filter: %w", err)
	}

	// Flow-hashed fanout keeps every segment of a source on one queue.
	if cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.FanoutID); err != nil {
			tp.Close()
			return nil, fmt.Errorf("afpacket fanout %d queue %d: %w", cfg.FanoutID, queue, err)
		}
	}

	return &afpacketSource{handle: tp}, nil
}

func (s *afpacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return s.handle.ZeroCopyReadPacketData()
}

func (s *afpacketSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *afpacketSource) WritePacketData(data []byte) error {
	return s.handle.WritePacketData(data)
}

func (s *afpacketSource) Close() error {
	s.handle.Close()
	return nil
}

// IsTimeout reports a poll timeout, after which reading may simply resume.
func IsTimeout(err error) bool {
	return errors.Is(err, afpacket.ErrTimeout)
}
