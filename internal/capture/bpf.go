package capture

import (
	"golang.org/x/net/bpf"

	"firestige.xyz/synguard/internal/core/decoder"
)

// TCPFilter assembles a classic BPF program accepting IPv4/TCP frames,
// untagged or behind one 802.1Q tag on Ethernet, truncated to snapLen.
// Everything else is filtered in the kernel.
func TCPFilter(link decoder.LinkType, snapLen int) ([]bpf.RawInstruction, error) {
	return bpf.Assemble(tcpProgram(link, snapLen))
}

func tcpProgram(link decoder.LinkType, snapLen int) []bpf.Instruction {
	accept := bpf.RetConstant{Val: uint32(snapLen)}
	reject := bpf.RetConstant{Val: 0}

	if link == decoder.LinkRaw {
		return []bpf.Instruction{
			bpf.LoadAbsolute{Off: 0, Size: 1},
			bpf.ALUOpConstant{Op: bpf.ALUOpShiftRight, Val: 4},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: 4, SkipFalse: 3},
			bpf.LoadAbsolute{Off: 9, Size: 1},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: 1},
			accept,
			reject,
		}
	}

	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 2},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.Jump{Skip: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x8100, SkipFalse: 5},
		bpf.LoadAbsolute{Off: 16, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 3},
		bpf.LoadAbsolute{Off: 27, Size: 1},
		// protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: 1},
		accept,
		reject,
	}
}
