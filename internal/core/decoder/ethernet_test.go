package decoder

import (
	"errors"
	"testing"

	"firestige.xyz/synguard/internal/core"
)

func TestDecodeEthernetBasic(t *testing.T) {
	// Simple Ethernet frame: Dst MAC, Src MAC, EtherType
	data := []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, // Dst MAC
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, // Src MAC
		0x08, 0x00, // EtherType: IPv4
		0x45, 0x00, // Payload (start of IP header)
	}

	eth, payload, err := decodeEthernet(data)
	if err != nil {
		t.Fatalf("decodeEthernet failed: %v", err)
	}

	expectedDstMAC := [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	if eth.dstMAC != expectedDstMAC {
		t.Errorf("Expected DstMAC %v, got %v", expectedDstMAC, eth.dstMAC)
	}
	expectedSrcMAC := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	if eth.srcMAC != expectedSrcMAC {
		t.Errorf("Expected SrcMAC %v, got %v", expectedSrcMAC, eth.srcMAC)
	}
	if eth.etherType != etherTypeIPv4 {
		t.Errorf("Expected EtherType 0x0800, got 0x%04x", eth.etherType)
	}
	if len(payload) != 2 {
		t.Errorf("Expected payload length 2, got %d", len(payload))
	}
}

func TestDecodeEthernetWithVLAN(t *testing.T) {
	data := []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, // Dst MAC
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, // Src MAC
		0x88, 0xA8, // EtherType: QinQ
		0x00, 0x64, // S-TAG VLAN 100
		0x81, 0x00, // EtherType: VLAN
		0x00, 0x0A, // C-TAG VLAN 10
		0x08, 0x00, // Inner EtherType: IPv4
		0x45, 0x00, // Payload
	}

	eth, payload, err := decodeEthernet(data)
	if err != nil {
		t.Fatalf("decodeEthernet failed: %v", err)
	}
	if eth.etherType != etherTypeIPv4 {
		t.Errorf("Expected inner EtherType 0x0800, got 0x%04x", eth.etherType)
	}
	if len(payload) != 2 || payload[0] != 0x45 {
		t.Errorf("Unexpected payload %v", payload)
	}
}

func TestDecodeEthernetTooManyVLANTags(t *testing.T) {
	data := []byte{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0x81, 0x00, 0x00, 0x01,
		0x81, 0x00, 0x00, 0x02,
		0x81, 0x00, 0x00, 0x03,
		0x08, 0x00,
	}
	_, _, err := decodeEthernet(data)
	if !errors.Is(err, core.ErrUnsupportedProto) {
		t.Errorf("expected ErrUnsupportedProto, got %v", err)
	}
}

func TestDecodeEthernetTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", make([]byte, 13)},
		{"truncated vlan", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x81, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeEthernet(tt.data)
			if !errors.Is(err, core.ErrPacketTooShort) {
				t.Errorf("expected ErrPacketTooShort, got %v", err)
			}
		})
	}
}
