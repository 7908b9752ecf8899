package mcproto

import (
	"bytes"

	"github.com/pkg/errors"
)

// playPacketIds holds the clientbound play packet IDs that changed between releases.
// Versions newer than the last entry are not modelled.
var playPacketIds = []struct {
	from          ProtocolVersion
	to            ProtocolVersion
	pluginMessage int
	disconnect    int
}{
	{from: 759, to: 759, pluginMessage: 0x15, disconnect: 0x17},
	{from: 760, to: 760, pluginMessage: 0x16, disconnect: 0x19},
	{from: 761, to: 761, pluginMessage: 0x15, disconnect: 0x17},
	{from: 762, to: 763, pluginMessage: 0x17, disconnect: 0x1A},
	{from: 764, to: 765, pluginMessage: 0x18, disconnect: 0x1B},
	{from: 766, to: 768, pluginMessage: 0x19, disconnect: 0x1D},
}

// ClientboundPlayPluginMessageSpecs lists the specs matching the clientbound play plugin message
func ClientboundPlayPluginMessageSpecs() []PacketSpec {
	specs := make([]PacketSpec, 0, len(playPacketIds))
	for _, ids := range playPacketIds {
		specs = append(specs, PacketSpec{ID: ids.pluginMessage, Direction: Clientbound, MinVersion: ids.from, MaxVersion: ids.to})
	}
	return specs
}

// ClientboundPlayDisconnectSpecs lists the specs matching the clientbound play disconnect
func ClientboundPlayDisconnectSpecs() []PacketSpec {
	specs := make([]PacketSpec, 0, len(playPacketIds))
	for _, ids := range playPacketIds {
		specs = append(specs, PacketSpec{ID: ids.disconnect, Direction: Clientbound, MinVersion: ids.from, MaxVersion: ids.to})
	}
	return specs
}

// PlayPluginMessage is a custom payload exchanged while playing
type PlayPluginMessage struct {
	Channel string
	Data    []byte
}

func DecodePlayPluginMessage(data []byte) (*PlayPluginMessage, error) {
	buffer := bytes.NewBuffer(data)
	channel, err := ReadString(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read plugin channel")
	}
	return &PlayPluginMessage{Channel: channel, Data: buffer.Bytes()}, nil
}
