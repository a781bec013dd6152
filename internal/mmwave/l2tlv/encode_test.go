package l2tlv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mmwave/internal/mmwave/l1frames"
)

func TestBuildRawFrame_DecodesBack(t *testing.T) {
	t.Parallel()
	pts := []Point{{X: 1, Y: 2, Z: 0.5, Velocity: -1.5}, {X: -3, Y: 4, Velocity: 0.25}}
	info := []SideInfo{{SNR: 12.3, Noise: 4.5}, {SNR: 20, Noise: -1}}

	raw := BuildRawFrame(l1frames.Header{Version: 0x0306, FrameNumber: 42, NumDetectedObj: 2},
		Record{Type: TypeDetectedPoints, Value: EncodePoints(pts)},
		Record{Type: TypeSideInfo, Value: EncodeSideInfo(info)},
	)
	assert.Equal(t, uint32(2), raw.Header.NumTLVs)
	assert.Equal(t, len(raw.Payload), raw.Header.PayloadLen())

	f := Decoder{}.Decode(raw)
	require.False(t, f.Truncated)
	assert.Equal(t, pts, f.Points)
	require.Len(t, f.SideInfo, 2)
	assert.InDelta(t, 12.3, f.SideInfo[0].SNR, 1e-4)
	assert.InDelta(t, -1, f.SideInfo[1].Noise, 1e-4)
	assert.Equal(t, []Type{TypeDetectedPoints, TypeSideInfo}, f.Decoded)

	// the encoded header parses back to the same values
	h, err := l1frames.ParseHeader(raw.HeaderBytes[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(42), h.FrameNumber)
	assert.Equal(t, raw.Header.TotalPacketLen, h.TotalPacketLen)
}
