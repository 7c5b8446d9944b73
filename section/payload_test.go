package section

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/diagcap/errs"
)

func TestPayloadHeader_RoundTrip(t *testing.T) {
	h := PayloadHeader{UncompressedLen: 0x01020304}
	data := h.AppendTo(nil)
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, data)

	data = append(data, 0xAA, 0xBB)

	parsed, body, err := ParsePayloadHeader(data)
	require.NoError(t, err)
	require.Equal(t, h, parsed)
	require.Equal(t, []byte{0xAA, 0xBB}, body)
}

func TestParsePayloadHeader_TooShort(t *testing.T) {
	_, _, err := ParsePayloadHeader([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, errs.ErrPayloadTooShort)
}

func TestParsePayloadHeader_TooLarge(t *testing.T) {
	data := PayloadHeader{UncompressedLen: MaxBodySize + 1}.AppendTo(nil)

	_, _, err := ParsePayloadHeader(data)
	require.ErrorIs(t, err, errs.ErrPayloadSizeMismatch)
}

func TestPayloadHeader_Verify(t *testing.T) {
	h := PayloadHeader{UncompressedLen: 3}

	require.NoError(t, h.Verify([]byte{1, 2, 3}))
	require.ErrorIs(t, h.Verify([]byte{1, 2}), errs.ErrPayloadSizeMismatch)
}

func TestBodyCounts_RoundTrip(t *testing.T) {
	c := BodyCounts{MetricCount: 1200, DeltaCount: 299}
	data := c.AppendTo([]byte{0xFF})
	data = append(data, 0x00, 0x05)

	parsed, rest, err := ParseBodyCounts(data[1:])
	require.NoError(t, err)
	require.Equal(t, c, parsed)
	require.Equal(t, 300, parsed.SampleCount())
	require.Equal(t, []byte{0x00, 0x05}, rest)
}

func TestParseBodyCounts_TooShort(t *testing.T) {
	_, _, err := ParseBodyCounts(make([]byte, BodyCountsSize-1))
	require.ErrorIs(t, err, errs.ErrPayloadTooShort)
}
