package shm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CDumitra/k3po-nukleus-ext.java/internal/channel"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		raw     string
		want    ShmAddress
		wantErr string
	}{
		{
			raw: "shm://target",
			want: ShmAddress{
				Address: channel.Address{Partition: "target"},
				Cap:     DefaultStreamsCapacity,
			},
		},
		{
			raw: "shm://target?route=3&reply=source&duplex=true&cap=65536",
			want: ShmAddress{
				Address: channel.Address{Partition: "target", Route: 3, Reply: "source"},
				Config:  channel.Config{Duplex: true},
				Cap:     65536,
			},
		},
		{
			raw: "shm:///target?duplex=1",
			want: ShmAddress{
				Address: channel.Address{Partition: "target"},
				Config:  channel.Config{Duplex: true},
				Cap:     DefaultStreamsCapacity,
			},
		},
		{raw: "tcp://target", wantErr: "unsupported scheme"},
		{raw: "shm://", wantErr: "missing shm partition name"},
		{raw: "shm://target?cap=1000", wantErr: "power of two"},
		{raw: "shm://target?route=abc", wantErr: "invalid shm address options"},
		{raw: "shm://target?bogus=1", wantErr: "invalid shm address options"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAddress(tt.raw)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	a := channel.Address{Partition: "target", Route: 9, Reply: "source"}
	got, err := ParseAddress(a.String())
	require.NoError(t, err)
	require.Equal(t, a, got.Address)
}
