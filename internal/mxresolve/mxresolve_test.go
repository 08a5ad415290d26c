package mxresolve

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mx      []*net.MX
	mxErr   error
	hosts   []string
	hostErr error
	calls   int
}

func (f *fakeResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	f.calls++
	return f.mx, f.mxErr
}

func (f *fakeResolver) LookupHost(ctx context.Context, domain string) ([]string, error) {
	return f.hosts, f.hostErr
}

func TestResolveMXSortsByPreference(t *testing.T) {
	fr := &fakeResolver{mx: []*net.MX{
		{Host: "b.example.com.", Pref: 20},
		{Host: "a.example.com.", Pref: 10},
	}}
	c := NewWithResolver(time.Second, time.Minute, fr)

	got, err := c.ResolveMX(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.example.com", got[0].Host)
	assert.Equal(t, "b.example.com", got[1].Host)
}

func TestResolveMXFallsBackToA(t *testing.T) {
	fr := &fakeResolver{
		mxErr: &net.DNSError{Err: "no such host", IsNotFound: true},
		hosts: []string{"203.0.113.5"},
	}
	c := NewWithResolver(time.Second, time.Minute, fr)

	got, err := c.ResolveMX(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "203.0.113.5", got[0].Host)
	assert.Equal(t, 0, got[0].Preference)
}

func TestResolveMXEmptyWhenNothingFound(t *testing.T) {
	fr := &fakeResolver{
		mxErr:   &net.DNSError{Err: "no such host", IsNotFound: true},
		hostErr: &net.DNSError{Err: "no such host", IsNotFound: true},
	}
	c := NewWithResolver(time.Second, time.Minute, fr)

	got, err := c.ResolveMX(context.Background(), "nowhere.invalid")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveMXWrapsResolveError(t *testing.T) {
	fr := &fakeResolver{mxErr: errors.New("timeout")}
	c := NewWithResolver(time.Second, time.Minute, fr)

	_, err := c.ResolveMX(context.Background(), "example.com")
	assert.Error(t, err)
}

func TestResolveMXCachesSingleFlight(t *testing.T) {
	fr := &fakeResolver{mx: []*net.MX{{Host: "mx.example.com.", Pref: 10}}}
	c := NewWithResolver(time.Second, time.Minute, fr)

	for i := 0; i < 5; i++ {
		_, err := c.ResolveMX(context.Background(), "example.com")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fr.calls, "expected a single underlying lookup")
}
