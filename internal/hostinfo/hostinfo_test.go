package hostinfo

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostname(t *testing.T) {
	t.Parallel()

	name, err := Hostname()
	require.NoError(t, err)
	assert.NotEmpty(t, name)
}

func TestOutboundIPIsParseable(t *testing.T) {
	t.Parallel()

	ip := OutboundIP()
	assert.NotNil(t, net.ParseIP(ip), "OutboundIP returned %q", ip)
}
