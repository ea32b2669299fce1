// Package linkhealth implements the link-health probe used by SlimLink:
// bit-error-rate and lock-status polling against the inter-board mesh,
// grounded on the teacher's gosnmp-based monitoring driver (SNMP is used
// here purely for telemetry, never configuration, matching the
// teacher's own split between CLI/NETCONF for config and SNMP for
// stats).
package linkhealth

import (
	"context"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"
)

// LockStatus is the CDR-lock indicator polled from a link endpoint.
type LockStatus string

const (
	LockLocked   LockStatus = "LOCKED"
	LockUnlocked LockStatus = "UNLOCKED"
)

// Reading is one poll of a link endpoint's health counters.
type Reading struct {
	BitErrorRate float64
	Lock         LockStatus
	BlockAligned bool
	IdleWord     uint32
}

// Probe is the link-health driver contract consumed by SlimLink.
type Probe interface {
	Poll(ctx context.Context, endpoint string) (Reading, error)
}

// Object identifiers under the board's private enterprise MIB branch for
// SLIM link health counters.
const (
	oidBER          = "1.3.6.1.4.1.50000.1.1"
	oidLock         = "1.3.6.1.4.1.50000.1.2"
	oidBlockAligned = "1.3.6.1.4.1.50000.1.3"
	oidIdleWord     = "1.3.6.1.4.1.50000.1.4"
)

// SNMPProbe is the production driver: it polls the four SLIM health OIDs
// on the board hosting the given endpoint.
type SNMPProbe struct {
	community string
	port      uint16
	timeout   time.Duration
}

// NewSNMPProbe creates a production probe.
func NewSNMPProbe(community string) *SNMPProbe {
	return &SNMPProbe{community: community, port: 161, timeout: 5 * time.Second}
}

func (p *SNMPProbe) Poll(ctx context.Context, endpoint string) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	client := &gosnmp.GoSNMP{
		Target:    endpoint,
		Port:      p.port,
		Community: p.community,
		Version:   gosnmp.Version2c,
		Timeout:   p.timeout,
		Retries:   1,
	}
	if err := client.Connect(); err != nil {
		return Reading{}, fmt.Errorf("linkhealth: connect %s: %w", endpoint, err)
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{oidBER, oidLock, oidBlockAligned, oidIdleWord})
	if err != nil {
		return Reading{}, fmt.Errorf("linkhealth: snmp get %s: %w", endpoint, err)
	}
	if len(result.Variables) != 4 {
		return Reading{}, fmt.Errorf("linkhealth: unexpected variable count from %s", endpoint)
	}

	reading := Reading{}
	for i, v := range result.Variables {
		n := snmpInt(v)
		switch i {
		case 0:
			reading.BitErrorRate = float64(n) * 1e-12
		case 1:
			if n == 1 {
				reading.Lock = LockLocked
			} else {
				reading.Lock = LockUnlocked
			}
		case 2:
			reading.BlockAligned = n == 1
		case 3:
			reading.IdleWord = uint32(n)
		}
	}
	return reading, nil
}

// snmpInt normalizes the handful of integer-ish gosnmp variable types
// this probe polls into an int64.
func snmpInt(v gosnmp.SnmpPDU) int64 {
	switch val := v.Value.(type) {
	case int:
		return int64(val)
	case uint:
		return int64(val)
	case uint64:
		return int64(val)
	case int64:
		return val
	default:
		return 0
	}
}
