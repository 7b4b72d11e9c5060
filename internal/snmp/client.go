// Package snmp wraps gosnmp behind a small Walker interface so the poll
// pipeline can be exercised against fakes.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"
)

// ErrNoSuchObject is returned when the agent answers but does not
// implement the requested object.
var ErrNoSuchObject = errors.New("no such object")

// Walker performs SNMP reads against a device. Implementations must be
// safe for concurrent use.
type Walker interface {
	Get(ctx context.Context, target, community, oid string) (any, error)
	Walk(ctx context.Context, target, community, baseOID string) (*Table, error)
}

// Client is the gosnmp-backed Walker. One UDP session is opened per
// operation; sessions are cheap and keeping none avoids sharing gosnmp
// state across goroutines.
type Client struct {
	port    uint16
	timeout time.Duration
	retries int
	log     zerolog.Logger
}

// NewClient builds a Walker speaking SNMPv2c.
func NewClient(port int, timeout time.Duration, retries int, log zerolog.Logger) *Client {
	return &Client{
		port:    uint16(port),
		timeout: timeout,
		retries: retries,
		log:     log.With().Str("component", "snmp").Logger(),
	}
}

func (c *Client) session(target, community string) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Target:             target,
		Port:               c.port,
		Community:          community,
		Version:            gosnmp.Version2c,
		Timeout:            c.timeout,
		Retries:            c.retries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     10,
		ExponentialTimeout: true,
	}
}

// Get reads a single scalar object.
func (c *Client) Get(ctx context.Context, target, community, oid string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess := c.session(target, community)
	if err := sess.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer sess.Conn.Close()

	result, err := sess.Get([]string{oid})
	if err != nil {
		return nil, fmt.Errorf("snmp get %s on %s: %w", oid, target, err)
	}
	if result.Error != gosnmp.NoError {
		return nil, fmt.Errorf("snmp get %s on %s: agent error %v", oid, target, result.Error)
	}
	if len(result.Variables) == 0 {
		return nil, fmt.Errorf("snmp get %s on %s: empty response", oid, target)
	}

	pdu := result.Variables[0]
	if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoSuchObject, oid, target)
	}

	return convert(pdu), nil
}

// Walk bulk-walks one column and returns the rows keyed by OID suffix.
func (c *Client) Walk(ctx context.Context, target, community, baseOID string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess := c.session(target, community)
	if err := sess.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer sess.Conn.Close()

	table := NewTable()
	err := sess.BulkWalk(baseOID, func(pdu gosnmp.SnmpPDU) error {
		table.Add(baseOID, pdu.Name, convert(pdu))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snmp walk %s on %s: %w", baseOID, target, err)
	}

	c.log.Trace().Str("target", target).Str("oid", baseOID).Int("rows", table.Len()).Msg("walk complete")

	return table, nil
}

// convert maps a PDU to the small set of Go types the decoders expect:
// []byte for octet strings, int64 for every numeric type, nil for
// missing objects.
func convert(pdu gosnmp.SnmpPDU) any {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return b
		}
		return pdu.Value
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).Int64()
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
		return nil
	default:
		return pdu.Value
	}
}
