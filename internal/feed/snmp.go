package feed

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gosnmp/gosnmp"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/validation"
)

var snmpLog = logging.Component("feed.snmp")

// SNMPDevice configures one instrument scanned over SNMP. The values of
// OIDs, in order, form the device's positional value array.
type SNMPDevice struct {
	// Device is the catalog device the scan belongs to.
	Device string

	Host string
	Port uint16
	OIDs []string

	// v2c
	Community string

	// v3
	SecurityName  string
	SecurityLevel string
	AuthProtocol  string
	AuthPassword  string
	PrivProtocol  string
	PrivPassword  string
	ContextName   string

	// Timing
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// Validate checks the device configuration.
func (d *SNMPDevice) Validate() error {
	if d.Device == "" {
		return fmt.Errorf("device is required")
	}
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if len(d.OIDs) == 0 {
		return fmt.Errorf("at least one OID is required")
	}
	if len(d.OIDs) > gosnmp.MaxOids {
		return fmt.Errorf("%d OIDs exceed the limit of %d per GET", len(d.OIDs), gosnmp.MaxOids)
	}
	for _, oid := range d.OIDs {
		if err := validation.ValidateOID(oid); err != nil {
			return err
		}
	}
	if d.SecurityName == "" && d.Community == "" {
		return fmt.Errorf("SNMP v2c requires community string (refusing to use insecure default)")
	}
	return nil
}

// snmpClient is the part of gosnmp a scan needs.
type snmpClient interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

type goSNMPClient struct {
	*gosnmp.GoSNMP
}

func (c goSNMPClient) Close() error {
	return c.Conn.Close()
}

// SNMP scans devices periodically, one GET of all OIDs per scan.
type SNMP struct {
	devices []SNMPDevice
	sink    Sink
	dial    func(ctx context.Context, d SNMPDevice) (snmpClient, error)

	scans    atomic.Int64
	rejected atomic.Int64
	failures atomic.Int64
}

var _ Source = (*SNMP)(nil)

// NewSNMP creates an SNMP source delivering to sink.
func NewSNMP(devices []SNMPDevice, sink Sink) *SNMP {
	return &SNMP{
		devices: devices,
		sink:    sink,
		dial:    dialSNMP,
	}
}

// Name implements Source.
func (s *SNMP) Name() string { return "snmp" }

// Run scans every device on its own interval until ctx is done.
func (s *SNMP) Run(ctx context.Context) error {
	for i := range s.devices {
		if err := s.devices[i].Validate(); err != nil {
			return fmt.Errorf("snmp device %s: %w", s.devices[i].Device, err)
		}
	}

	snmpLog.Info("starting SNMP scans", "devices", len(s.devices))

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range s.devices {
		g.Go(func() error {
			s.poll(ctx, d)
			return nil
		})
	}
	return g.Wait()
}

func (s *SNMP) poll(ctx context.Context, d SNMPDevice) {
	interval := d.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx = logging.ContextWithDevice(ctx, d.Device)
	dlog := logging.WithContext(ctx).With("component", "feed.snmp", "host", d.Host)
	dlog.Info("scanning", "oids", len(d.OIDs), "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Scan(ctx, d); err != nil {
				dlog.Warn("scan failed", "error", err)
			}
		}
	}
}

// Scan performs one GET and hands the values to the sink. A scan in which
// any OID cannot be read is dropped as a whole.
func (s *SNMP) Scan(ctx context.Context, d SNMPDevice) error {
	s.scans.Add(1)

	client, err := s.dial(ctx, d)
	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	select {
	case <-ctx.Done():
		s.failures.Add(1)
		return ctx.Err()
	default:
	}

	pkt, err := client.Get(d.OIDs)
	if err != nil {
		s.failures.Add(1)
		return fmt.Errorf("get: %w", err)
	}

	values, err := packetValues(d.OIDs, pkt)
	if err != nil {
		s.failures.Add(1)
		return err
	}

	if err := s.sink.OnBatch(d.Device, values); err != nil {
		s.rejected.Add(1)
		return err
	}
	return nil
}

// packetValues orders the variables of pkt by oids.
func packetValues(oids []string, pkt *gosnmp.SnmpPacket) ([]float64, error) {
	byOID := make(map[string]gosnmp.SnmpPDU, len(pkt.Variables))
	for _, v := range pkt.Variables {
		byOID[strings.TrimPrefix(v.Name, ".")] = v
	}

	values := make([]float64, len(oids))
	for i, oid := range oids {
		v, ok := byOID[strings.TrimPrefix(oid, ".")]
		if !ok {
			return nil, fmt.Errorf("oid %s: not in response", oid)
		}
		val, err := pduValue(v)
		if err != nil {
			return nil, fmt.Errorf("oid %s: %w", oid, err)
		}
		values[i] = val
	}
	return values, nil
}

// pduValue converts a variable to a reading.
func pduValue(v gosnmp.SnmpPDU) (float64, error) {
	switch v.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32,
		gosnmp.Uinteger32, gosnmp.TimeTicks:
		f, _ := new(big.Float).SetInt(gosnmp.ToBigInt(v.Value)).Float64()
		return f, nil

	case gosnmp.OpaqueFloat:
		return float64(v.Value.(float32)), nil

	case gosnmp.OpaqueDouble:
		return v.Value.(float64), nil

	case gosnmp.OctetString:
		// Instruments often report readings like "2.4E-09" as text.
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v.Value.([]byte))), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %w", err)
		}
		return f, nil

	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
		return 0, fmt.Errorf("OID not found")

	default:
		return 0, fmt.Errorf("unsupported type: %v", v.Type)
	}
}

// Stats returns source counters.
func (s *SNMP) Stats() Stats {
	return Stats{
		Scans:    s.scans.Load(),
		Rejected: s.rejected.Load(),
		Failures: s.failures.Load(),
	}
}

// =============================================================================
// SNMP Client Creation
// =============================================================================

func dialSNMP(ctx context.Context, d SNMPDevice) (snmpClient, error) {
	port := d.Port
	if port == 0 {
		port = 161
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	snmp := &gosnmp.GoSNMP{
		Target:  d.Host,
		Port:    port,
		Timeout: timeout,
		Retries: d.Retries,
		Context: ctx,
		MaxOids: gosnmp.MaxOids,
	}

	// Configure version based on presence of security name
	if d.SecurityName != "" {
		snmp.Version = gosnmp.Version3
		snmp.SecurityModel = gosnmp.UserSecurityModel
		snmp.MsgFlags = msgFlags(d.SecurityLevel)
		snmp.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 d.SecurityName,
			AuthenticationProtocol:   authProtocol(d.AuthProtocol),
			AuthenticationPassphrase: d.AuthPassword,
			PrivacyProtocol:          privProtocol(d.PrivProtocol),
			PrivacyPassphrase:        d.PrivPassword,
		}
		if d.ContextName != "" {
			snmp.ContextName = d.ContextName
		}
	} else {
		snmp.Version = gosnmp.Version2c
		snmp.Community = d.Community
	}

	if err := snmp.Connect(); err != nil {
		return nil, err
	}
	return goSNMPClient{snmp}, nil
}

func msgFlags(level string) gosnmp.SnmpV3MsgFlags {
	switch level {
	case "authNoPriv":
		return gosnmp.AuthNoPriv
	case "authPriv":
		return gosnmp.AuthPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func authProtocol(protocol string) gosnmp.SnmpV3AuthProtocol {
	switch protocol {
	case "MD5":
		return gosnmp.MD5
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func privProtocol(protocol string) gosnmp.SnmpV3PrivProtocol {
	switch protocol {
	case "DES":
		return gosnmp.DES
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}
