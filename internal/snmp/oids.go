package snmp

// IF-MIB columns used by the interface sweep.
const (
	OIDIfDescr      = ".1.3.6.1.2.1.2.2.1.2"
	OIDIfPhysAddr   = ".1.3.6.1.2.1.2.2.1.6"
	OIDIfOperStatus = ".1.3.6.1.2.1.2.2.1.8"
	OIDIfInOctets   = ".1.3.6.1.2.1.2.2.1.10"
	OIDIfOutOctets  = ".1.3.6.1.2.1.2.2.1.16"
)

// LLDP-MIB columns used for adjacency discovery.
const (
	OIDLLDPLocSysName    = ".1.0.8802.1.1.2.1.3.3.0"
	OIDLLDPRemPortDesc   = ".1.0.8802.1.1.2.1.4.1.1.8"
	OIDLLDPRemSysName    = ".1.0.8802.1.1.2.1.4.1.1.9"
	OIDLLDPRemManAddrOID = ".1.0.8802.1.1.2.1.4.2.1.4"
)

// System group.
const (
	OIDSysDescr = ".1.3.6.1.2.1.1.1.0"
	OIDSysName  = ".1.3.6.1.2.1.1.5.0"
)
