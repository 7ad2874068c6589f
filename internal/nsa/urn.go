// Package nsa holds the identity helpers and request header shared by the
// northbound and southbound request interfaces (spec §6).
package nsa

import "fmt"

const (
	stpPrefix = "urn:ogf:network:stp:"
	netPrefix = "urn:ogf:network:"
)

// NetworkURN returns the canonical URN for a network identified by name,
// e.g. "urn:ogf:network:aruba". The core must always build these through
// this function so that persisted and wire forms never diverge (spec §6).
func NetworkURN(networkName string) string {
	return netPrefix + networkName
}

// NSAURN returns the canonical URN for an agent managing networkName,
// e.g. "urn:ogf:network:aruba:nsa".
func NSAURN(networkName string) string {
	return netPrefix + networkName + ":nsa"
}

// STPURN returns the canonical URN for a service termination point.
func STPURN(networkID, portID string) string {
	return stpPrefix + networkID + ":" + portID
}

// Header is the header every request/notification on the symmetric
// request interface carries (spec §6).
type Header struct {
	ProtocolVersion      string
	CorrelationID        string
	RequesterNSA         string
	ProviderNSA          string
	ReplyToURL           string
	SessionSecurityAttrs map[string]string
}

func (h Header) String() string {
	return fmt.Sprintf("correlation=%s requester=%s provider=%s", h.CorrelationID, h.RequesterNSA, h.ProviderNSA)
}
