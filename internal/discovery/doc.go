// Package discovery finds Loxone Miniservers on the local network over mDNS.
//
// Miniservers advertise an "_http._tcp" service. They are told apart from
// other HTTP services by their serial number, which is the MAC address and
// always starts with the Loxone prefix 504F94. The serial is looked for in
// the instance name, the host name and the TXT records.
//
// # Usage Example
//
//	found, err := discovery.Scan(ctx, 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	for _, ms := range found {
//	    fmt.Printf("%s at %s\n", ms.Name, ms.Address())
//	}
//
// # Network Requirements
//
// Multicast must be allowed on the interface and UDP port 5353 must not be
// filtered. Miniservers on another subnet are not found.
package discovery
