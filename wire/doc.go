// Package wire implements the spectrad binary request/response protocol.
//
// Every TCP connection carries exactly one exchange: the client writes one request,
// the daemon writes at most one response and closes the connection.
//
// Request layout (big endian):
//
//	+----------+----------+-----------------------------+
//	| command  | length N | N bytes of ASCII parameters |
//	| 2 bytes  | 2 bytes  |                             |
//	+----------+----------+-----------------------------+
//
// The parameters start with the decimal device index, followed by the Delimiter byte and
// the command specific arguments, e.g. "0:10000" for "device 0, 10000 µs".
//
// Response layout:
//
//	+----------+-----------------+
//	| status   | payload         |
//	| 2 bytes  |                 |
//	+----------+-----------------+
//
// Bulk responses (spectra, wavelengths, raw samples) prefix the payload with a 4-byte
// big-endian length. The bulk body is either ASCII space separated decimals or raw binary
// samples depending on the command.
//
// A request that cannot be routed (malformed header, unknown device, unknown command) is
// answered by closing the connection without a response. Application level failures are
// always answered with a non-zero Status and the error text as payload.
package wire
