// Package signature authenticates client license requests.
//
// Requests carry a hex signature computed over a canonical serialization of
// the payload with the signature, timestamp and nonce fields removed:
//
//	h1 = sha256(canonical + secret)
//	sig = sha256(hex(h1) + secret)
//
// The construct is kept bit-for-bit compatible with the deployed client
// fleet. It is not a standard HMAC and the timestamp is deliberately outside
// the signed material, so a captured request can be replayed within the
// freshness window. That trade-off is inherited wire behavior; changing it
// would strand existing clients.
//
// Canonical serialization matches json.dumps(data, sort_keys=True) from the
// original producer: sorted keys, ", " and ": " separators, ASCII-only
// string escapes.
package signature
