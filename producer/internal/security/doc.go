// Package security inspects TLS certificates the producer depends on.
//
// Check dials the server endpoint with the producer's TLS settings and
// reports the leaf certificate. CheckFile reads the producer's own client
// certificate. Both classify expiry as valid, expiring (30 days or less) or
// expired; the producer logs the result at startup when mTLS is configured.
package security
