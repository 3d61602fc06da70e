// Package pebblestore implements a bounded key-value partition on Pebble.
//
// It gives host deployments (gateways, simulators, CI) the same entry
// accounting as the flash store on the device: TotalEntries caps the
// partition and Stats reports used, free and total entries computed with the
// domain cost rules, not Pebble's on-disk size.
//
// Key layout (byte-wise):
//
//	m/version          layout version
//	n/{namespace}      namespace marker
//	v/{namespace}/{key} encoded value (kind byte + payload)
//
// Writes staged on a handle are committed as one Pebble batch. With
// Options.NoSync unset every commit syncs the WAL.
package pebblestore
