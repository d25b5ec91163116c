// Package bencode implements the minimal bencoding codec the DHT wire
// protocol (BEP-3/BEP-5/BEP-44) needs: byte strings, signed integers,
// lists, and dictionaries whose keys are kept in sorted byte order so
// that a decoded-then-reencoded mutable value signs deterministically.
//
// It also implements the compact-endpoint codec used for "nodes"/"nodes6"
// and peer value lists: 6 bytes for IPv4 (address + port, network order),
// 18 bytes for IPv6.
package bencode
