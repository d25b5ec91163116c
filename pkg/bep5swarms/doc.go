// Package bep5swarms computes BEP-5 swarm names and their SHA-1
// infohashes for the three kinds of swarm ouinet tracks on the
// Mainline DHT: an injector's own reachability swarm, its bridges'
// swarm, and the per-URI swarm of clients holding a verified cached
// copy of a given key.
//
// Swarm names follow spec.md §6's
//
//	ed25519:<BASE32UP(pubkey)>/v<proto>/{injectors|bridges|uri/<key>}
//
// and the DHT info-hash used with tracker_get_peers/tracker_announce
// is SHA-1 of that name's UTF-8 bytes. BASE32UP is unpadded,
// upper-case RFC 4648 base32, matching the original implementation's
// boost::archive::iterators::base32_from_binary encoding.
package bep5swarms
