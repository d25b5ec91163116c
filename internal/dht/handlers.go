package dht

import (
	"crypto/ed25519"
	"errors"

	"github.com/dem31/ouinet/pkg/bencode"
	"github.com/dem31/ouinet/pkg/types"
)

// ============================================================================
//                              入站查询处理
// ============================================================================

// handleQuery dispatches an inbound "q" message to the matching BEP-5/
// BEP-44 handler and returns either a result dict or a krpcError.
func (n *Node) handleQuery(m *message, from types.Endpoint) (bencode.Dict, *krpcError) {
	switch m.Query {
	case "ping":
		return n.handlePing(from)
	case "find_node":
		return n.handleFindNode(m.Args, from)
	case "get_peers":
		return n.handleGetPeers(m.Args, from)
	case "announce_peer":
		return n.handleAnnouncePeer(m.Args, from)
	case "get":
		return n.handleGet(m.Args, from)
	case "put":
		return n.handlePut(m.Args, from)
	default:
		return nil, &krpcError{Code: ErrCodeMethodUnknown, Message: "unknown method"}
	}
}

func (n *Node) resultBase() bencode.Dict {
	return bencode.NewDict(bencode.KV{Key: "id", Value: n.id.Bytes()})
}

func (n *Node) handlePing(from types.Endpoint) (bencode.Dict, *krpcError) {
	return n.resultBase(), nil
}

// nodesReplyFor returns the "nodes" (or "nodes6") key appropriate to
// from's address family, populated with the K closest known contacts to
// target. A contact whose id equals target is returned alone.
func (n *Node) nodesReplyFor(target types.ID, from types.Endpoint) (bencode.Dict, error) {
	if entry := n.routingTable.Find(target); entry != nil {
		return n.encodeContacts([]types.Contact{entry.Contact}, from)
	}
	closest := n.routingTable.FindClosest(target, K)
	return n.encodeContacts(closest, from)
}

func (n *Node) encodeContacts(contacts []types.Contact, from types.Endpoint) (bencode.Dict, error) {
	v6 := from.IP.Is6() && !from.IP.Is4In6()
	b, err := bencode.EncodeCompactNodes(contacts, v6)
	if err != nil {
		return nil, err
	}
	key := "nodes"
	if v6 {
		key = "nodes6"
	}
	return n.resultBase().Set(key, b), nil
}

func (n *Node) handleFindNode(args bencode.Dict, from types.Endpoint) (bencode.Dict, *krpcError) {
	targetBytes, ok := args.GetBytes("target")
	if !ok {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "missing target"}
	}
	target, err := types.IDFromBytes(targetBytes)
	if err != nil {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "malformed target"}
	}
	reply, err := n.nodesReplyFor(target, from)
	if err != nil {
		return nil, &krpcError{Code: ErrCodeServer, Message: err.Error()}
	}
	return reply, nil
}

func (n *Node) handleGetPeers(args bencode.Dict, from types.Endpoint) (bencode.Dict, *krpcError) {
	infoHashBytes, ok := args.GetBytes("info_hash")
	if !ok {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "missing info_hash"}
	}
	infoHash, err := types.IDFromBytes(infoHashBytes)
	if err != nil {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "malformed info_hash"}
	}

	reply, err := n.nodesReplyFor(infoHash, from)
	if err != nil {
		return nil, &krpcError{Code: ErrCodeServer, Message: err.Error()}
	}

	token := n.tokens.Issue(addrKeyBytes(from), infoHash.Bytes())
	reply = reply.Set("token", token)

	if peers := n.peers.GetPeers(infoHash, 50); len(peers) > 0 {
		if encoded, err := bencode.EncodeCompactPeers(peers); err == nil {
			values := make([]any, len(encoded))
			for i, e := range encoded {
				values[i] = e
			}
			reply = reply.Set("values", values)
		}
	}
	return reply, nil
}

func (n *Node) handleAnnouncePeer(args bencode.Dict, from types.Endpoint) (bencode.Dict, *krpcError) {
	infoHashBytes, ok := args.GetBytes("info_hash")
	if !ok {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "missing info_hash"}
	}
	infoHash, err := types.IDFromBytes(infoHashBytes)
	if err != nil {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "malformed info_hash"}
	}
	token, ok := args.GetBytes("token")
	if !ok || !n.tokens.Verify(token, addrKeyBytes(from), infoHash.Bytes()) {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "bad token"}
	}
	if !n.isResponsibleFor(infoHash) {
		return nil, &krpcError{Code: ErrCodeGeneric, Message: "not responsible"}
	}

	port, _ := args.GetInt("port")
	peerEP := types.Endpoint{IP: from.IP, Port: uint16(port)}
	n.peers.Announce(infoHash, peerEP)
	return n.resultBase(), nil
}

func (n *Node) handleGet(args bencode.Dict, from types.Endpoint) (bencode.Dict, *krpcError) {
	targetBytes, ok := args.GetBytes("target")
	if !ok {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "missing target"}
	}
	target, err := types.IDFromBytes(targetBytes)
	if err != nil {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "malformed target"}
	}

	reply, err := n.nodesReplyFor(target, from)
	if err != nil {
		return nil, &krpcError{Code: ErrCodeServer, Message: err.Error()}
	}
	token := n.tokens.Issue(addrKeyBytes(from), target.Bytes())
	reply = reply.Set("token", token)

	reqSeq, hasSeq := args.GetInt("seq")

	if mutable, ok := n.items.GetMutable(target); ok {
		if !hasSeq || reqSeq < mutable.seq {
			reply = reply.Set("v", mustDecodeValue(mutable.value))
			reply = reply.Set("k", []byte(mutable.publicKey))
			reply = reply.Set("seq", mutable.seq)
			reply = reply.Set("sig", mutable.signature)
		}
		return reply, nil
	}

	if value, ok := n.items.GetImmutable(target); ok {
		reply = reply.Set("v", mustDecodeValue(value))
	}
	return reply, nil
}

func mustDecodeValue(bencodedValue []byte) any {
	v, _, err := bencode.Decode(bencodedValue)
	if err != nil {
		return bencodedValue
	}
	return v
}

func (n *Node) handlePut(args bencode.Dict, from types.Endpoint) (bencode.Dict, *krpcError) {
	token, ok := args.GetBytes("token")
	if !ok {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "missing token"}
	}

	vRaw, ok := args.Get("v")
	if !ok {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "missing v"}
	}
	value, err := bencode.Encode(vRaw)
	if err != nil {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "malformed v"}
	}
	if len(value) > MaxItemValueSize {
		return nil, &krpcError{Code: ErrCodeValueTooBig, Message: "value too big"}
	}

	salt, _ := args.GetBytes("salt")
	if len(salt) > MaxSaltSize {
		return nil, &krpcError{Code: ErrCodeSaltTooBig, Message: "salt too big"}
	}

	pk, hasKey := args.GetBytes("k")
	if !hasKey {
		return n.putImmutable(token, value, from)
	}
	return n.putMutable(token, ed25519.PublicKey(pk), salt, value, args, from)
}

func (n *Node) putImmutable(token, value []byte, from types.Endpoint) (bencode.Dict, *krpcError) {
	key := ImmutableKey(value)
	if !n.tokens.Verify(token, addrKeyBytes(from), key.Bytes()) {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "bad token"}
	}
	if !n.isResponsibleFor(key) {
		return nil, &krpcError{Code: ErrCodeGeneric, Message: "not responsible"}
	}
	n.items.PutImmutable(key, value)
	return n.resultBase(), nil
}

func (n *Node) putMutable(token []byte, pk ed25519.PublicKey, salt, value []byte, args bencode.Dict, from types.Endpoint) (bencode.Dict, *krpcError) {
	key := MutableKey(pk, salt)
	if !n.tokens.Verify(token, addrKeyBytes(from), key.Bytes()) {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "bad token"}
	}
	if !n.isResponsibleFor(key) {
		return nil, &krpcError{Code: ErrCodeGeneric, Message: "not responsible"}
	}

	seq, ok := args.GetInt("seq")
	if !ok {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "missing seq"}
	}
	sig, ok := args.GetBytes("sig")
	if !ok {
		return nil, &krpcError{Code: ErrCodeProtocol, Message: "missing sig"}
	}
	if !VerifyMutableSignature(pk, salt, seq, value, sig) {
		return nil, &krpcError{Code: ErrCodeBadSignature, Message: "bad signature"}
	}

	var cas *int64
	if c, ok := args.GetInt("cas"); ok {
		cas = &c
	}

	item := &mutableItem{publicKey: pk, salt: salt, value: value, seq: seq, signature: sig}
	if err := n.items.PutMutable(key, item, cas); err != nil {
		if errors.Is(err, errCASMismatch) {
			return nil, &krpcError{Code: ErrCodeCASMismatch, Message: "cas mismatch"}
		}
		return nil, &krpcError{Code: ErrCodeSeqRegression, Message: "sequence regression"}
	}
	return n.resultBase(), nil
}

// addrKeyBytes is the "requester_ip" half of the token HMAC input: the raw
// IP bytes, deliberately excluding the port so a token survives a peer
// changing source port across NAT rebinding.
func addrKeyBytes(ep types.Endpoint) []byte {
	return ep.IP.AsSlice()
}
