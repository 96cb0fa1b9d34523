package network

import "errors"

// ErrPeerDisconnected is returned by a NetworkSender once the remote peer
// host it targets has dropped its multiplexed connection. Spec section
// 4.4: disconnection is terminal for every endpoint the peer owned.
var ErrPeerDisconnected = errors.New("network: peer disconnected")
