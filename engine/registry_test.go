package engine

import (
	"testing"

	"github.com/flowmesh/flowmesh/chanx"
	"github.com/flowmesh/flowmesh/coord"
	"github.com/flowmesh/flowmesh/element"
)

func TestLocalRegistry_RegisterAndLookup(t *testing.T) {
	r := newLocalRegistry[int]()
	ep := coord.ReceiverEndpoint{
		Destination: coord.Coord{Block: 1, Host: 0, Replica: 0},
		Source:      coord.BlockID(0),
	}

	if _, ok := r.lookup(ep); ok {
		t.Fatalf("expected no queue registered yet")
	}

	q := chanx.New[element.NetworkMessage[int]](4)
	r.register(ep, q)

	got, ok := r.lookup(ep)
	if !ok {
		t.Fatalf("expected queue to be found after register")
	}
	if got != q {
		t.Fatalf("lookup returned a different queue than registered")
	}
}

func TestLocalRegistry_DistinctEndpointsDoNotCollide(t *testing.T) {
	r := newLocalRegistry[int]()
	epA := coord.ReceiverEndpoint{Destination: coord.Coord{Block: 1, Host: 0, Replica: 0}, Source: coord.BlockID(0)}
	epB := coord.ReceiverEndpoint{Destination: coord.Coord{Block: 2, Host: 0, Replica: 0}, Source: coord.BlockID(0)}

	qA := chanx.New[element.NetworkMessage[int]](4)
	qB := chanx.New[element.NetworkMessage[int]](4)
	r.register(epA, qA)
	r.register(epB, qB)

	gotA, _ := r.lookup(epA)
	gotB, _ := r.lookup(epB)
	if gotA != qA || gotB != qB {
		t.Fatalf("registry mixed up distinct endpoints")
	}
}
