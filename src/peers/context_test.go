package peers

import (
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/dpcnode/src/common"
)

func newTestContext(t *testing.T, maxPeers int, banTTL time.Duration) *Context {
	bootnodes := NewPeerSetFromAddresses([]string{"self:1", "boot1:1", "boot2:1"})
	c := NewContext("self:1", bootnodes, 2, maxPeers, false, banTTL,
		common.NewTestEntry(t, common.TestLogLevel))
	t.Cleanup(c.Close)
	return c
}

func TestContextConnect(t *testing.T) {
	c := newTestContext(t, 3, time.Minute)

	if c.Bootnodes().Len() != 2 {
		t.Fatalf("Bootnodes should exclude the local address")
	}

	if c.Connect("self:1") {
		t.Fatalf("Connecting to self should be refused")
	}

	if !c.NeedMore() {
		t.Fatalf("Context without peers should need more")
	}

	for i := 0; i < 3; i++ {
		if !c.Connect(fmt.Sprintf("peer%d:1", i)) {
			t.Fatalf("Connect peer%d should succeed", i)
		}
	}

	if !c.Connect("peer0:1") {
		t.Fatalf("Reconnecting a connected peer should succeed")
	}

	if c.Connect("peer3:1") {
		t.Fatalf("Connect beyond MaxPeers should be refused")
	}

	if c.NeedMore() {
		t.Fatalf("Context with 3 peers should not need more")
	}

	if !c.Disconnect("peer1:1") || c.Disconnect("peer1:1") {
		t.Fatalf("Disconnect should only succeed once")
	}

	if c.Len() != 2 {
		t.Fatalf("Len should be 2, not %d", c.Len())
	}

	connected := c.Connected()
	if connected[0].NetAddr != "peer0:1" || connected[1].NetAddr != "peer2:1" {
		t.Fatalf("Connected should be sorted, got %v", connected)
	}

	if len(c.Dialable()) != 2 {
		t.Fatalf("Both bootnodes should be dialable")
	}
}

func TestContextBan(t *testing.T) {
	c := newTestContext(t, 10, 200*time.Millisecond)

	c.Connect("boot1:1")
	c.Ban("boot1:1")

	if c.IsConnected("boot1:1") {
		t.Fatalf("Banned peer should be disconnected")
	}

	if c.Connect("boot1:1") {
		t.Fatalf("Banned peer should be refused")
	}

	if banned := c.Banned(); len(banned) != 1 || banned[0] != "boot1:1" {
		t.Fatalf("Banned should be [boot1:1], not %v", banned)
	}

	if len(c.Dialable()) != 1 {
		t.Fatalf("Banned bootnode should not be dialable")
	}

	time.Sleep(400 * time.Millisecond)

	if c.IsBanned("boot1:1") {
		t.Fatalf("Ban should have expired")
	}

	if !c.Connect("boot1:1") {
		t.Fatalf("Peer should be accepted after the ban expired")
	}
}

func TestContextNext(t *testing.T) {
	c := newTestContext(t, 10, time.Minute)

	if c.Next() != nil {
		t.Fatalf("Next should be nil without peers")
	}

	c.Connect("a:1")
	if p := c.Next(); p == nil || p.NetAddr != "a:1" {
		t.Fatalf("Next should return the only peer")
	}
	if p := c.Next(); p == nil || p.NetAddr != "a:1" {
		t.Fatalf("Next should return the only peer again")
	}

	c.Connect("b:1")
	last := c.Next()
	for i := 0; i < 20; i++ {
		p := c.Next()
		if p.NetAddr == last.NetAddr {
			t.Fatalf("Next should not return the same peer twice in a row")
		}
		last = p
	}
}
