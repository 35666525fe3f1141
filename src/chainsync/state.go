package chainsync

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
	"github.com/mosaicnetworks/dpcnode/src/net"
)

// Sync states of a peer.
const (
	Idle                  = "idle"
	AwaitingAdvertisement = "awaiting_advertisement"
	RequestingBlocks      = "requesting_blocks"
	Applying              = "applying"
)

// Sync events.
const (
	eventConnect   = "connect"
	eventAdvertise = "advertise"
	eventApply     = "apply"
	eventFinish    = "finish"
)

// newStateMachine creates the sync state machine of a peer:
//
//	idle --connect--> awaiting_advertisement --advertise--> requesting_blocks
//	requesting_blocks --apply--> applying
//	any --finish--> idle
func newStateMachine() *fsm.FSM {
	return fsm.NewFSM(
		Idle,
		fsm.Events{
			{
				Name: eventConnect,
				Src:  []string{Idle},
				Dst:  AwaitingAdvertisement,
			},
			{
				Name: eventAdvertise,
				Src:  []string{AwaitingAdvertisement},
				Dst:  RequestingBlocks,
			},
			{
				Name: eventApply,
				Src:  []string{RequestingBlocks},
				Dst:  Applying,
			},
			{
				Name: eventFinish,
				Src:  []string{AwaitingAdvertisement, RequestingBlocks, Applying},
				Dst:  Idle,
			},
		},
		fsm.Callbacks{},
	)
}

// SyncState is the synchronization state of one peer. At most one sync runs
// per peer; advertisements received while it runs are dropped.
type SyncState struct {
	sync.Mutex

	machine *fsm.FSM

	// running is held for the whole duration of a sync
	running sync.Mutex

	advertisement *net.ChainStateResponse
	cancel        context.CancelFunc
}

func newSyncState() *SyncState {
	return &SyncState{
		machine: newStateMachine(),
	}
}

// Current returns the current state.
func (s *SyncState) Current() string {
	return s.machine.Current()
}

// Advertisement returns the last advertisement received from the peer.
func (s *SyncState) Advertisement() *net.ChainStateResponse {
	s.Lock()
	defer s.Unlock()
	return s.advertisement
}

func (s *SyncState) event(ctx context.Context, name string) error {
	err := s.machine.Event(ctx, name)
	if _, ok := err.(fsm.NoTransitionError); ok {
		return nil
	}
	return err
}

func (s *SyncState) setCancel(cancel context.CancelFunc) {
	s.Lock()
	defer s.Unlock()
	s.cancel = cancel
}

func (s *SyncState) abort() {
	s.Lock()
	defer s.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
