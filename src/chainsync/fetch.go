package chainsync

import (
	"context"
	"fmt"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/net"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// findAncestor walks the peer's main chain backward from height start, one
// batch of headers at a time, until it finds a block of the local main chain.
// It returns the height and digest of that block.
func (c *Coordinator) findAncestor(ctx context.Context, peer string, start int) (int, ledger.Digest, error) {
	store := c.chain.Store()

	// parent digest expected of the lowest header of the previous batch
	var next *ledger.Digest

	for top := start; top >= 0; top -= c.conf.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, ledger.Digest{}, err
		}

		from := max(top-c.conf.BatchSize+1, 0)
		count := top - from + 1

		headers, err := c.fetchHeaders(peer, from, count)
		if err != nil {
			return 0, ledger.Digest{}, err
		}

		digests := make([]ledger.Digest, len(headers))
		for i := range headers {
			digests[i] = headers[i].Digest()
			if i > 0 && headers[i].Parent != digests[i-1] {
				return 0, ledger.Digest{}, cm.Misbehaving(nil,
					"header %d does not chain", from+i)
			}
		}

		if next != nil && digests[len(digests)-1] != *next {
			return 0, ledger.Digest{}, cm.Misbehaving(nil,
				"header %d does not chain to header %d", top, top+1)
		}

		for i := len(headers) - 1; i >= 0; i-- {
			height := from + i

			local, err := store.BlockAt(height)
			if err != nil {
				return 0, ledger.Digest{}, cm.StoreFailed(err, "block at %d", height)
			}

			if local.Digest() == digests[i] {
				c.logger.WithFields(logrus.Fields{
					"peer":     peer,
					"ancestor": height,
				}).Debug("Found common ancestor")
				return height, digests[i], nil
			}
		}

		if from == 0 {
			return 0, ledger.Digest{}, cm.Misbehaving(nil,
				"genesis %s does not match", digests[0].Short())
		}

		parent := headers[0].Parent
		next = &parent
	}

	return 0, ledger.Digest{}, cm.Misbehaving(nil, "no common ancestor")
}

func (c *Coordinator) fetchHeaders(peer string, from, count int) ([]ledger.BlockHeader, error) {
	var resp net.HeadersResponse

	err := c.trans.Headers(peer,
		&net.HeadersRequest{
			FromAddr: c.localAddr,
			From:     from,
			Count:    count,
		},
		&resp)
	if err != nil {
		return nil, fmt.Errorf("requesting headers %d+%d from %s: %w", from, count, peer, err)
	}

	if len(resp.Headers) != count {
		return nil, cm.Misbehaving(nil, "%d headers for %d+%d", len(resp.Headers), from, count)
	}

	return resp.Headers, nil
}

// fetchBlocks downloads the peer's blocks from..to, in batches requested
// concurrently, and checks that they chain from parent.
func (c *Coordinator) fetchBlocks(ctx context.Context, peer string, from, to int, parent ledger.Digest) ([]*ledger.Block, error) {
	if to < from {
		return nil, nil
	}

	nbBatches := (to - from + c.conf.BatchSize) / c.conf.BatchSize
	batches := make([][]*ledger.Block, nbBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.conf.Parallelism)

	for i := range batches {
		start := from + i*c.conf.BatchSize
		count := min(c.conf.BatchSize, to-start+1)

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			var resp net.BlocksResponse
			err := c.trans.Blocks(peer,
				&net.BlocksRequest{
					FromAddr: c.localAddr,
					From:     start,
					Count:    count,
				},
				&resp)
			if err != nil {
				return fmt.Errorf("requesting blocks %d+%d from %s: %w", start, count, peer, err)
			}

			if len(resp.Blocks) != count {
				return cm.Misbehaving(nil, "%d blocks for %d+%d", len(resp.Blocks), start, count)
			}

			batches[i] = resp.Blocks

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	blocks := make([]*ledger.Block, 0, to-from+1)
	for _, batch := range batches {
		for _, b := range batch {
			if b == nil || b.Header.Parent != parent {
				return nil, cm.Misbehaving(nil, "block %d does not chain", from+len(blocks))
			}
			parent = b.Digest()
			blocks = append(blocks, b)
		}
	}

	return blocks, nil
}
