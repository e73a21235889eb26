package chainwatcher

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/decred/dcrd/chaincfg/chainhash"
	chainjson "github.com/decred/dcrd/rpc/jsonrpc/types/v4"
	"github.com/decred/dcrd/wire"

	"github.com/dcrdlc/dcrdlc"
)

// fakeNode implements ChainRPC over an in-memory chain the test mutates
// between ticks.
type fakeNode struct {
	mu      sync.Mutex
	tip     int64
	blocks  map[int64]*wire.MsgBlock
	mempool []*wire.MsgTx
	unspent map[wire.OutPoint]bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		blocks:  make(map[int64]*wire.MsgBlock),
		unspent: make(map[wire.OutPoint]bool),
	}
}

func heightHash(h int64) *chainhash.Hash {
	var hash chainhash.Hash
	binary.LittleEndian.PutUint64(hash[:8], uint64(h))
	return &hash
}

func (f *fakeNode) mine(txs ...*wire.MsgTx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip++
	f.blocks[f.tip] = &wire.MsgBlock{Transactions: txs}
	f.mempool = nil
}

func (f *fakeNode) GetBestBlock(ctx context.Context) (*chainhash.Hash, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return heightHash(f.tip), f.tip, nil
}

func (f *fakeNode) GetBlockHash(ctx context.Context, height int64) (*chainhash.Hash, error) {
	return heightHash(height), nil
}

func (f *fakeNode) GetBlock(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := int64(binary.LittleEndian.Uint64(hash[:8]))
	blk, ok := f.blocks[h]
	if !ok {
		return &wire.MsgBlock{}, nil
	}
	return blk, nil
}

func (f *fakeNode) GetRawMempool(ctx context.Context, txType chainjson.GetRawMempoolTxTypeCmd) ([]*chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hashes := make([]*chainhash.Hash, len(f.mempool))
	for i, tx := range f.mempool {
		h := tx.TxHash()
		hashes[i] = &h
	}
	return hashes, nil
}

func (f *fakeNode) GetRawTransactionVerbose(ctx context.Context, hash *chainhash.Hash) (*chainjson.TxRawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.mempool {
		if tx.TxHash() == *hash {
			return &chainjson.TxRawResult{
				Hex: hex.EncodeToString(dcrdlc.SerializeTx(tx)),
			}, nil
		}
	}
	return nil, nil
}

func (f *fakeNode) GetTxOut(ctx context.Context, txHash *chainhash.Hash, index uint32, tree int8, mempool bool) (*chainjson.GetTxOutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op := wire.OutPoint{Hash: *txHash, Index: index, Tree: tree}
	if f.unspent[op] {
		return &chainjson.GetTxOutResult{}, nil
	}
	return nil, nil
}

func fundingTx(fundScript []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx()
	tx.Version = 1
	var prev chainhash.Hash
	prev[0] = 0x33
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prev, Index: 0, Tree: wire.TxTreeRegular},
		ValueIn:          value,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: fundScript})
	return tx
}

func recvUpdate(t *testing.T, ch <-chan ContractUpdate) ContractUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	default:
		t.Fatalf("no update pushed")
		return ContractUpdate{}
	}
}

func TestWatcherContractLifecycle(t *testing.T) {
	node := newFakeNode()
	w := New(nil, node)
	ctx := context.Background()

	fundScript := []byte{0xa9, 0x14, 0x01, 0x02, 0x03, 0x87}
	var id [32]byte
	id[0] = 0x5c
	const refundLockTime = 105

	ch, unwatch := w.Watch(id, fundScript, refundLockTime)
	defer unwatch()

	// Height 100, nothing relevant on chain.
	for i := 0; i < 100; i++ {
		node.mine()
	}
	w.PollOnce(ctx)
	u := recvUpdate(t, ch)
	if u.Funded || u.Spent || u.RefundMature {
		t.Fatalf("unexpected state before funding: %+v", u)
	}

	// Funding transaction enters the mempool.
	ftx := fundingTx(fundScript, 100_000_000)
	fundOut := wire.OutPoint{Hash: ftx.TxHash(), Index: 0, Tree: wire.TxTreeRegular}
	node.mu.Lock()
	node.mempool = []*wire.MsgTx{ftx}
	node.unspent[fundOut] = true
	node.mu.Unlock()

	w.PollOnce(ctx)
	u = recvUpdate(t, ch)
	if !u.Funded || u.Confs != 0 {
		t.Fatalf("mempool funding not reported: %+v", u)
	}
	if u.FundingTxID != ftx.TxHash() || u.FundingVout != 0 {
		t.Fatalf("wrong funding outpoint: %+v", u)
	}

	// Funding transaction is mined at height 101.
	node.mine(ftx)
	w.PollOnce(ctx)
	u = recvUpdate(t, ch)
	if !u.Funded || u.Confs != 1 {
		t.Fatalf("mined funding has %d confs, want 1: %+v", u.Confs, u)
	}

	// Two more empty blocks.
	node.mine()
	node.mine()
	w.PollOnce(ctx)
	u = recvUpdate(t, ch)
	if u.Confs != 3 {
		t.Fatalf("confs %d at height 103, want 3", u.Confs)
	}
	if u.Spent || u.RefundMature {
		t.Fatalf("premature spend or maturity: %+v", u)
	}

	// A CET spends the fund output; two blocks later the refund lock time
	// is reached as well.
	node.mu.Lock()
	node.unspent[fundOut] = false
	node.mu.Unlock()
	node.mine()
	node.mine()
	w.PollOnce(ctx)
	u = recvUpdate(t, ch)
	if !u.Spent {
		t.Fatalf("spend not reported: %+v", u)
	}
	if !u.RefundMature {
		t.Fatalf("refund maturity not reported at height 105: %+v", u)
	}
}

func TestWatcherUnwatch(t *testing.T) {
	node := newFakeNode()
	w := New(nil, node)
	ctx := context.Background()

	var id [32]byte
	id[0] = 0x5d
	ch, unwatch := w.Watch(id, []byte{0x51}, 0)
	node.mine()
	w.PollOnce(ctx)
	recvUpdate(t, ch)

	unwatch()
	node.mine()
	w.PollOnce(ctx)
	select {
	case u := <-ch:
		t.Fatalf("update after unwatch: %+v", u)
	default:
	}
}

func TestWatcherSkipsRescanOnStableTip(t *testing.T) {
	node := newFakeNode()
	w := New(nil, node)
	ctx := context.Background()

	fundScript := []byte{0x52}
	var id [32]byte
	id[0] = 0x5e
	ch, unwatch := w.Watch(id, fundScript, 0)
	defer unwatch()

	ftx := fundingTx(fundScript, 1_000)
	fundOut := wire.OutPoint{Hash: ftx.TxHash(), Index: 0, Tree: wire.TxTreeRegular}
	node.unspent[fundOut] = true
	node.mine(ftx)

	w.PollOnce(ctx)
	u := recvUpdate(t, ch)
	if !u.Funded || u.Confs != 1 {
		t.Fatalf("funding missed on first scan: %+v", u)
	}

	// Same tip again: no block rescan happens, but the state still pushes.
	w.PollOnce(ctx)
	u = recvUpdate(t, ch)
	if !u.Funded || u.Confs != 1 {
		t.Fatalf("state lost on stable tip: %+v", u)
	}
}

// TestWatcherConcurrentPolls drives PollOnce from several goroutines while
// blocks are being mined, the way a caller-scheduled poll can overlap with
// Run's ticker. Run under -race this exercises the scan cursor locking.
func TestWatcherConcurrentPolls(t *testing.T) {
	node := newFakeNode()
	w := New(nil, node)
	ctx := context.Background()

	fundScript := []byte{0x53}
	var id [32]byte
	id[0] = 0x5f
	ch, unwatch := w.Watch(id, fundScript, 0)
	defer unwatch()

	ftx := fundingTx(fundScript, 1_000)
	fundOut := wire.OutPoint{Hash: ftx.TxHash(), Index: 0, Tree: wire.TxTreeRegular}
	node.mu.Lock()
	node.unspent[fundOut] = true
	node.mu.Unlock()
	node.mine(ftx)

	w.PollOnce(ctx)
	if u := recvUpdate(t, ch); !u.Funded {
		t.Fatalf("funding missed on first scan: %+v", u)
	}

	done := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		// Drain so non-blocking pushes never decide the outcome.
		defer close(drained)
		for {
			select {
			case <-ch:
			case <-done:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				w.PollOnce(ctx)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			node.mine()
		}
	}()
	wg.Wait()
	close(done)
	<-drained
	for len(ch) > 0 {
		<-ch
	}

	w.PollOnce(ctx)
	u := recvUpdate(t, ch)
	if !u.Funded || u.Confs != 21 {
		t.Fatalf("funding state lost under concurrent polls: %+v", u)
	}
}
