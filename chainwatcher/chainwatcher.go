// Package chainwatcher polls a dcrd node and reports the on-chain life of
// registered contracts: funding output appearance and confirmations, the
// fund output being spent, and refund lock time maturity.
package chainwatcher

import (
	"bytes"
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	chainjson "github.com/decred/dcrd/rpc/jsonrpc/types/v4"
	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"
)

// ChainRPC is the node surface the watcher needs. *rpcclient.Client
// satisfies it; tests supply a fake.
type ChainRPC interface {
	GetBestBlock(ctx context.Context) (*chainhash.Hash, int64, error)
	GetBlockHash(ctx context.Context, height int64) (*chainhash.Hash, error)
	GetBlock(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error)
	GetRawMempool(ctx context.Context, txType chainjson.GetRawMempoolTxTypeCmd) ([]*chainhash.Hash, error)
	GetRawTransactionVerbose(ctx context.Context, hash *chainhash.Hash) (*chainjson.TxRawResult, error)
	GetTxOut(ctx context.Context, txHash *chainhash.Hash, index uint32, tree int8, mempool bool) (*chainjson.GetTxOutResult, error)
}

// ContractUpdate is pushed to subscribers each tick with the contract's
// current on-chain state.
type ContractUpdate struct {
	ContractID [32]byte

	Funded      bool
	FundingTxID chainhash.Hash
	FundingVout uint32
	Confs       uint32

	// Spent means the fund output no longer appears unspent: a CET or the
	// refund transaction has been mined.
	Spent bool

	// RefundMature means the chain tip has reached the refund lock time.
	RefundMature bool

	At time.Time
}

type watchedContract struct {
	id             [32]byte
	fundScript     []byte
	refundLockTime uint32

	funded       bool
	fundingTxID  chainhash.Hash
	fundingVout  uint32
	fundedHeight int64 // -1 while unconfirmed
	spent        bool

	subs map[chan ContractUpdate]struct{}
}

// Watcher is a minimal pusher: each tick it scans new blocks and the
// mempool for the fund scripts of registered contracts and broadcasts one
// ContractUpdate per contract. No chain state beyond the last scanned
// height is retained.
type Watcher struct {
	log  slog.Logger
	dcrd ChainRPC

	pollInterval time.Duration

	mu          sync.RWMutex
	tip         int64
	lastScanned int64
	contracts   map[[32]byte]*watchedContract

	quit chan struct{}
}

// New creates a watcher over the given node connection.
func New(log slog.Logger, dcrd ChainRPC) *Watcher {
	if log == nil {
		log = slog.Disabled
	}
	return &Watcher{
		log:          log,
		dcrd:         dcrd,
		pollInterval: 5 * time.Second,
		lastScanned:  -1,
		contracts:    make(map[[32]byte]*watchedContract),
		quit:         make(chan struct{}),
	}
}

// Stop ends the polling loop.
func (w *Watcher) Stop() { close(w.quit) }

// Run polls until the context is canceled or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Infof("watcher: started")
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()
	defer w.log.Infof("watcher: stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-t.C:
			w.PollOnce(ctx)
		}
	}
}

// Watch registers a contract's fund output script and refund lock time and
// returns the update channel plus an unregister func. No initial snapshot
// is sent; first data arrives on the next tick.
func (w *Watcher) Watch(id [32]byte, fundScript []byte, refundLockTime uint32) (<-chan ContractUpdate, func()) {
	ch := make(chan ContractUpdate, 8)

	w.mu.Lock()
	c, ok := w.contracts[id]
	if !ok {
		c = &watchedContract{
			id:             id,
			fundScript:     append([]byte(nil), fundScript...),
			refundLockTime: refundLockTime,
			fundedHeight:   -1,
			subs:           make(map[chan ContractUpdate]struct{}),
		}
		w.contracts[id] = c
	}
	c.subs[ch] = struct{}{}
	n := len(c.subs)
	w.mu.Unlock()
	w.log.Infof("watcher: watching contract %x (subs=%d)", id[:8], n)

	unwatch := func() {
		w.mu.Lock()
		if c, ok := w.contracts[id]; ok {
			delete(c.subs, ch)
			if len(c.subs) == 0 {
				delete(w.contracts, id)
			}
		}
		w.mu.Unlock()
		// Do not close(ch): the producer may still try to send; the
		// receiver stops by context.
	}
	return ch, unwatch
}

// PollOnce runs a single scan tick. Exported so tests and callers with
// their own scheduling can drive the watcher directly.
func (w *Watcher) PollOnce(ctx context.Context) {
	if _, h, err := w.dcrd.GetBestBlock(ctx); err == nil {
		w.mu.Lock()
		w.tip = h
		w.mu.Unlock()
	} else {
		w.log.Debugf("watcher: GetBestBlock failed: %v", err)
	}

	w.mu.RLock()
	snapshot := make([]*watchedContract, 0, len(w.contracts))
	for _, c := range w.contracts {
		snapshot = append(snapshot, c)
	}
	tip := w.tip
	w.mu.RUnlock()
	if len(snapshot) == 0 {
		return
	}

	w.scanBlocks(ctx, snapshot, tip)
	w.scanMempool(ctx, snapshot)

	now := time.Now()
	for _, c := range snapshot {
		w.refreshSpent(ctx, c)

		w.mu.RLock()
		u := ContractUpdate{
			ContractID:   c.id,
			Funded:       c.funded,
			FundingTxID:  c.fundingTxID,
			FundingVout:  c.fundingVout,
			Spent:        c.spent,
			RefundMature: tip > 0 && c.refundLockTime > 0 && tip >= int64(c.refundLockTime),
			At:           now,
		}
		if c.funded && c.fundedHeight >= 0 && tip >= c.fundedHeight {
			u.Confs = uint32(tip - c.fundedHeight + 1)
		}
		chs := make([]chan ContractUpdate, 0, len(c.subs))
		for ch := range c.subs {
			chs = append(chs, ch)
		}
		w.mu.RUnlock()

		for _, ch := range chs {
			select {
			case ch <- u:
			default:
				// Drop if the receiver is slow.
			}
		}
	}
}

// scanBlocks walks all blocks since the last scanned height looking for
// outputs paying to a watched fund script.
func (w *Watcher) scanBlocks(ctx context.Context, contracts []*watchedContract, tip int64) {
	w.mu.Lock()
	lastScanned := w.lastScanned
	w.mu.Unlock()
	if tip < 0 || (lastScanned != -1 && tip == lastScanned) {
		return
	}
	start := lastScanned + 1
	if lastScanned == -1 || start < 0 || start > tip {
		// First run or reorg: only scan the current tip.
		start = tip
	}
	for bh := start; bh <= tip; bh++ {
		hash, err := w.dcrd.GetBlockHash(ctx, bh)
		if err != nil {
			continue
		}
		blk, err := w.dcrd.GetBlock(ctx, hash)
		if err != nil || blk == nil {
			continue
		}
		for _, mtx := range blk.Transactions {
			w.matchTx(contracts, mtx, bh)
		}
	}
	w.mu.Lock()
	w.lastScanned = tip
	w.mu.Unlock()
}

// scanMempool looks for unconfirmed funding transactions of contracts not
// yet seen on chain.
func (w *Watcher) scanMempool(ctx context.Context, contracts []*watchedContract) {
	pending := false
	w.mu.RLock()
	for _, c := range contracts {
		if !c.funded {
			pending = true
			break
		}
	}
	w.mu.RUnlock()
	if !pending {
		return
	}

	txids, err := w.dcrd.GetRawMempool(ctx, "all")
	if err != nil {
		w.log.Debugf("watcher: GetRawMempool failed: %v", err)
		return
	}
	for _, th := range txids {
		v, err := w.dcrd.GetRawTransactionVerbose(ctx, th)
		if err != nil || v == nil {
			continue
		}
		tx := wire.NewMsgTx()
		raw := v.Hex
		if raw == "" {
			continue
		}
		if err := deserializeHexTx(tx, raw); err != nil {
			continue
		}
		w.matchTx(contracts, tx, -1)
	}
}

// matchTx records the funding outpoint of any contract whose fund script
// appears among the transaction outputs. height is -1 for mempool hits.
func (w *Watcher) matchTx(contracts []*watchedContract, tx *wire.MsgTx, height int64) {
	for voutIdx, out := range tx.TxOut {
		for _, c := range contracts {
			if !bytes.Equal(out.PkScript, c.fundScript) {
				continue
			}
			w.mu.Lock()
			if !c.funded || (c.fundedHeight < 0 && height >= 0) {
				c.funded = true
				c.fundingTxID = tx.TxHash()
				c.fundingVout = uint32(voutIdx)
				c.fundedHeight = height
				w.log.Debugf("watcher: contract %x funded by %s:%d at height %d",
					c.id[:8], c.fundingTxID, voutIdx, height)
			}
			w.mu.Unlock()
		}
	}
}

func deserializeHexTx(tx *wire.MsgTx, rawHex string) error {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return err
	}
	return tx.Deserialize(bytes.NewReader(raw))
}

// refreshSpent checks whether a funded contract's fund output is still
// unspent.
func (w *Watcher) refreshSpent(ctx context.Context, c *watchedContract) {
	w.mu.RLock()
	funded, spent := c.funded, c.spent
	txid, vout := c.fundingTxID, c.fundingVout
	w.mu.RUnlock()
	if !funded || spent {
		return
	}

	res, err := w.dcrd.GetTxOut(ctx, &txid, vout, 0, true)
	if err != nil {
		w.log.Debugf("watcher: GetTxOut failed: %v", err)
		return
	}
	if res == nil {
		w.mu.Lock()
		c.spent = true
		w.mu.Unlock()
		w.log.Infof("watcher: contract %x fund output spent", c.id[:8])
	}
}
