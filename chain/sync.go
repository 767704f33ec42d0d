package chain

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/wtxmgr"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelRequests is the number of scripts looked up at once when
// the caller doesn't say.
const DefaultParallelRequests = 4

// Sync looks up every script of the request with up to parallel concurrent
// requests and folds the answers into an Update. It holds no wallet state,
// so it runs outside of the wallet lock.
func Sync(ctx context.Context, src Source, req *SyncRequest,
	parallel int) (*Update, error) {

	if parallel <= 0 {
		parallel = DefaultParallelRequests
	}

	height, hash, err := src.TipHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tip: %w", err)
	}

	log.Debugf("Syncing %d scripts at tip %d (%v)", req.NumScripts(),
		height, hash)

	var (
		mu         sync.Mutex
		txs        = make(map[chainhash.Hash]TxInfo)
		lastActive = make(map[descriptor.KeychainKind]uint32)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for keychain, scripts := range req.Scripts {
		for _, script := range scripts {
			g.Go(func() error {
				found, err := src.ScriptTxs(gctx, script.Script)
				if err != nil {
					return fmt.Errorf("%v script %d: %w",
						keychain, script.Index, err)
				}

				if len(found) == 0 {
					return nil
				}

				mu.Lock()
				defer mu.Unlock()

				last, ok := lastActive[keychain]
				if !ok || script.Index > last {
					lastActive[keychain] = script.Index
				}

				for _, info := range found {
					mergeTxInfo(txs, info)
				}

				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	update := &Update{
		Txs:        make([]TxInfo, 0, len(txs)),
		LastActive: lastActive,
		Tip:        wtxmgr.Block{Hash: hash, Height: height},
	}
	for _, info := range txs {
		update.Txs = append(update.Txs, info)
	}
	sortTxInfos(update.Txs)

	log.Infof("Sync found %d transactions at tip %d", len(update.Txs),
		height)

	return update, nil
}

// mergeTxInfo adds info to txs, preferring a confirmed sighting over an
// unconfirmed one.
func mergeTxInfo(txs map[chainhash.Hash]TxInfo, info TxInfo) {
	txid := info.Tx.TxHash()

	existing, ok := txs[txid]
	if ok && (existing.IsConfirmed() || !info.IsConfirmed()) {
		return
	}

	txs[txid] = info
}

// sortTxInfos orders confirmed transactions by height before unconfirmed
// ones, ties broken by txid.
func sortTxInfos(txs []TxInfo) {
	sort.Slice(txs, func(i, j int) bool {
		a, b := &txs[i], &txs[j]
		if a.IsConfirmed() != b.IsConfirmed() {
			return a.IsConfirmed()
		}

		if a.Height != b.Height {
			return a.Height < b.Height
		}

		hashA, hashB := a.Tx.TxHash(), b.Tx.TxHash()

		return bytes.Compare(hashA[:], hashB[:]) < 0
	})
}
