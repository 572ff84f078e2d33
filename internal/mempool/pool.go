// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/co2chain/co2chain/internal/coreerr"
	"github.com/co2chain/co2chain/internal/utxo"
	"github.com/co2chain/co2chain/pkg/tx"
	"github.com/co2chain/co2chain/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists     = errors.New("transaction already in mempool")
	ErrPoolFull          = errors.New("mempool is full")
	ErrValidation        = errors.New("transaction failed validation")
	ErrFeeTooLow         = errors.New("transaction fee below minimum")
	ErrCoinbaseNotMature = errors.New("coinbase output not mature")
	ErrRBFRejected       = errors.New("replacement transaction does not pay enough to replace conflicting transactions")
)

// MaxPoolBytes bounds the total serialized size of transactions held in the
// pool, independent of the transaction-count cap.
const MaxPoolBytes = 300 * 1024 * 1024

// entry wraps a transaction with its fee and metadata.
type entry struct {
	tx      *tx.Transaction
	txHash  types.Hash
	fee     uint64
	size    int
	feeRate float64 // fee per byte of SigningBytes.
}

// Pool holds unconfirmed transactions.
type Pool struct {
	mu         sync.RWMutex
	txs        map[types.Hash]*entry         // txHash -> entry
	spends     map[types.Outpoint]types.Hash // outpoint -> txHash (conflict index)
	maxCount       int
	maxBytes       int
	curBytes       int
	minFeeRate     uint64 // Minimum fee rate in base units per byte (0 = no minimum).
	minAbsoluteFee uint64 // Minimum absolute fee in base units (0 = no minimum), independent of minFeeRate.
	utxos          tx.UTXOProvider

	// Coinbase maturity checking.
	utxoSet          utxo.Set      // For maturity checks (nil = disabled).
	heightFn         func() uint64 // Current chain height.
	coinbaseMaturity uint64        // Required confirmations (0 = disabled).
}

// New creates a new mempool with the given UTXO provider and max transaction count.
func New(utxos tx.UTXOProvider, maxCount int) *Pool {
	if maxCount <= 0 {
		maxCount = 10_000
	}
	return &Pool{
		txs:      make(map[types.Hash]*entry),
		spends:   make(map[types.Outpoint]types.Hash),
		maxCount: maxCount,
		maxBytes: MaxPoolBytes,
		utxos:    utxos,
	}
}

// SetMinFeeRate sets the minimum fee rate (base units per byte) for transaction acceptance.
func (p *Pool) SetMinFeeRate(rate uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minFeeRate = rate
}

// MinFeeRate returns the current minimum fee rate (base units per byte).
func (p *Pool) MinFeeRate() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minFeeRate
}

// SetMinAbsoluteFee sets the minimum absolute fee (base units) for
// transaction acceptance, checked independently of the per-byte fee rate.
func (p *Pool) SetMinAbsoluteFee(fee uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minAbsoluteFee = fee
}

// MinAbsoluteFee returns the current minimum absolute fee (base units).
func (p *Pool) MinAbsoluteFee() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minAbsoluteFee
}

// SetCoinbaseMaturity enables coinbase maturity checking.
func (p *Pool) SetCoinbaseMaturity(maturity uint64, heightFn func() uint64, set utxo.Set) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coinbaseMaturity = maturity
	p.heightFn = heightFn
	p.utxoSet = set
}

// Add validates and adds a transaction to the mempool.
// Returns the computed fee. Rejects duplicates; a transaction that conflicts
// with existing entries is only accepted as a replace-by-fee if it clears
// checkRBF against the whole set it would evict.
func (p *Pool) Add(transaction *tx.Transaction) (fee uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Every rejection below surfaces through coreerr.Classify so submitters
	// see the stable {code, message} taxonomy rather than a raw sentinel;
	// the sentinel is preserved as Cause, so errors.Is checks against it
	// (including in tests) still work through Unwrap.
	defer func() {
		if err == nil {
			return
		}
		switch {
		case errors.Is(err, ErrAlreadyExists):
			err = coreerr.Wrap(coreerr.KindConflict, coreerr.CodeDoubleSpend, "transaction already in mempool", err)
		case errors.Is(err, ErrPoolFull):
			err = coreerr.Wrap(coreerr.KindConflict, coreerr.CodeMempoolFull, "mempool is full", err)
		case errors.Is(err, ErrRBFRejected):
			err = coreerr.Wrap(coreerr.KindConflict, coreerr.CodeRBFUnderbid, "replacement does not pay enough to evict conflicting transactions", err)
		case errors.Is(err, ErrCoinbaseNotMature):
			err = coreerr.Wrap(coreerr.KindInvalidTx, coreerr.CodeCoinStateForbidden, "coinbase output not yet mature", err)
		case errors.Is(err, ErrFeeTooLow):
			err = coreerr.Wrap(coreerr.KindInvalidTx, coreerr.CodeMalformedEncoding, "transaction fee below minimum", err)
		default:
			err = coreerr.Classify(err)
		}
	}()

	txHash := transaction.Hash()

	if _, exists := p.txs[txHash]; exists {
		return 0, ErrAlreadyExists
	}

	conflicts := p.conflictSet(transaction)

	// Coinbase maturity check.
	if p.coinbaseMaturity > 0 && p.utxoSet != nil {
		currentHeight := p.heightFn()
		for _, in := range transaction.Inputs {
			if in.PrevOut.IsZero() {
				continue
			}
			u, uErr := p.utxoSet.Get(in.PrevOut)
			if uErr == nil && u.Coinbase && currentHeight-u.Height < p.coinbaseMaturity {
				return 0, fmt.Errorf("%w: need %d confirmations, have %d",
					ErrCoinbaseNotMature, p.coinbaseMaturity, currentHeight-u.Height)
			}
		}
	}

	// UTXO-aware validation: signatures, coin-state transitions, fee sufficiency.
	fee, err = transaction.ValidateWithUTXOs(p.utxos)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	size := len(transaction.SigningBytes())
	var feeRate float64
	if size > 0 {
		feeRate = float64(fee) / float64(size)
	}

	if p.minFeeRate > 0 {
		requiredFee := p.minFeeRate * uint64(size)
		if fee < requiredFee {
			return 0, fmt.Errorf("%w: got %d, need %d (%d bytes x %d rate)", ErrFeeTooLow, fee, requiredFee, size, p.minFeeRate)
		}
	}

	// Absolute fee floor, independent of the per-byte rate above: a small
	// transaction can clear the rate check on size alone without this.
	if p.minAbsoluteFee > 0 && fee < p.minAbsoluteFee {
		return 0, fmt.Errorf("%w: got %d, need absolute minimum %d", ErrFeeTooLow, fee, p.minAbsoluteFee)
	}

	if len(conflicts) > 0 {
		if rbfErr := p.checkRBF(conflicts, fee, size); rbfErr != nil {
			return 0, rbfErr
		}
		for _, conflictHash := range conflicts {
			p.removeLocked(conflictHash)
		}
	} else if len(p.txs) >= p.maxCount || p.curBytes+size > p.maxBytes {
		lowestHash, lowestRate := p.findLowestFeeRate()
		if feeRate <= lowestRate {
			return 0, ErrPoolFull
		}
		p.removeLocked(lowestHash)
	}

	e := &entry{
		tx:      transaction,
		txHash:  txHash,
		fee:     fee,
		size:    size,
		feeRate: feeRate,
	}
	p.txs[txHash] = e
	p.curBytes += size
	for _, in := range transaction.Inputs {
		if !in.PrevOut.IsZero() {
			p.spends[in.PrevOut] = txHash
		}
	}

	return fee, nil
}

// conflictSet returns the distinct mempool transactions that spend at least
// one of the same outpoints as transaction. A replacement must displace all
// of them together, not just one.
func (p *Pool) conflictSet(transaction *tx.Transaction) []types.Hash {
	seen := make(map[types.Hash]struct{})
	var conflicts []types.Hash
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		conflictHash, exists := p.spends[in.PrevOut]
		if !exists {
			continue
		}
		if _, already := seen[conflictHash]; already {
			continue
		}
		seen[conflictHash] = struct{}{}
		conflicts = append(conflicts, conflictHash)
	}
	return conflicts
}

// checkRBF enforces replace-by-fee: the incoming transaction must pay a
// strictly higher absolute fee than the set it would evict, and the
// difference must be at least minFeeRate * newSize — it has to outbid the
// relay cost of its own replacement, not just edge out the old fee.
func (p *Pool) checkRBF(conflicts []types.Hash, newFee uint64, newSize int) error {
	var replacedFee uint64
	for _, h := range conflicts {
		if e, ok := p.txs[h]; ok {
			replacedFee += e.fee
		}
	}
	if newFee <= replacedFee {
		return fmt.Errorf("%w: new fee %d <= replaced fee %d", ErrRBFRejected, newFee, replacedFee)
	}
	minIncrement := p.minFeeRate * uint64(newSize)
	if newFee-replacedFee < minIncrement {
		return fmt.Errorf("%w: fee increase %d below required %d", ErrRBFRejected, newFee-replacedFee, minIncrement)
	}
	return nil
}

// Remove removes a transaction from the mempool by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	// Clean up spend index.
	for _, in := range e.tx.Inputs {
		if !in.PrevOut.IsZero() {
			delete(p.spends, in.PrevOut)
		}
	}
	delete(p.txs, txHash)
	p.curBytes -= e.size
}

// RemoveConfirmed removes all transactions that were included in a block.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		p.removeLocked(t.Hash())
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// GetFee returns the fee for a transaction in the mempool (0 if not found).
func (p *Pool) GetFee(txHash types.Hash) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return 0
	}
	return e.fee
}

// Count returns the number of transactions in the mempool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Bytes returns the total serialized size of transactions currently held.
func (p *Pool) Bytes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.curBytes
}

// Hashes returns the hashes of all transactions in the mempool.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

// findLowestFeeRate returns the hash and fee rate of the lowest fee-rate entry.
// Must be called with p.mu held.
func (p *Pool) findLowestFeeRate() (types.Hash, float64) {
	var lowestHash types.Hash
	lowestRate := math.MaxFloat64
	for h, e := range p.txs {
		if e.feeRate < lowestRate {
			lowestRate = e.feeRate
			lowestHash = h
		}
	}
	return lowestHash, lowestRate
}

// SelectForBlock returns transactions ordered by fee rate (highest first),
// up to the given limit.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}

	// Sort by fee rate descending.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].feeRate > entries[j].feeRate
	})

	if limit > len(entries) || limit <= 0 {
		limit = len(entries)
	}

	result := make([]*tx.Transaction, limit)
	for i := 0; i < limit; i++ {
		result[i] = entries[i].tx
	}
	return result
}
