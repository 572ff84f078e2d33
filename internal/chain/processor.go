package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/co2chain/co2chain/config"
	"github.com/co2chain/co2chain/internal/consensus"
	"github.com/co2chain/co2chain/internal/coreerr"
	"github.com/co2chain/co2chain/internal/ledger"
	"github.com/co2chain/co2chain/pkg/block"
	"github.com/co2chain/co2chain/pkg/types"
)

// Block processing errors.
var (
	ErrBlockKnown            = errors.New("block already known")
	ErrPrevNotFound          = errors.New("previous block not found")
	ErrBadHeight             = errors.New("block height does not follow parent")
	ErrBadPrevHash           = errors.New("prev_hash does not match current tip")
	ErrApplyUTXO             = errors.New("failed to apply UTXO changes")
	ErrCoinbaseNotMature     = errors.New("coinbase output not mature")
	ErrTimestampTooFuture    = errors.New("block timestamp too far in the future")
	ErrTimestampBeforeParent = errors.New("block timestamp before parent")
	ErrTimestampNotAfterMTP  = errors.New("block timestamp does not exceed median time past")
	ErrBadCoinbaseTx         = errors.New("invalid coinbase transaction")
	ErrSubsidyExceeded       = errors.New("coinbase reward exceeds consensus subsidy")
)

// ProcessBlock validates a block and applies it to the chain. It checks
// structural validity, consensus rules, UTXO and ledger state, then updates
// the UTXO set, certificate ledger, block store, and chain tip. If the block
// extends a fork heavier than the current chain, a reorg is triggered
// automatically.
func (c *Chain) ProcessBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return classifyChainError(c.processBlockLocked(blk))
}

// classifyChainError maps chain-level sentinels coreerr.Classify has no
// visibility into (it cannot import internal/chain without a cycle, since
// this package already imports coreerr) to the spec's stable codes, and
// defers to coreerr.Classify for everything else — including the
// tx/block/ledger/consensus errors returned from validateBlockState,
// c.validator.ValidateBlock, and verifyDifficulty. Already-classified
// errors (e.g. the KindUnknownParent orphan case) and nil pass through
// unchanged.
func classifyChainError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrBlockKnown):
		return err
	case errors.Is(err, ErrTimestampTooFuture), errors.Is(err, ErrTimestampBeforeParent), errors.Is(err, ErrTimestampNotAfterMTP):
		return coreerr.Wrap(coreerr.KindInvalidHeader, coreerr.CodeBadTimestamp, "block header timestamp invalid", err)
	case errors.Is(err, ErrBadHeight), errors.Is(err, ErrBadPrevHash):
		return coreerr.Wrap(coreerr.KindInvalidBlock, coreerr.CodeMalformedEncoding, "block does not link consistently to its declared parent", err)
	case errors.Is(err, ErrBadCoinbaseTx), errors.Is(err, ErrSubsidyExceeded):
		return coreerr.Wrap(coreerr.KindInvalidBlock, coreerr.CodeMalformedEncoding, "coinbase transaction or reward invalid", err)
	case errors.Is(err, ErrCoinbaseNotMature):
		return coreerr.Wrap(coreerr.KindInvalidTx, coreerr.CodeCoinStateForbidden, "coinbase output spent before maturity", err)
	case errors.Is(err, ErrApplyUTXO):
		return coreerr.Wrap(coreerr.KindIntegrityFault, coreerr.CodeIntegrityFault, "failed to apply block to UTXO/ledger state", err)
	default:
		return coreerr.Classify(err)
	}
}

// processBlockLocked runs ProcessBlock's logic without acquiring c.mu, so it
// can be called again for orphans that become connectable once their parent
// lands — without re-entering the mutex.
func (c *Chain) processBlockLocked(blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}

	hash := blk.Hash()

	known, err := c.blocks.HasBlock(hash)
	if err != nil {
		return fmt.Errorf("check block: %w", err)
	}
	if known {
		return ErrBlockKnown
	}

	// Check parent linkage first — we need the correct height before
	// verifying difficulty and running consensus validation.
	parentErr := c.checkParentLink(blk)
	if errors.Is(parentErr, ErrPrevNotFound) {
		c.orphans.Add(blk)
		return coreerr.New(coreerr.KindUnknownParent, coreerr.CodeUnknownParent,
			"parent block not yet known; held as an orphan pending its arrival")
	}
	if parentErr != nil && !errors.Is(parentErr, ErrForkDetected) {
		return parentErr
	}

	// Verify PoW difficulty on the fast path only; fork blocks are verified
	// during reorg replay.
	if !errors.Is(parentErr, ErrForkDetected) {
		if err := c.verifyDifficulty(blk); err != nil {
			return err
		}
	}

	if err := c.validator.ValidateBlock(blk); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	maxTime := uint32(time.Now().Add(config.MaxFutureDriftSeconds * time.Second).Unix())
	if blk.Header.Timestamp > maxTime {
		return fmt.Errorf("%w: block timestamp %d exceeds max %d", ErrTimestampTooFuture, blk.Header.Timestamp, maxTime)
	}

	if blk.Height > 0 {
		parentBlk, err := c.blocks.GetBlock(blk.Header.PrevHash)
		if err == nil && blk.Header.Timestamp < parentBlk.Header.Timestamp {
			return fmt.Errorf("%w: block timestamp %d < parent timestamp %d",
				ErrTimestampBeforeParent, blk.Header.Timestamp, parentBlk.Header.Timestamp)
		}

		mtp, err := c.medianTimePast(blk.Header.PrevHash)
		if err == nil && blk.Header.Timestamp <= mtp {
			return fmt.Errorf("%w: block timestamp %d <= median %d",
				ErrTimestampNotAfterMTP, blk.Header.Timestamp, mtp)
		}
	}

	// Fork detected: store the block and decide whether to reorg.
	if errors.Is(parentErr, ErrForkDetected) {
		if err := c.blocks.StoreBlock(blk); err != nil {
			return fmt.Errorf("store fork block: %w", err)
		}
		if err := c.Reorg(hash); err != nil {
			return fmt.Errorf("reorg: %w", err)
		}
		c.connectOrphans(hash)
		return nil
	}

	// Fast path: block extends current tip.
	if err := c.validateBlockState(blk); err != nil {
		return err
	}

	blockReward := c.computeBlockReward(blk)

	undo, err := c.applyBlockWithUndo(blk)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrApplyUTXO, err)
	}
	undo.BlockReward = blockReward

	if err := c.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("store block: %w", err)
	}

	undoBytes, err := json.Marshal(undo)
	if err != nil {
		return fmt.Errorf("marshal undo: %w", err)
	}
	if err := c.blocks.PutUndo(hash, undoBytes); err != nil {
		return fmt.Errorf("store undo: %w", err)
	}

	if c.maxSupply > 0 && c.state.Supply+blockReward > c.maxSupply {
		blockReward = c.maxSupply - c.state.Supply
	}

	c.state.Supply += blockReward
	c.state.CumulativeWork.Add(c.state.CumulativeWork, consensus.BlockWork(blk.Header.Bits))

	c.state.TipHash = hash
	c.state.Height = blk.Height
	c.state.TipTimestamp = blk.Header.Timestamp
	if err := c.blocks.SetTip(hash, blk.Height, c.state.Supply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	if err := c.blocks.SetCumulativeWork(c.state.CumulativeWork); err != nil {
		return fmt.Errorf("set cumulative work: %w", err)
	}

	c.connectOrphans(hash)
	return nil
}

// connectOrphans re-evaluates any orphan blocks that were waiting on
// parentHash, now that it has connected. Each success may itself unblock
// further orphans; failures are dropped silently (the orphan was invalid or
// superseded).
func (c *Chain) connectOrphans(parentHash types.Hash) {
	for _, orphan := range c.orphans.Take(parentHash) {
		_ = c.processBlockLocked(orphan)
	}
}

// validateBlockState checks UTXO- and ledger-dependent rules: transaction
// signatures, coin-state transitions, coinbase maturity, and certificate-
// ledger conservation. Used by both the fast path and reorg replay.
func (c *Chain) validateBlockState(blk *block.Block) error {
	coinbaseTx := blk.Transactions[0]

	if len(coinbaseTx.Inputs) != 1 || !coinbaseTx.Inputs[0].PrevOut.IsZero() {
		return ErrBadCoinbaseTx
	}

	utxoProvider := &chainUTXOProvider{set: c.utxos}
	fees := make([]uint64, len(blk.Transactions))
	var totalFees uint64
	for i, transaction := range blk.Transactions {
		if i == 0 {
			continue // Coinbase.
		}
		fee, err := transaction.ValidateWithUTXOs(utxoProvider)
		if err != nil {
			return fmt.Errorf("tx %d validation: %w", i, err)
		}
		fees[i] = fee
		totalFees += fee
	}

	coinbaseTotal, err := coinbaseTx.TotalOutputValue()
	if err != nil {
		return fmt.Errorf("coinbase output overflow: %w", err)
	}
	var minted uint64
	if coinbaseTotal > totalFees {
		minted = coinbaseTotal - totalFees
	}
	allowedMint := config.Subsidy(blk.Height)
	if c.maxSupply > 0 {
		if c.state.Supply >= c.maxSupply {
			allowedMint = 0
		} else if remaining := c.maxSupply - c.state.Supply; allowedMint > remaining {
			allowedMint = remaining
		}
	}
	if minted > allowedMint {
		return fmt.Errorf("%w: minted=%d allowed=%d", ErrSubsidyExceeded, minted, allowedMint)
	}

	for i, transaction := range blk.Transactions[1:] {
		for _, in := range transaction.Inputs {
			if in.PrevOut.IsZero() {
				return fmt.Errorf("%w: tx %d contains coinbase input", ErrBadCoinbaseTx, i+1)
			}
		}
	}

	if err := c.checkCoinbaseMaturity(blk); err != nil {
		return err
	}

	certInputs := ledger.NewUTXOCertAdapter(c.utxos)
	for _, transaction := range blk.Transactions[1:] {
		if _, err := ledger.ValidateCertificateOps(transaction, blk.Height, c.ledger, certInputs); err != nil {
			return fmt.Errorf("certificate ledger validation: %w", err)
		}
	}

	return nil
}

// medianTimePast computes the median timestamp of up to MedianTimeSpan
// ancestors ending at parentHash, walking backward by PrevHash so it works
// for both the current tip and a forked parent not on the active branch.
func (c *Chain) medianTimePast(parentHash types.Hash) (uint32, error) {
	var timestamps []uint32
	hash := parentHash
	for i := 0; i < config.MedianTimeSpan; i++ {
		blk, err := c.blocks.GetBlock(hash)
		if err != nil {
			if len(timestamps) == 0 {
				return 0, err
			}
			break
		}
		timestamps = append(timestamps, blk.Header.Timestamp)
		if blk.Height == 0 {
			break
		}
		hash = blk.Header.PrevHash
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2], nil
}

// checkParentLink verifies that the block's PrevHash and Height are
// consistent with the current chain tip.
func (c *Chain) checkParentLink(blk *block.Block) error {
	if c.state.IsGenesis() {
		if blk.Height != 0 {
			return fmt.Errorf("%w: genesis must be height 0, got %d", ErrBadHeight, blk.Height)
		}
		if !blk.Header.PrevHash.IsZero() {
			return fmt.Errorf("%w: genesis must have zero prev_hash", ErrBadPrevHash)
		}
		return nil
	}

	if blk.Header.PrevHash == c.state.TipHash {
		expectedHeight := c.state.Height + 1
		if blk.Height != expectedHeight {
			return fmt.Errorf("%w: want %d, got %d", ErrBadHeight, expectedHeight, blk.Height)
		}
		return nil
	}

	parentKnown, err := c.blocks.HasBlock(blk.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("check parent: %w", err)
	}
	if parentKnown {
		parentBlk, err := c.blocks.GetBlock(blk.Header.PrevHash)
		if err != nil {
			return fmt.Errorf("load parent block: %w", err)
		}
		expectedHeight := parentBlk.Height + 1
		if blk.Height != expectedHeight {
			return fmt.Errorf("%w: parent height %d implies %d, got %d",
				ErrBadHeight, parentBlk.Height, expectedHeight, blk.Height)
		}
		return fmt.Errorf("%w: block %d forks from %s", ErrForkDetected, blk.Height, blk.Header.PrevHash)
	}
	return ErrPrevNotFound
}
