// Package storeengine implements the central component of the store
// (§4.4): the in-memory index, the append-only log it is built from, and
// every public mutation/read operation, including snapshot-isolated
// transactions.
package storeengine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/ecc"
	"github.com/ledgerwatch/immuxdb/instruction"
	"github.com/ledgerwatch/immuxdb/logio"
	"github.com/ledgerwatch/immuxdb/txmanager"
)

// logFileName is the single file each store directory holds, per §6.
const logFileName = "command_log.log"

var (
	// ErrRevertOutOfRange is returned when a revert targets a height past
	// the current end of the log.
	ErrRevertOutOfRange = errors.New("storeengine: revert height out of range")
	// ErrPointToUnexpectedInstruction is returned when a resolved index
	// pointer names an instruction tag that cannot hold a value.
	ErrPointToUnexpectedInstruction = errors.New("storeengine: index points to unexpected instruction")
)

// indexEntry is what index maps a key to: where its governing record
// lives in the log, and a height — the record's own height, except after
// a live CommitTransaction, which stores the commit record's height.
type indexEntry struct {
	Pointer logio.Pointer
	Height  chainheight.Height
}

// Engine is the central, single-writer store. It is not safe for
// concurrent use directly — see storeengine.Server for the
// channel-serialized wrapper described in §5.
type Engine struct {
	dir     string
	writer  *logio.Writer
	reader  *logio.Reader
	index   map[string]indexEntry
	records uint64 // total records ever appended; current height is records-1

	txMgr     *txmanager.Manager
	txPending map[txmanager.ID]map[string]logio.Pointer

	metrics *Metrics
	logger  log.Logger
}

// Open creates the store directory if missing, opens (or creates) its
// log file under the given ECC mode, and replays every record to build
// the in-memory index (§4.4.2).
func Open(dir string, mode ecc.Mode) (*Engine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storeengine: mkdir %s: %w", dir, err)
	}
	logPath := filepath.Join(dir, logFileName)

	writer, err := logio.OpenWriter(logPath, mode)
	if err != nil {
		return nil, fmt.Errorf("storeengine: open writer: %w", err)
	}
	reader, err := logio.OpenReader(logPath)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("storeengine: open reader: %w", err)
	}

	e := &Engine{
		dir:       dir,
		writer:    writer,
		reader:    reader,
		txMgr:     txmanager.New(),
		txPending: make(map[txmanager.ID]map[string]logio.Pointer),
		metrics:   newMetrics(),
		logger:    log.New("module", "storeengine"),
	}

	if err := e.replay(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("storeengine: replay: %w", err)
	}

	e.logger.Info("store opened", "dir", dir, "records", e.records)
	return e, nil
}

// Close releases the log file handles.
func (e *Engine) Close() error {
	if err := e.writer.Close(); err != nil {
		return err
	}
	return e.reader.Close()
}

// Metrics returns the engine's prometheus counters, for a caller to
// register on its own registry.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// height returns the height of the last appended record, or
// chainheight.Max before any record exists.
func (e *Engine) height() chainheight.Height {
	if e.records == 0 {
		return chainheight.Max
	}
	return chainheight.New(e.records - 1)
}

func (e *Engine) append(instr instruction.Instruction) (logio.Pointer, chainheight.Height, error) {
	ptr, err := e.writer.Append(instr)
	if err != nil {
		return logio.Pointer{}, 0, err
	}
	h := chainheight.New(e.records)
	e.records++
	e.metrics.recordsAppended.Inc()
	return ptr, h, nil
}

// Set appends a Set (or, under a transaction, a TransactionalSet)
// record (§4.4.3).
func (e *Engine) Set(key, value []byte, tx *txmanager.ID) error {
	if tx == nil {
		ptr, h, err := e.append(instruction.Set(key, value))
		if err != nil {
			return err
		}
		e.index[string(key)] = indexEntry{Pointer: ptr, Height: h}
		return nil
	}

	if err := e.txMgr.Validate(*tx); err != nil {
		return err
	}
	ptr, _, err := e.append(instruction.TransactionalSet(key, value, instruction.TransactionID(*tx)))
	if err != nil {
		return err
	}
	e.recordTentative(*tx, key, ptr)
	return e.txMgr.AddAffectedKey(*tx, key)
}

func (e *Engine) recordTentative(tx txmanager.ID, key []byte, ptr logio.Pointer) {
	pending, ok := e.txPending[tx]
	if !ok {
		pending = make(map[string]logio.Pointer)
		e.txPending[tx] = pending
	}
	pending[string(key)] = ptr
}

// Get resolves the current value of key, optionally as seen from within
// an open transaction (§4.4.4).
func (e *Engine) Get(key []byte, tx *txmanager.ID) ([]byte, bool, error) {
	ks := string(key)

	if tx != nil {
		if err := e.txMgr.Validate(*tx); err != nil {
			return nil, false, err
		}
		if ptr, ok := e.txPending[*tx][ks]; ok {
			return e.resolvePointer(key, ptr)
		}
		meta, err := e.txMgr.Metadata(*tx)
		if err != nil {
			return nil, false, err
		}
		if ptr, ok := meta.Snapshot[ks]; ok {
			return e.resolvePointer(key, ptr)
		}
		// Fall through to the current global index — a phantom read for
		// keys created after this transaction began (§5 isolation contract).
	}

	entry, ok := e.index[ks]
	if !ok {
		return nil, false, nil
	}
	return e.resolvePointer(key, entry.Pointer)
}

func (e *Engine) resolvePointer(key []byte, ptr logio.Pointer) ([]byte, bool, error) {
	instr, err := e.reader.ReadAt(ptr)
	if err != nil {
		return nil, false, err
	}
	return e.resolveInstruction(key, instr)
}

func (e *Engine) resolveInstruction(key []byte, instr instruction.Instruction) ([]byte, bool, error) {
	switch instr.Tag {
	case instruction.TagSet, instruction.TagTransactionalSet:
		return instr.Value, true, nil
	case instruction.TagRevertOne, instruction.TagTransactionalRevertOne:
		return e.resolveAtHeight(key, instr.Height)
	case instruction.TagRemoveOne, instruction.TagTransactionalRemoveOne:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("%w: tag %#x", ErrPointToUnexpectedInstruction, byte(instr.Tag))
	}
}

// resolveAtHeight evaluates key's value as of the state produced by
// replaying records 0..=height, recursing through RevertOne/RevertAll
// indirection exactly as §4.4.4 describes. Bounded by strictly
// decreasing height, so it always terminates.
func (e *Engine) resolveAtHeight(key []byte, height chainheight.Height) ([]byte, bool, error) {
	records, err := e.recordsUpTo(height)
	if err != nil {
		return nil, false, err
	}
	instrs := make([]instruction.Instruction, len(records))
	for i, r := range records {
		instrs[i] = r.Instruction
	}
	return recursiveResolve(key, instrs, height)
}

// recordsUpTo scans the log from the start through height (inclusive),
// stopping as soon as it has that many records. A fresh reader is opened
// for the scan so it doesn't disturb e.reader's position.
func (e *Engine) recordsUpTo(height chainheight.Height) ([]logio.Record, error) {
	var records []logio.Record
	var h uint64
	stop := errors.New("storeengine: stop scan")

	reader, err := logio.OpenReader(filepath.Join(e.dir, logFileName))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	err = reader.ScanAll(func(rec logio.Record) error {
		records = append(records, rec)
		if h == uint64(height) {
			return stop
		}
		h++
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return nil, err
	}
	return records, nil
}

func recursiveResolve(key []byte, records []instruction.Instruction, height chainheight.Height) ([]byte, bool, error) {
	h := uint64(height)
	for {
		if h >= uint64(len(records)) {
			return nil, false, fmt.Errorf("storeengine: height %d out of range", h)
		}
		instr := records[h]

		switch instr.Tag {
		case instruction.TagSet, instruction.TagTransactionalSet:
			if bytes.Equal(instr.Key, key) {
				return instr.Value, true, nil
			}
		case instruction.TagRevertOne, instruction.TagTransactionalRevertOne:
			if bytes.Equal(instr.Key, key) {
				h = uint64(instr.Height)
				continue
			}
		case instruction.TagRevertAll:
			h = uint64(instr.Height)
			continue
		case instruction.TagRemoveOne, instruction.TagTransactionalRemoveOne:
			if bytes.Equal(instr.Key, key) {
				return nil, false, nil
			}
		case instruction.TagRemoveAll:
			return nil, false, nil
		}

		if h == 0 {
			return nil, false, nil
		}
		h--
	}
}

// RemoveOne appends a RemoveOne (or TransactionalRemoveOne) record
// (§4.4.5).
func (e *Engine) RemoveOne(key []byte, tx *txmanager.ID) error {
	if tx == nil {
		if _, _, err := e.append(instruction.RemoveOne(key)); err != nil {
			return err
		}
		delete(e.index, string(key))
		return nil
	}

	if err := e.txMgr.Validate(*tx); err != nil {
		return err
	}
	ptr, _, err := e.append(instruction.TransactionalRemoveOne(key, instruction.TransactionID(*tx)))
	if err != nil {
		return err
	}
	e.recordTentative(*tx, key, ptr)
	return e.txMgr.AddAffectedKey(*tx, key)
}

// RemoveAll appends a RemoveAll record and clears the index (§4.4.5).
func (e *Engine) RemoveAll() error {
	if _, _, err := e.append(instruction.RemoveAll()); err != nil {
		return err
	}
	e.index = make(map[string]indexEntry)
	return nil
}

// revertAllowed reports whether height names an existing record.
func (e *Engine) revertAllowed(height chainheight.Height) bool {
	return e.records > 0 && uint64(height) <= e.records-1
}

// RevertOne appends a RevertOne (or TransactionalRevertOne) record,
// pointing key at the new record (§4.4.6).
func (e *Engine) RevertOne(key []byte, height chainheight.Height, tx *txmanager.ID) error {
	if !e.revertAllowed(height) {
		return fmt.Errorf("%w: height %d, current %d", ErrRevertOutOfRange, height, e.height())
	}

	if tx == nil {
		ptr, h, err := e.append(instruction.RevertOne(key, height))
		if err != nil {
			return err
		}
		e.index[string(key)] = indexEntry{Pointer: ptr, Height: h}
		return nil
	}

	if err := e.txMgr.Validate(*tx); err != nil {
		return err
	}
	ptr, _, err := e.append(instruction.TransactionalRevertOne(key, height, instruction.TransactionID(*tx)))
	if err != nil {
		return err
	}
	e.recordTentative(*tx, key, ptr)
	return e.txMgr.AddAffectedKey(*tx, key)
}

// RevertAll appends a RevertAll record, rebuilds the index by replaying
// records 0..=height, and kills every currently alive transaction
// (§4.4.6).
func (e *Engine) RevertAll(height chainheight.Height) error {
	if !e.revertAllowed(height) {
		return fmt.Errorf("%w: height %d, current %d", ErrRevertOutOfRange, height, e.height())
	}

	if _, _, err := e.append(instruction.RevertAll(height)); err != nil {
		return err
	}

	records, err := e.recordsUpTo(height)
	if err != nil {
		return err
	}
	e.index = replayRange(records)

	for tx := range e.txPending {
		delete(e.txPending, tx)
	}
	e.txMgr.KillAll()

	return nil
}

// BeginTransaction starts a new transaction, snapshotting the current
// index (§4.4.8).
func (e *Engine) BeginTransaction() (txmanager.ID, error) {
	id, err := e.txMgr.GenerateNewTransactionID()
	if err != nil {
		return 0, err
	}
	if _, _, err := e.append(instruction.TransactionStart(instruction.TransactionID(id))); err != nil {
		return 0, err
	}

	snapshot := make(map[string]logio.Pointer, len(e.index))
	for k, entry := range e.index {
		snapshot[k] = entry.Pointer
	}
	e.txMgr.InitializeTransaction(id, snapshot)
	e.metrics.transactionsStarted.Inc()
	return id, nil
}

// CommitTransaction validates tx, runs the lost-update check, and if it
// passes, applies every tentative write to the global index (§4.4.8,
// §4.5).
func (e *Engine) CommitTransaction(tx txmanager.ID) error {
	if err := e.txMgr.Validate(tx); err != nil {
		return err
	}

	err := e.txMgr.CheckLostUpdate(tx, func(key string) (logio.Pointer, bool) {
		entry, ok := e.index[key]
		return entry.Pointer, ok
	})
	if err != nil {
		e.metrics.transactionConflicts.Inc()
		return err
	}

	if _, commitHeight, err := e.append(instruction.TransactionCommit(instruction.TransactionID(tx))); err != nil {
		return err
	} else {
		for key, ptr := range e.txPending[tx] {
			instr, err := e.reader.ReadAt(ptr)
			if err != nil {
				return err
			}
			switch instr.Tag {
			case instruction.TagTransactionalRemoveOne:
				delete(e.index, key)
			default:
				e.index[key] = indexEntry{Pointer: ptr, Height: commitHeight}
			}
		}
	}

	delete(e.txPending, tx)
	e.txMgr.RemoveTransaction(tx)
	e.metrics.transactionsCommitted.Inc()
	return nil
}

// AbortTransaction validates tx, appends a TransactionAbort record, and
// discards the transaction's tentative writes (§4.4.8).
func (e *Engine) AbortTransaction(tx txmanager.ID) error {
	if err := e.txMgr.Validate(tx); err != nil {
		return err
	}
	if _, _, err := e.append(instruction.TransactionAbort(instruction.TransactionID(tx))); err != nil {
		return err
	}
	delete(e.txPending, tx)
	e.txMgr.RemoveTransaction(tx)
	e.metrics.transactionsAborted.Inc()
	return nil
}
