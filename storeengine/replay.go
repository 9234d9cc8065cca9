package storeengine

import (
	"path/filepath"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/instruction"
	"github.com/ledgerwatch/immuxdb/logio"
)

// replay rebuilds e.index and e.records from the entire log on disk,
// following the replay rules table in §4.4.2.
func (e *Engine) replay() error {
	var all []logio.Record
	if err := e.reader.ScanAll(func(rec logio.Record) error {
		all = append(all, rec)
		return nil
	}); err != nil {
		return err
	}

	e.index = replayRange(all)
	e.records = uint64(len(all))
	return nil
}

type pendingRecord struct {
	record logio.Record
	height int
}

// replayRange rebuilds an index from scratch by applying records[0:] in
// order, per the §4.4.2 replay rules table. A RevertAll record inside
// records restarts the computation from offset 0 up to its own target
// height — exactly the "restart replay from offset 0" rule — which
// terminates because that target height is always strictly less than
// the RevertAll record's own position.
func replayRange(records []logio.Record) map[string]indexEntry {
	index := make(map[string]indexEntry)
	pending := make(map[instruction.TransactionID][]pendingRecord)

	for h, rec := range records {
		instr := rec.Instruction

		switch instr.Tag {
		case instruction.TagSet, instruction.TagRevertOne:
			index[string(instr.Key)] = indexEntry{Pointer: rec.Pointer, Height: chainheight.New(uint64(h))}
		case instruction.TagRevertAll:
			target := int(instr.Height)
			if target < len(records) {
				index = replayRange(records[:target+1])
			} else {
				index = make(map[string]indexEntry)
			}
			pending = make(map[instruction.TransactionID][]pendingRecord)
		case instruction.TagRemoveOne:
			delete(index, string(instr.Key))
		case instruction.TagRemoveAll:
			index = make(map[string]indexEntry)
		case instruction.TagTransactionStart:
			pending[instr.TransactionID] = nil
		case instruction.TagTransactionalSet, instruction.TagTransactionalRevertOne, instruction.TagTransactionalRemoveOne:
			pending[instr.TransactionID] = append(pending[instr.TransactionID], pendingRecord{record: rec, height: h})
		case instruction.TagTransactionCommit:
			for _, p := range pending[instr.TransactionID] {
				applyCommitted(index, p)
			}
			delete(pending, instr.TransactionID)
		case instruction.TagTransactionAbort:
			delete(pending, instr.TransactionID)
		}
	}

	return index
}

func applyCommitted(index map[string]indexEntry, p pendingRecord) {
	instr := p.record.Instruction
	switch instr.Tag {
	case instruction.TagTransactionalSet, instruction.TagTransactionalRevertOne:
		index[string(instr.Key)] = indexEntry{Pointer: p.record.Pointer, Height: chainheight.New(uint64(p.height))}
	case instruction.TagTransactionalRemoveOne:
		delete(index, string(instr.Key))
	}
}

// InspectedRecord pairs a decoded log record with the height it was
// appended at, as returned by InspectAll/InspectOne (§4.4.7).
type InspectedRecord struct {
	Instruction instruction.Instruction
	Height      uint64
}

// InspectAll returns the entire log, replayed as an ordered sequence of
// (Instruction, height) pairs.
func (e *Engine) InspectAll() ([]InspectedRecord, error) {
	records, err := e.allRecords()
	if err != nil {
		return nil, err
	}
	out := make([]InspectedRecord, len(records))
	for i, rec := range records {
		out[i] = InspectedRecord{Instruction: rec.Instruction, Height: uint64(i)}
	}
	return out, nil
}

// InspectOne returns only the records whose key equals key, plus every
// RevertAll/RemoveAll that falls after key's first appearance, in log
// order (§4.4.7).
func (e *Engine) InspectOne(key []byte) ([]InspectedRecord, error) {
	records, err := e.allRecords()
	if err != nil {
		return nil, err
	}

	var out []InspectedRecord
	seenKey := false
	for i, rec := range records {
		instr := rec.Instruction
		matches := false

		switch instr.Tag {
		case instruction.TagSet, instruction.TagRevertOne, instruction.TagRemoveOne,
			instruction.TagTransactionalSet, instruction.TagTransactionalRevertOne, instruction.TagTransactionalRemoveOne:
			if string(instr.Key) == string(key) {
				matches = true
				seenKey = true
			}
		case instruction.TagRevertAll, instruction.TagRemoveAll:
			matches = seenKey
		}

		if matches {
			out = append(out, InspectedRecord{Instruction: instr, Height: uint64(i)})
		}
	}
	return out, nil
}

func (e *Engine) allRecords() ([]logio.Record, error) {
	reader, err := logio.OpenReader(filepath.Join(e.dir, logFileName))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var records []logio.Record
	if err := reader.ScanAll(func(rec logio.Record) error {
		records = append(records, rec)
		return nil
	}); err != nil {
		return nil, err
	}
	return records, nil
}
