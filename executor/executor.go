// Package executor lifts storeengine's raw []byte key/value operations up
// to the grouping+Content domain model and the wire Command/Outcome
// envelope front-ends speak (§2, §6). It is the only package that knows
// how to compose/split a storeengine key or parse/marshal a stored value
// as Content.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/command"
	"github.com/ledgerwatch/immuxdb/content"
	"github.com/ledgerwatch/immuxdb/grouping"
	"github.com/ledgerwatch/immuxdb/instruction"
	"github.com/ledgerwatch/immuxdb/predicate"
	"github.com/ledgerwatch/immuxdb/storeengine"
	"github.com/ledgerwatch/immuxdb/txmanager"
)

// ErrUnhandledCommand is returned by Execute for a Command whose Kind this
// executor does not recognize — only reachable if a new variant is added
// to package command without a matching case here.
var ErrUnhandledCommand = errors.New("executor: unhandled command kind")

// ErrKeyExceedsMaxLength is returned when a composed (label, key) pair
// exceeds the configured ceiling on a single key's length (§8 Logical
// error KeyExceedsMaxLength).
var ErrKeyExceedsMaxLength = errors.New("executor: key exceeds max length")

// Executor wraps a storeengine.Server, translating between domain values
// (grouping, unit key, Content) and the engine's raw []byte keys/values.
// Every operation goes through the Server's channel, not the Engine
// directly, so concurrent callers (httpfront and tcpfront both serve
// concurrent requests) still serialize through the engine's single
// goroutine, per §5's single-writer model.
type Executor struct {
	server     *storeengine.Server
	maxKeySize uint64
}

// New builds an Executor over server, rejecting any composed (label, key)
// longer than maxKeySize bytes before it ever reaches the engine. A
// maxKeySize of 0 disables the check.
func New(server *storeengine.Server, maxKeySize uint64) *Executor {
	return &Executor{server: server, maxKeySize: maxKeySize}
}

// checkKeySize enforces the composed-key ceiling: the raw storeengine
// key — grouping label plus unit key — must not exceed maxKeySize. The
// label and the unit key are not bounded separately.
func (x *Executor) checkKeySize(label grouping.Label, key grouping.UnitKey) error {
	if x.maxKeySize == 0 {
		return nil
	}
	if n := uint64(len(grouping.ComposeKey(label, key))); n > x.maxKeySize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrKeyExceedsMaxLength, n, x.maxKeySize)
	}
	return nil
}

// Execute dispatches a wire Command to the appropriate operation and
// lifts its result into an Outcome.
func (x *Executor) Execute(ctx context.Context, cmd command.Command) (command.Outcome, error) {
	switch cmd.Kind {
	case command.KindSelect:
		return x.Select(ctx, cmd.Grouping, cmd.Condition)
	case command.KindInspectOne:
		return x.InspectOne(ctx, cmd.Grouping, cmd.Key)
	case command.KindInspectAll:
		return x.InspectAll(ctx)
	case command.KindInsert:
		return command.OutcomeInsertSuccess(), x.Insert(ctx, cmd.Grouping, cmd.Key, cmd.Content, nil)
	case command.KindRevertOne:
		return command.OutcomeRevertOneSuccess(), x.RevertOne(ctx, cmd.Grouping, cmd.Key, cmd.Height, nil)
	case command.KindRevertAll:
		return command.OutcomeRevertAllSuccess(), x.RevertAll(ctx, cmd.Height)
	case command.KindRemoveOne:
		return command.OutcomeRemoveOneSuccess(), x.RemoveOne(ctx, cmd.Grouping, cmd.Key, nil)
	case command.KindRemoveAll:
		return command.OutcomeRemoveAllSuccess(), x.RemoveAll(ctx)
	case command.KindCreateTransaction:
		id, err := x.BeginTransaction(ctx)
		if err != nil {
			return command.Outcome{}, err
		}
		return command.OutcomeCreateTransaction(id), nil
	case command.KindTransactionalInsert:
		tx := cmd.TxID
		return command.OutcomeTransactionalInsertSuccess(), x.Insert(ctx, cmd.Grouping, cmd.Key, cmd.Content, &tx)
	case command.KindTransactionalRevertOne:
		tx := cmd.TxID
		return command.OutcomeTransactionalRevertOneSuccess(), x.RevertOne(ctx, cmd.Grouping, cmd.Key, cmd.Height, &tx)
	case command.KindTransactionalRemoveOne:
		tx := cmd.TxID
		return command.OutcomeTransactionalRemoveOneSuccess(), x.RemoveOne(ctx, cmd.Grouping, cmd.Key, &tx)
	case command.KindTransactionCommit:
		if err := x.CommitTransaction(ctx, cmd.TxID); err != nil {
			return command.Outcome{}, err
		}
		return command.OutcomeTransactionCommitSuccess(), nil
	case command.KindTransactionAbort:
		if err := x.AbortTransaction(ctx, cmd.TxID); err != nil {
			return command.Outcome{}, err
		}
		return command.OutcomeTransactionAbortSuccess(), nil
	default:
		return command.Outcome{}, fmt.Errorf("%w: %v", ErrUnhandledCommand, cmd.Kind)
	}
}

// Insert stores content under (label, key), optionally inside tx (§4.4.3).
func (x *Executor) Insert(ctx context.Context, label grouping.Label, key grouping.UnitKey, c content.Content, tx *txmanager.ID) error {
	if err := x.checkKeySize(label, key); err != nil {
		return err
	}
	raw := grouping.ComposeKey(label, key)
	return x.server.Set(ctx, raw, c.Marshal(), tx)
}

// Get resolves a single unit's content, optionally as seen from inside tx.
func (x *Executor) Get(ctx context.Context, label grouping.Label, key grouping.UnitKey, tx *txmanager.ID) (content.Content, bool, error) {
	raw := grouping.ComposeKey(label, key)
	value, ok, err := x.server.Get(ctx, raw, tx)
	if err != nil || !ok {
		return content.Content{}, ok, err
	}
	c, _, err := content.Parse(value)
	if err != nil {
		return content.Content{}, false, fmt.Errorf("executor: parse content: %w", err)
	}
	return c, true, nil
}

// Select resolves a SelectCondition against label, returning the matching
// contents (§4.6).
func (x *Executor) Select(ctx context.Context, label grouping.Label, cond command.SelectCondition) (command.Outcome, error) {
	switch cond.Kind {
	case command.SelectKind:
		c, ok, err := x.Get(ctx, label, cond.Key, cond.TransactionID)
		if err != nil {
			return command.Outcome{}, err
		}
		if !ok {
			return command.OutcomeSelect(nil), nil
		}
		return command.OutcomeSelect([]content.Content{c}), nil

	case command.SelectUnconditional:
		contents, err := x.scanGrouping(ctx, label, nil)
		if err != nil {
			return command.Outcome{}, err
		}
		return command.OutcomeSelect(contents), nil

	case command.SelectFilter:
		pred, err := predicate.ParseString(cond.FilterExpr)
		if err != nil {
			return command.Outcome{}, fmt.Errorf("executor: parse filter: %w", err)
		}
		contents, err := x.scanGrouping(ctx, label, &pred)
		if err != nil {
			return command.Outcome{}, err
		}
		return command.OutcomeSelect(contents), nil

	default:
		return command.Outcome{}, fmt.Errorf("%w: select condition %v", ErrUnhandledCommand, cond.Kind)
	}
}

// scanGrouping walks every record the engine has ever indexed under label,
// parsing each current value as Content and optionally filtering it. It
// relies on InspectAll plus the engine's current Get to only surface
// units that are still live (not removed/reverted away).
func (x *Executor) scanGrouping(ctx context.Context, label grouping.Label, pred *predicate.Predicate) ([]content.Content, error) {
	records, err := x.server.InspectAll(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []content.Content
	for _, rec := range records {
		instr := rec.Instruction
		if instr.Tag != instruction.TagSet && instr.Tag != instruction.TagTransactionalSet {
			continue
		}
		gotLabel, unitKey, err := grouping.SplitKey(instr.Key)
		if err != nil || string(gotLabel) != string(label) {
			continue
		}
		ks := string(instr.Key)
		if seen[ks] {
			continue
		}
		seen[ks] = true

		c, ok, err := x.Get(ctx, label, unitKey, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if pred != nil && !pred.Check(c) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// InspectOne lifts the engine's raw historical records for (label, key)
// into reconstructed Commands (§4.4.7).
func (x *Executor) InspectOne(ctx context.Context, label grouping.Label, key grouping.UnitKey) (command.Outcome, error) {
	raw := grouping.ComposeKey(label, key)
	records, err := x.server.InspectOne(ctx, raw)
	if err != nil {
		return command.Outcome{}, err
	}
	history, err := liftHistory(records)
	if err != nil {
		return command.Outcome{}, err
	}
	return command.OutcomeInspectOne(history), nil
}

// InspectAll lifts the engine's entire raw log into reconstructed
// Commands (§4.4.7).
func (x *Executor) InspectAll(ctx context.Context) (command.Outcome, error) {
	records, err := x.server.InspectAll(ctx)
	if err != nil {
		return command.Outcome{}, err
	}
	history, err := liftHistory(records)
	if err != nil {
		return command.Outcome{}, err
	}
	return command.OutcomeInspectAll(history), nil
}

// liftHistory converts storeengine's raw InspectedRecords into the
// higher-level Command the underlying write originally came from,
// mirroring the original engine's Command::try_from(instruction)
// conversion.
func liftHistory(records []storeengine.InspectedRecord) ([]command.CommandAtHeight, error) {
	out := make([]command.CommandAtHeight, 0, len(records))
	for _, rec := range records {
		cmd, err := commandFromInstruction(rec.Instruction)
		if err != nil {
			return nil, err
		}
		out = append(out, command.CommandAtHeight{Command: cmd, Height: chainheight.New(rec.Height)})
	}
	return out, nil
}

func commandFromInstruction(instr instruction.Instruction) (command.Command, error) {
	switch instr.Tag {
	case instruction.TagSet, instruction.TagTransactionalSet:
		label, key, err := grouping.SplitKey(instr.Key)
		if err != nil {
			return command.Command{}, err
		}
		c, _, err := content.Parse(instr.Value)
		if err != nil {
			return command.Command{}, fmt.Errorf("executor: parse history content: %w", err)
		}
		if instr.Tag == instruction.TagTransactionalSet {
			return command.TransactionalInsert(label, key, c, txmanager.ID(instr.TransactionID)), nil
		}
		return command.Insert(label, key, c), nil

	case instruction.TagRevertOne, instruction.TagTransactionalRevertOne:
		label, key, err := grouping.SplitKey(instr.Key)
		if err != nil {
			return command.Command{}, err
		}
		if instr.Tag == instruction.TagTransactionalRevertOne {
			return command.TransactionalRevertOne(label, key, instr.Height, txmanager.ID(instr.TransactionID)), nil
		}
		return command.RevertOne(label, key, instr.Height), nil

	case instruction.TagRevertAll:
		return command.RevertAll(instr.Height), nil

	case instruction.TagRemoveOne, instruction.TagTransactionalRemoveOne:
		label, key, err := grouping.SplitKey(instr.Key)
		if err != nil {
			return command.Command{}, err
		}
		if instr.Tag == instruction.TagTransactionalRemoveOne {
			return command.TransactionalRemoveOne(label, key, txmanager.ID(instr.TransactionID)), nil
		}
		return command.RemoveOne(label, key), nil

	case instruction.TagRemoveAll:
		return command.RemoveAll(), nil

	case instruction.TagTransactionStart:
		return command.CreateTransaction(), nil
	case instruction.TagTransactionCommit:
		return command.TransactionCommit(txmanager.ID(instr.TransactionID)), nil
	case instruction.TagTransactionAbort:
		return command.TransactionAbort(txmanager.ID(instr.TransactionID)), nil

	default:
		return command.Command{}, fmt.Errorf("executor: unhandled instruction tag %#x", byte(instr.Tag))
	}
}

// RevertOne reverts key to the value it held at height, optionally inside
// tx (§4.4.6).
func (x *Executor) RevertOne(ctx context.Context, label grouping.Label, key grouping.UnitKey, height chainheight.Height, tx *txmanager.ID) error {
	if err := x.checkKeySize(label, key); err != nil {
		return err
	}
	raw := grouping.ComposeKey(label, key)
	return x.server.RevertOne(ctx, raw, height, tx)
}

// RevertAll reverts the whole store to height (§4.4.6).
func (x *Executor) RevertAll(ctx context.Context, height chainheight.Height) error {
	return x.server.RevertAll(ctx, height)
}

// RemoveOne deletes a single unit, optionally inside tx (§4.4.5).
func (x *Executor) RemoveOne(ctx context.Context, label grouping.Label, key grouping.UnitKey, tx *txmanager.ID) error {
	if err := x.checkKeySize(label, key); err != nil {
		return err
	}
	raw := grouping.ComposeKey(label, key)
	return x.server.RemoveOne(ctx, raw, tx)
}

// RemoveAll deletes every unit in the store (§4.4.5).
func (x *Executor) RemoveAll(ctx context.Context) error {
	return x.server.RemoveAll(ctx)
}

// BeginTransaction starts a new transaction (§4.4.8).
func (x *Executor) BeginTransaction(ctx context.Context) (txmanager.ID, error) {
	return x.server.BeginTransaction(ctx)
}

// CommitTransaction commits tx, enforcing first-committer-wins (§4.5,
// Open Question 1).
func (x *Executor) CommitTransaction(ctx context.Context, tx txmanager.ID) error {
	return x.server.CommitTransaction(ctx, tx)
}

// AbortTransaction discards tx's tentative writes (§4.4.8).
func (x *Executor) AbortTransaction(ctx context.Context, tx txmanager.ID) error {
	return x.server.AbortTransaction(ctx, tx)
}
