// Package dataplane provides a recording replacement for the dataplane agent
// transactions, to be used by unit tests of event handlers and renderers.
package dataplane

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogo/protobuf/proto"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
)

// TxnTracker records transactions committed against the mock dataplane and
// folds them into a snapshot of the applied configuration.
type TxnTracker struct {
	// lock allows to use the same mock from multiple go routines.
	lock sync.Mutex
	// AppliedConfig is the mock dataplane content after all committed
	// transactions.
	AppliedConfig ConfigSnapshot
	// CommittedTxns lists finalized transactions in commit order.
	CommittedTxns []*MockTxn
	// onCommit if defined is executed inside the transaction commit.
	onCommit func(txn *MockTxn) error

	seqNum int
}

// ConfigSnapshot represents the current content of the mock dataplane.
type ConfigSnapshot map[string]proto.Message

// TxnOp records a single operation queued into a transaction.
type TxnOp struct {
	Key string
	// Value is nil for delete.
	Value proto.Message
}

// MockTxn implements the controller Transaction interface on top of
// the tracker.
type MockTxn struct {
	// Values are the queued operations, nil value meaning delete.
	Values controller.KeyValuePairs

	// Ops lists the operations in the order they were queued.
	Ops []TxnOp

	tracker *TxnTracker
}

// NewTxnTracker is a constructor for TxnTracker. The optional onCommit
// callback may be used to inject commit errors or to inspect transactions
// as they are applied.
func NewTxnTracker(onCommit func(txn *MockTxn) error) *TxnTracker {
	tracker := &TxnTracker{onCommit: onCommit}
	tracker.Clear()
	return tracker
}

// NewTxn is a factory for mock transactions.
func (t *TxnTracker) NewTxn() controller.Transaction {
	return &MockTxn{
		Values:  make(controller.KeyValuePairs),
		tracker: t,
	}
}

// Clear resets the tracker state. Already created transactions become
// invalid.
func (t *TxnTracker) Clear() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.AppliedConfig = make(ConfigSnapshot)
	t.CommittedTxns = nil
	t.seqNum = 0
}

// commit folds the transaction into the applied configuration.
func (t *TxnTracker) commit(txn *MockTxn) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.onCommit != nil {
		if err := t.onCommit(txn); err != nil {
			return 0, err
		}
	}
	for key, value := range txn.Values {
		if value != nil {
			t.AppliedConfig[key] = value
		} else {
			delete(t.AppliedConfig, key)
		}
	}
	t.CommittedTxns = append(t.CommittedTxns, txn)
	seqNum := t.seqNum
	t.seqNum++
	return seqNum, nil
}

// Commit applies the queued operations into the tracker.
func (m *MockTxn) Commit(ctx context.Context) (int, error) {
	return m.tracker.commit(m)
}

// Put adds a request to the transaction to add or modify a value.
// <value> cannot be nil.
func (m *MockTxn) Put(key string, value proto.Message) {
	if value == nil {
		panic(fmt.Sprintf("Put nil value for key '%s'", key))
	}
	m.Values[key] = value
	m.Ops = append(m.Ops, TxnOp{Key: key, Value: value})
}

// Delete adds a request to the transaction to delete an existing value.
func (m *MockTxn) Delete(key string) {
	m.Values[key] = nil
	m.Ops = append(m.Ops, TxnOp{Key: key})
}

// Get returns a value already queued within this transaction, or nil
// if the key is untouched or queued for deletion.
func (m *MockTxn) Get(key string) proto.Message {
	value := m.Values[key]
	return value
}
