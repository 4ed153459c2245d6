// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"

	"github.com/gogo/protobuf/proto"
)

// KeyValuePairs is a set of key-value pairs addressed to the dataplane agent.
type KeyValuePairs map[string]proto.Message

// UpdateOperations is the write access to a transaction under preparation.
type UpdateOperations interface {
	// Put records a key-value pair to be applied. A later Put for the same
	// key within one transaction overrides the earlier one.
	Put(key string, value proto.Message)

	// Delete records removal of the value currently configured under
	// the given key.
	Delete(key string)

	// Get returns the value queued within this transaction under the given
	// key, or nil if the key is untouched or queued for deletion.
	Get(key string) proto.Message
}

// Transaction collects updates from all event handlers before they are
// committed as one unit.
type Transaction interface {
	UpdateOperations

	// Commit applies the queued operations. The sequence number of the
	// committed transaction is returned for correlation with logs.
	Commit(ctx context.Context) (seqNum int, err error)
}

// TxnFactory creates transactions. It decouples the event loop from the
// concrete southbound (the dataplane agent in production, a recording mock
// in tests).
type TxnFactory interface {
	// NewTxn returns an empty transaction.
	NewTxn() Transaction
}

// PutAll queues Put for every pair in <values>.
func PutAll(txn UpdateOperations, values KeyValuePairs) {
	for key, value := range values {
		txn.Put(key, value)
	}
}

// DeleteAll queues Delete for every key in <values>.
func DeleteAll(txn UpdateOperations, values KeyValuePairs) {
	for key := range values {
		txn.Delete(key)
	}
}
