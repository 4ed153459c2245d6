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
	"fmt"
	"strings"

	scheduler_api "github.com/ligato/vpp-agent/plugins/kvscheduler/api"
)

// FatalError tells the event loop to stop the agent as soon as possible.
// Non-fatal handler errors are logged and counted, but the loop goes on.
type FatalError struct {
	origErr error
}

// NewFatalError is the constructor for FatalError.
func NewFatalError(origErr error) error {
	return &FatalError{origErr: origErr}
}

// Error delegates the call to the underlying error.
func (e *FatalError) Error() string {
	return e.origErr.Error()
}

// GetOriginalError returns the underlying error.
func (e *FatalError) GetOriginalError() error {
	return e.origErr
}

// IsFatalError tells whether the given error, possibly wrapped, is fatal.
func IsFatalError(err error) bool {
	_, fatal := err.(*FatalError)
	return fatal
}

// TransactionError wraps all errors returned from a transaction commit.
type TransactionError struct {
	txnError error
	kvErrors []scheduler_api.KeyWithError
}

// NewTransactionError is a constructor for transaction error.
func NewTransactionError(txnError error, kvErrors []scheduler_api.KeyWithError) *TransactionError {
	return &TransactionError{txnError: txnError, kvErrors: kvErrors}
}

// Error returns a string representation of all commit errors.
func (e *TransactionError) Error() string {
	if e == nil {
		return ""
	}
	if e.txnError != nil {
		return e.txnError.Error()
	}
	if len(e.kvErrors) > 0 {
		var kvErrMsgs []string
		for _, kvError := range e.kvErrors {
			kvErrMsgs = append(kvErrMsgs,
				fmt.Sprintf("%s (%v): %v", kvError.Key, kvError.TxnOperation, kvError.Error))
		}
		return fmt.Sprintf("failed key-value pairs: [%s]", strings.Join(kvErrMsgs, ", "))
	}
	return ""
}

// GetKVErrors returns errors for key-value pairs that failed to get applied.
func (e *TransactionError) GetKVErrors() (kvErrors []scheduler_api.KeyWithError) {
	if e == nil {
		return kvErrors
	}
	return e.kvErrors
}

// GetTxnError returns the error associated with transaction processing.
func (e *TransactionError) GetTxnError() error {
	if e == nil {
		return nil
	}
	return e.txnError
}
