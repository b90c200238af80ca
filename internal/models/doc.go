// Package models defines the core domain models for BankEase.
//
// # Models
//
//   - Account: a registered user's balance-holding identity, addressed by phone
//   - TransactionRecord: one side of a money movement, owned by one account
//   - AccountSummary: the view of an Account returned to clients
//
// # Design Principles
//
// 1. **Integer money**: balances and amounts are money.Amount (minor units)
// 2. **Paired records**: a transfer writes one send and one receive record
// sharing a TransactionID
// 3. **Immutable history**: records are never updated or deleted
// 4. **No secrets in views**: PINHash never leaves the storage and auth layers
package models
