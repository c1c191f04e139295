// Package ir provides the value types shared by every tokenbot package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the domain vocabulary
// (amounts, action kinds, pending actions, audit records) at the bottom of
// the dependency graph.
//
// Key design constraints:
//   - NO float types for money: balances and costs are Amount, an int64
//     count of tenths of a token
//   - All JSON tags use snake_case
//   - Audit identity is content-addressed (see hash.go) and excludes
//     wall-clock time
package ir
