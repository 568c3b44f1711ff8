// Package ledger implements the hash-linked supply-chain ledger.
//
// Every product batch owns its own chain of blocks. A chain starts with a
// genesis block whose PreviousHash is GenesisPreviousHash ("0"); every later
// block records the SHA-256 digest of its predecessor, so altering any
// digest-participating field is detectable with ValidateChain.
//
// The package is split into four parts:
//   - Digest: deterministic serialization and hashing of block fields.
//   - CreateBlock: the block factory. Pure; never mutates the input chain.
//   - ValidateChain / Verify: read-only chain verification.
//   - Store: the category → batch → chain collection with an injected
//     Persister that receives a full Snapshot after every mutation.
//
// Implementations of Persister live in internal/storage; MemoryPersister is
// provided here for tests and single-process deployments.
package ledger
