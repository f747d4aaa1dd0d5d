// Package evm relays cross-chain messages to EVM destination chains: message encoding, the mailbox
// boundary, receipt based confirmation, the PendingMessage operation and a failover RPC client.
package evm
