/*
Package operations provides the core of a cross-chain message relayer: the lifecycle of pending
operations delivered to a destination chain, and the bookkeeping around it.

# Operations

An Operation is a pending unit of cross-chain work, e.g. a message that has to be processed by the
mailbox of its destination chain. Every operation moves through three phases:

  - Prepare checks that the operation can still be delivered and builds what submission needs
  - Submit sends the transaction to the destination chain
  - Confirm waits until the transaction is safe from reorgs

# Core Components

Status:
  - Explains why an operation sits in a queue (FirstPrepareAttempt, Retry, ReadyToSubmit, Confirm)
  - Retry and Confirm carry a reason from a closed set
  - Has a stable encoding, persisted in the origin domain store

Result:
  - Returned by Prepare and Confirm: Success, NotReady, Reprepare, Drop or Confirm
  - Interpreted by Transition, the only code changing the status of a queued operation

Queue:
  - Orders operations with Compare: ready before scheduled, then origin, priority and id
  - Is a strict total order, so heap based queues stay consistent

Driver:
  - Owns one queue per phase for a single destination
  - Backs off operations that are not ready or reprepared
  - Persists statuses to the origin store and reports delivered and dropped operations
  - Optionally submits several operations in one transaction through a BatchSubmitter

Cost accounting:
  - TotalEstimatedCost sums the estimates of a batch
  - GasUsedByOperation attributes the gas of a batch transaction to one of its operations

# Basic Usage

	driver := operations.NewDriver(destination, lggr,
		operations.WithBackoff(operations.DefaultBackoffPolicy()),
		operations.WithMetrics(metrics),
	)

	if err := driver.Enqueue(op); err != nil {
		return err
	}

	return driver.Run(ctx)
*/
package operations
