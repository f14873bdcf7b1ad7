// Command coreinspect is a live TUI over an in-process buffer pool and
// lock manager, generalizing the teacher's pkg/debug/ui heap/log/catalog
// readers (storemy/pkg/debug/heapreader, logreader, catalogreader — each
// a bubbletea program attached to a live on-disk structure) to this
// specification's subsystems: frame occupancy, LRU-K replacer history,
// extendible hash directory shape, and the lock manager's wait-for graph.
package main

import (
	"math/rand"
	"time"

	"storagecore/pkg/common"
	"storagecore/pkg/concurrency/lock"
	"storagecore/pkg/concurrency/txn"
	"storagecore/pkg/storage/buffer"
	"storagecore/pkg/storage/disk"
)

// demoState owns the live subsystems coreinspect inspects and two
// background goroutines (page churn and lock contention) that exercise
// them so the TUI has something to show. It is not part of the specification's storage/concurrency core;
// it exists only to give coreinspect a running system to attach to, the
// way the teacher's demo mode (main.go's runDemoMode) seeds sample data
// for its own interactive SQL shell.
type demoState struct {
	pool     *buffer.Manager
	lockMgr  *lock.Manager
	txnMgr   *txn.Manager
	detector *lock.DeadlockDetector
	poolID   string
	stop     chan struct{}
}

func newDemoState() *demoState {
	cfg := common.DefaultConfig()
	pool, err := buffer.NewWithConfig(disk.NewMemoryManager(), cfg)
	if err != nil {
		panic(err)
	}
	lockMgr := lock.NewManager()
	txnMgr := txn.NewManager()
	detector := lock.NewDeadlockDetector(lockMgr, txnMgr, cfg.DeadlockDetectionInterval)
	detector.Start()

	d := &demoState{pool: pool, lockMgr: lockMgr, txnMgr: txnMgr, detector: detector, poolID: cfg.PoolID.String(), stop: make(chan struct{})}
	go d.runPageChurn()
	go d.runLockContention()
	return d
}

func (d *demoState) Close() {
	close(d.stop)
	d.detector.Stop()
}

// runPageChurn continuously allocates, pins briefly, dirties, and unpins
// pages so the frame table, LRU-K history, and hash directory have
// changing state to display.
func (d *demoState) runPageChurn() {
	var ids []common.PageID
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			switch {
			case len(ids) < 40 || rand.Intn(3) == 0:
				id, data := d.pool.NewPage()
				if data == nil {
					break
				}
				data[0] = byte(rand.Intn(256))
				ids = append(ids, id)
				d.pool.UnpinPage(id, true)
			default:
				id := ids[rand.Intn(len(ids))]
				if d.pool.FetchPage(id) != nil {
					d.pool.UnpinPage(id, false)
				}
			}
		}
	}
}

// runLockContention spins up short-lived transactions that acquire table
// and row locks against a small fixed set of resources, occasionally
// colliding (and occasionally deadlocking) so the wait-for graph panel has
// something to show.
func (d *demoState) runLockContention() {
	const numTables = 3
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			go d.runOneTransaction(txn.TableID(rand.Intn(numTables)))
		}
	}
}

func (d *demoState) runOneTransaction(table txn.TableID) {
	tr := d.txnMgr.Begin(txn.RepeatableRead)
	mode := lock.IntentionExclusive
	if rand.Intn(2) == 0 {
		mode = lock.IntentionShared
	}
	if err := d.lockMgr.LockTable(tr, mode, table); err != nil {
		d.txnMgr.Abort(tr)
		return
	}

	row := txn.RowID(rand.Intn(5))
	rowMode := lock.Shared
	if mode == lock.IntentionExclusive {
		rowMode = lock.Exclusive
	}
	if err := d.lockMgr.LockRow(tr, rowMode, table, row); err != nil {
		d.lockMgr.ReleaseAll(tr)
		d.txnMgr.Abort(tr)
		return
	}

	time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

	d.lockMgr.ReleaseAll(tr)
	if tr.State() == txn.Aborted {
		d.txnMgr.Abort(tr)
	} else {
		d.txnMgr.Commit(tr)
	}
}
