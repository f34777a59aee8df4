// Package crawler implements the concurrent, resumable crawl engine shared by
// every discovery strategy.
//
// A crawl is a pool of workers draining one Frontier. Each worker owns its
// own catalog session and processes one work item at a time through a
// strategy Processor; discoveries land in the shared ResultStore and
// completed items in its done set. When the frontier runs dry the workers
// meet at the LevelBarrier, which elects one of them to checkpoint and either
// refill the frontier with the next breadth-first level or finish the crawl.
// Flat strategies use the same barrier with a target depth of zero.
package crawler
