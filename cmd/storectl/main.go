// Command storectl drives a minikvstore instance from the command line:
// it opens (or creates) a data file, brings up a buffer pool and a
// named B+Tree index over it, optionally runs a bulk-load or demo
// insert workload, and optionally serves live buffer pool diagnostics
// over HTTP until interrupted.
package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minikvstore/internal/btree"
	"minikvstore/internal/buffer"
	"minikvstore/internal/diagnostics"
	"minikvstore/internal/diskmgr"
	"minikvstore/internal/loader"
)

func main() {
	dataFile := flag.String("file", "./minikvstore.db", "path to the data file")
	poolSize := flag.Int("poolsize", 128, "number of frames in the buffer pool")
	replacerK := flag.Int("replacerk", 2, "k parameter for the LRU-K page replacer")
	indexName := flag.String("index", "demo", "name of the B+Tree index to open or create")
	leafMaxSize := flag.Int("leafmaxsize", 0, "operative max entries per leaf page (0 = one less than hardware capacity)")
	internalMaxSize := flag.Int("internalmaxsize", 0, "operative max entries per internal page (0 = one less than hardware capacity)")
	loadFile := flag.String("load", "", "CSV file of key,value lines to bulk-insert on startup")
	numInserts := flag.Int("inserts", 0, "number of synthetic key-value pairs to insert for a demo workload")
	diagAddr := flag.String("diagaddr", "", "address to serve buffer pool diagnostics on, e.g. :8081 (empty disables it)")
	flag.Parse()

	log.Println("storectl: starting")

	disk, err := diskmgr.Open(*dataFile)
	if err != nil {
		log.Fatalf("storectl: open data file %q: %v", *dataFile, err)
	}
	defer func() {
		if err := disk.Close(); err != nil {
			log.Printf("storectl: error closing data file: %v", err)
		}
	}()

	bpm := buffer.NewPoolManager(disk,
		buffer.WithPoolSize(*poolSize),
		buffer.WithReplacerK(*replacerK),
	)
	log.Printf("storectl: buffer pool ready, %d frames, LRU-%d replacement", *poolSize, *replacerK)

	opts := btree.Options{
		LeafMaxSize:     uint32(*leafMaxSize),
		InternalMaxSize: uint32(*internalMaxSize),
	}
	index, err := btree.OpenIndex(bpm, *indexName, opts)
	if err != nil {
		index, err = btree.CreateIndex(bpm, *indexName, opts)
		if err != nil {
			log.Fatalf("storectl: create index %q: %v", *indexName, err)
		}
		log.Printf("storectl: created new index %q", *indexName)
	} else {
		log.Printf("storectl: opened existing index %q (root page %d)", *indexName, index.GetRootPageID())
	}

	if *diagAddr != "" {
		diagnostics.StartServer(bpm, *diagAddr)
	}

	if *loadFile != "" {
		log.Printf("storectl: bulk-loading %q into %q", *loadFile, *indexName)
		result, err := loader.InsertFromFile(index, *loadFile)
		if err != nil {
			log.Fatalf("storectl: bulk load failed: %v", err)
		}
		log.Printf("storectl: bulk load processed %d lines, inserted %d, %d errors",
			result.EntriesProcessed, result.EntriesInserted, len(result.Errors))
		for _, e := range result.Errors {
			log.Printf("storectl: load error: %s", e)
		}
	}

	if *numInserts > 0 {
		log.Printf("storectl: running demo workload of %d inserts", *numInserts)
		start := time.Now()
		for i := 1; i <= *numInserts; i++ {
			key := uint64(i)
			value := uint64(i * 100)
			if err := index.Insert(key, value); err != nil {
				log.Printf("storectl: demo insert failed for key %d: %v", key, err)
				if errors.Is(err, buffer.ErrBufferFull) {
					log.Println("storectl: stopping demo workload, buffer pool is full")
					break
				}
			}
		}
		log.Printf("storectl: demo workload finished in %v", time.Since(start))
	}

	if err := bpm.FlushAllPages(); err != nil {
		log.Printf("storectl: error flushing pages: %v", err)
	}

	if *diagAddr == "" {
		log.Println("storectl: no diagnostics address configured, exiting")
		return
	}

	log.Println("storectl: serving diagnostics, press Ctrl+C to exit")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("storectl: shutting down")
	if err := bpm.FlushAllPages(); err != nil {
		log.Printf("storectl: error flushing pages on shutdown: %v", err)
	}
}
