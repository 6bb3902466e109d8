// Command ibarrow-query runs a single SQL statement and writes the result
// as an Arrow IPC stream to a file or stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/thomazyujibaba/ibarrow"
	"github.com/thomazyujibaba/ibarrow/stream"
)

func main() {
	var (
		driver    = flag.String("driver", "pgx", "database/sql driver name")
		dsn       = flag.String("dsn", os.Getenv("IBARROW_DSN"), "data source name")
		out       = flag.String("o", "-", "output file, - for stdout")
		batchSize = flag.Int("batch-size", ibarrow.DefaultBatchSize, "rows per record batch")
		summarize = flag.Bool("summary", false, "print schema and row count to stderr")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ibarrow-query [flags] <sql>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *dsn == "" {
		log.Fatal("No dsn given (use -dsn or IBARROW_DSN)")
	}

	cfg := ibarrow.DefaultConfig()
	cfg.BatchSize = *batchSize

	conn, err := ibarrow.Open(context.Background(), *driver, *dsn, &cfg)
	if err != nil {
		log.Fatalf("Failed to open data source: %v", err)
	}
	defer conn.Close()

	payload, err := conn.QueryIPC(context.Background(), flag.Arg(0))
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	if *summarize {
		schema, records, err := stream.ReadAll(payload, nil)
		if err != nil {
			log.Fatalf("Re-reading stream: %v", err)
		}
		rows := int64(0)
		for _, rec := range records {
			rows += rec.NumRows()
			rec.Release()
		}
		fmt.Fprintf(os.Stderr, "%s\n%d rows in %d batches, %d bytes\n",
			schema, rows, len(records), len(payload))
	}

	if *out == "-" {
		if _, err := os.Stdout.Write(payload); err != nil {
			log.Fatalf("Writing stream: %v", err)
		}
		return
	}
	if err := os.WriteFile(*out, payload, 0o644); err != nil {
		log.Fatalf("Writing %s: %v", *out, err)
	}
}
