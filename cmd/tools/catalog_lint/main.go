package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/noah-isme/capquote/internal/catalog"
	"github.com/noah-isme/capquote/internal/pricing"
)

// catalog_lint checks a catalog document for pricing defects.
// Exit code 0 = ok, 1 = violation, 2 = other error.
func main() {
	path := flag.String("path", "catalog/pricing.json", "catalog document to check")
	flag.Parse()

	entries, err := catalog.FileSource{Path: *path}.LoadCatalog(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog_lint error: %v\n", err)
		os.Exit(2)
	}
	if _, err := pricing.NewTable(entries); err != nil {
		fmt.Fprintf(os.Stderr, "catalog_lint error: %v\n", err)
		os.Exit(2)
	}
	violations := pricing.Lint(entries)
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "VIOLATION %s %s: %s\n", v.Kind, v.Key, v.Detail)
		}
		os.Exit(1)
	}
	fmt.Printf("catalog_lint: OK (%d entries)\n", len(entries))
}
