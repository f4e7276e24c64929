package main

import (
	"fmt"
	"os"

	"bookie/services/api/internal/apidoc"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := apidoc.Load(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := doc.Validate(); err != nil {
		exitErr(err)
	}
	fmt.Printf("OpenAPI check passed (%d operations).\n", len(doc.Operations()))
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, "OpenAPI check failed:")
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
