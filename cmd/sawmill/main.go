// sawmill runs document pipelines defined in YAML.
//
// Usage:
//
//	sawmill validate -p pipeline.yaml
//	sawmill run -p pipeline.yaml [-i docs.jsonl]
//	sawmill serve -p pipeline.yaml --nats-url nats://localhost:4222
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
