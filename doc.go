// Package costcollector gathers cost optimization data from an AWS
// account by driving the aws command line tool, and rolls the results up
// into a plain text analysis report.
//
// Every query goes through the aws CLI rather than an SDK client. That
// keeps credentials, profiles and SSO handling entirely in the tool the
// operator already has configured.
//
// Invoking the Tool
//
// An Invoker runs one command at a time and holds the tool to a simple
// contract: a non-zero exit is an *ExecutionError carrying the command
// and its stderr, and output that is not a JSON object is a
// *MalformedOutputError. Empty output is an empty Document.
//
// Paginated queries go through a Paginator, which keeps re-issuing the
// same command with the last continuation token until a page comes back
// without one. Pages may be empty and still carry a token; only the
// token decides when to stop.
//
// Collectors and Artifacts
//
// A Collector builds a few commands, runs them and reshapes the result
// into a JSON artifact. Create an Expedition and call Start to run some
// or all of them. Artifacts land in the data directory, one file per
// collector, replacing whatever was there before.
//
// The Report
//
// An Aggregator reads the artifacts back and renders the analysis. Any
// artifact may be missing, truncated or shaped differently than
// expected; the Aggregator substitutes a default for whatever it cannot
// read and always produces a complete report.
//
// Sample
//
// Below is a sample main package that runs every collector for one
// region and writes the report.
//
//   package main
//
//   import (
//   	"fmt"
//   	"github.com/GESkunkworks/costcollector"
//   )
//
//   func main() {
//   	cfg, err := costcollector.LoadConfig("")
//   	if err != nil { panic(err) }
//   	exp, err := costcollector.New(cfg.ExpeditionInput(nil))
//   	if err != nil { panic(err) }
//   	err = exp.Start()
//   	if err != nil { panic(err) }
//   	err = exp.ExportReport()
//   	if err != nil { panic(err) }
//   	fmt.Println(exp.Artifacts)
//   }
package costcollector
