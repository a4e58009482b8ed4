// Package cli implements the chronicle command line interface: flushing log
// entries, managing table partitions and converting legacy change payloads.
package cli
